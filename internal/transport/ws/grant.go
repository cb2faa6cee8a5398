package ws

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/louisbranch/ensemble/internal/errors"
)

// grantClaims is the claims shape carried by join grants.
type grantClaims struct {
	jwt.RegisteredClaims
	Room string `json:"room,omitempty"`
}

// mintGrant signs a short-lived HS256 token naming the client. room is empty
// on hello grants and carries the join code on join grants.
func mintGrant(key []byte, name, room string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Room: room,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(errors.CodeConnectionFailed, "sign join grant", err)
	}
	return signed, nil
}

// GrantSubject verifies a grant against key and returns the client name and
// room claim. Servers and tests use it to check what the adaptor minted.
func GrantSubject(key []byte, grant string) (name, room string, err error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return "", "", errors.New(errors.CodeConnectionFailed, "join grant is required")
	}

	var parsed grantClaims
	_, err = jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", "", errors.New(errors.CodeConnectionFailed, "join grant signature is invalid")
		}
		return "", "", errors.Wrap(errors.CodeConnectionFailed, "join grant is invalid", err)
	}
	if parsed.Subject == "" {
		return "", "", errors.New(errors.CodeConnectionFailed, "join grant subject is required")
	}
	return parsed.Subject, parsed.Room, nil
}
