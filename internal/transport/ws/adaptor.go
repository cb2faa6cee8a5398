// Package ws implements the client adaptor over the room application's
// websocket protocol. Messages travel in typed JSON envelopes; mutating
// requests carry a request id and block until the matching ack, while the
// server streams session and room state that the adaptor caches for its
// RoomView.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
)

// Config controls one adaptor's connection.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string
	// Name identifies the participant to the server.
	Name string
	// SigningKey, when set, enables HS256 join grants on hello and join
	// requests.
	SigningKey []byte
	// GrantTTL bounds grant validity. Zero means one minute.
	GrantTTL time.Duration
	// RequestTimeout bounds each request/ack round trip. Zero means ten
	// seconds.
	RequestTimeout time.Duration
	// DialBackoff is the pause between dial attempts. Zero means 200ms.
	DialBackoff time.Duration
}

// Adaptor drives one participant session over a websocket connection.
type Adaptor struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	session client.Session
	rooms   map[string]roomState
	pending map[string]chan serverEnvelope
	closed  chan struct{}
}

// New builds a disconnected adaptor. Connect establishes the session.
func New(cfg Config) (*Adaptor, error) {
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("invalid ws url: %s", cfg.URL))
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New(errors.CodeScenarioInvalid, "client name is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 200 * time.Millisecond
	}
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = time.Minute
	}
	return &Adaptor{
		cfg:     cfg,
		session: client.Session{Name: cfg.Name},
		rooms:   make(map[string]roomState),
	}, nil
}

// Connect dials the server and announces the participant. Dialing retries
// until ctx expires.
func (a *Adaptor) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	conn, err := a.dialWithRetry(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeConnectionFailed, fmt.Sprintf("dial %s", a.cfg.URL), err)
	}

	a.mu.Lock()
	a.conn = conn
	a.pending = make(map[string]chan serverEnvelope)
	a.closed = make(chan struct{})
	a.mu.Unlock()

	go a.readLoop(conn)

	hello := helloPayload{Name: a.cfg.Name}
	if len(a.cfg.SigningKey) > 0 {
		grant, err := mintGrant(a.cfg.SigningKey, a.cfg.Name, "", a.cfg.GrantTTL)
		if err != nil {
			a.teardown()
			return err
		}
		hello.Grant = grant
	}

	ack, err := a.request(ctx, "hello", hello)
	if err != nil {
		a.teardown()
		return err
	}
	a.mu.Lock()
	if ack.Session != nil {
		a.session = fromWire(*ack.Session)
	}
	a.session.Connected = true
	a.mu.Unlock()
	return nil
}

// CreateRoom creates a room and joins it as creator, returning the join code.
func (a *Adaptor) CreateRoom(ctx context.Context) (string, error) {
	ack, err := a.request(ctx, "create_room", nil)
	if err != nil {
		return "", err
	}
	if ack.Code == "" {
		return "", errors.New(errors.CodeConnectionFailed, "create_room ack carried no join code")
	}
	a.mu.Lock()
	if ack.Session != nil {
		a.session = fromWire(*ack.Session)
		a.session.Connected = true
	}
	if ack.Room != nil {
		a.rooms[ack.Room.Code] = *ack.Room
	}
	a.mu.Unlock()
	return ack.Code, nil
}

// Join joins the room identified by code.
func (a *Adaptor) Join(ctx context.Context, code string) error {
	payload := joinPayload{Code: code}
	if len(a.cfg.SigningKey) > 0 {
		grant, err := mintGrant(a.cfg.SigningKey, a.cfg.Name, code, a.cfg.GrantTTL)
		if err != nil {
			return err
		}
		payload.Grant = grant
	}

	ack, err := a.request(ctx, "join_room", payload)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if ack.Session != nil {
		a.session = fromWire(*ack.Session)
		a.session.Connected = true
	} else {
		a.session.Room = code
	}
	if ack.Room != nil {
		a.rooms[ack.Room.Code] = *ack.Room
	}
	a.mu.Unlock()
	return nil
}

// Move holds a directional input for the given duration. The request fails
// without touching the wire when the session is disconnected.
func (a *Adaptor) Move(ctx context.Context, dir client.Direction, hold time.Duration) error {
	a.mu.Lock()
	connected := a.conn != nil && a.session.Connected
	a.mu.Unlock()
	if !connected {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is not connected", a.cfg.Name))
	}

	ack, err := a.request(ctx, "move", movePayload{
		Direction: string(dir),
		HoldMs:    hold.Milliseconds(),
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	if ack.Session != nil {
		a.session = fromWire(*ack.Session)
		a.session.Connected = true
	}
	a.mu.Unlock()
	return nil
}

// Disconnect tears down the transport session. Cached session and room state
// survive for later inspection; the server keeps the participant a member.
func (a *Adaptor) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is not connected", a.cfg.Name))
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"), deadline)
	a.teardown()
	return nil
}

// Reconnect re-establishes the transport session under the same name. The
// server recognises the participant and restores its room membership.
func (a *Adaptor) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	connected := a.conn != nil
	a.mu.Unlock()
	if connected {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is already connected", a.cfg.Name))
	}
	return a.Connect(ctx)
}

// Snapshot returns a copy of the locally observed session state.
func (a *Adaptor) Snapshot() client.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// View returns the adaptor's replica-backed room view.
func (a *Adaptor) View() client.RoomView {
	return &view{adaptor: a}
}

func (a *Adaptor) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		case <-time.After(a.cfg.DialBackoff):
		}
	}
}

// readLoop consumes server frames until the connection drops, routing acks to
// their waiting requests and folding streamed state into the caches.
func (a *Adaptor) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			if a.conn == conn {
				a.connectionLostLocked()
			}
			a.mu.Unlock()
			return
		}
		var envelope serverEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		a.handleEnvelope(envelope)
	}
}

func (a *Adaptor) handleEnvelope(envelope serverEnvelope) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch envelope.Type {
	case "ack":
		if waiter, ok := a.pending[envelope.RequestID]; ok {
			delete(a.pending, envelope.RequestID)
			waiter <- envelope
		}
	case "session_state":
		var wire wireSession
		if json.Unmarshal(envelope.Payload, &wire) == nil && wire.Name == a.cfg.Name {
			connected := a.session.Connected
			a.session = fromWire(wire)
			a.session.Connected = connected
		}
	case "room_state":
		var state roomState
		if json.Unmarshal(envelope.Payload, &state) == nil && state.Code != "" {
			a.rooms[state.Code] = state
		}
	case "room_closed":
		var state roomState
		if json.Unmarshal(envelope.Payload, &state) == nil && state.Code != "" {
			a.rooms[state.Code] = roomState{Code: state.Code, Exists: false}
		}
	}
}

// request sends one correlated envelope and blocks until the matching ack,
// the request timeout, or ctx.
func (a *Adaptor) request(ctx context.Context, typ string, payload any) (ackPayload, error) {
	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return ackPayload{}, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("%s is not connected", a.cfg.Name))
	}
	requestID := uuid.NewString()
	waiter := make(chan serverEnvelope, 1)
	a.pending[requestID] = waiter
	closed := a.closed
	a.mu.Unlock()

	if err := conn.WriteJSON(clientEnvelope{Type: typ, RequestID: requestID, Payload: payload}); err != nil {
		a.abandon(requestID)
		return ackPayload{}, errors.Wrap(errors.CodeConnectionFailed, fmt.Sprintf("send %s", typ), err)
	}

	timer := time.NewTimer(a.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case envelope := <-waiter:
		var ack ackPayload
		if err := json.Unmarshal(envelope.Payload, &ack); err != nil {
			return ackPayload{}, errors.Wrap(errors.CodeConnectionFailed, fmt.Sprintf("decode %s ack", typ), err)
		}
		if !ack.OK {
			return ackPayload{}, ackError(typ, ack.Error)
		}
		return ack, nil
	case <-closed:
		a.abandon(requestID)
		return ackPayload{}, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("connection lost awaiting %s ack", typ))
	case <-timer.C:
		a.abandon(requestID)
		return ackPayload{}, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("no %s ack within %s", typ, a.cfg.RequestTimeout))
	case <-ctx.Done():
		a.abandon(requestID)
		return ackPayload{}, ctx.Err()
	}
}

func (a *Adaptor) abandon(requestID string) {
	a.mu.Lock()
	delete(a.pending, requestID)
	a.mu.Unlock()
}

func (a *Adaptor) teardown() {
	a.mu.Lock()
	conn := a.conn
	a.connectionLostLocked()
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// connectionLostLocked drops the connection, lowers the session flag and
// fails every in-flight request. Callers hold a.mu.
func (a *Adaptor) connectionLostLocked() {
	a.conn = nil
	a.session.Connected = false
	if a.closed != nil {
		close(a.closed)
		a.closed = nil
	}
	a.pending = nil
}

func ackError(typ string, wire *wireError) error {
	if wire == nil {
		return errors.New(errors.CodeUnknown, fmt.Sprintf("%s rejected without cause", typ))
	}
	return errors.New(errors.Code(wire.Code), wire.Message)
}

func fromWire(wire wireSession) client.Session {
	return client.Session{
		ID:        wire.ID,
		Name:      wire.Name,
		Color:     wire.Color,
		Position:  client.Position{X: wire.X, Y: wire.Y},
		Room:      wire.Room,
		Connected: wire.Connected,
		Creator:   wire.Creator,
	}
}

// view answers room queries from the streamed cache, falling back to a
// room_query request when the room has not been seen yet.
type view struct {
	adaptor *Adaptor
}

func (v *view) Members(ctx context.Context, code string) ([]client.Session, error) {
	state, err := v.roomState(ctx, code)
	if err != nil {
		return nil, err
	}
	if !state.Exists {
		return nil, errors.New(errors.CodeRoomNotFound, fmt.Sprintf("room %s does not exist", code))
	}
	members := make([]client.Session, 0, len(state.Members))
	for _, wire := range state.Members {
		members = append(members, fromWire(wire))
	}
	return members, nil
}

func (v *view) RoomExists(ctx context.Context, code string) (bool, error) {
	state, err := v.roomState(ctx, code)
	if err != nil {
		return false, err
	}
	return state.Exists, nil
}

func (v *view) roomState(ctx context.Context, code string) (roomState, error) {
	v.adaptor.mu.Lock()
	cached, ok := v.adaptor.rooms[code]
	connected := v.adaptor.conn != nil
	v.adaptor.mu.Unlock()
	if ok {
		return cached, nil
	}
	if !connected {
		return roomState{}, errors.New(errors.CodeInvalidState, "no cached room state while disconnected")
	}

	ack, err := v.adaptor.request(ctx, "room_query", roomQueryPayload{Code: code})
	if err != nil {
		return roomState{}, err
	}
	if ack.Room == nil {
		return roomState{Code: code, Exists: false}, nil
	}
	// Negative lookups stay uncached so a later poll can observe the room
	// appearing.
	if ack.Room.Exists {
		v.adaptor.mu.Lock()
		v.adaptor.rooms[ack.Room.Code] = *ack.Room
		v.adaptor.mu.Unlock()
	}
	return *ack.Room, nil
}
