package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
)

// fakeRoomServer speaks the adaptor's wire protocol over real websocket
// connections. Session state survives connection drops so reconnect keeps
// room membership.
type fakeRoomServer struct {
	t          *testing.T
	signingKey []byte

	mu       sync.Mutex
	codeSeq  int
	rooms    map[string][]string
	sessions map[string]*wireSession
}

func newFakeRoomServer(t *testing.T) *fakeRoomServer {
	return &fakeRoomServer{
		t:        t,
		rooms:    make(map[string][]string),
		sessions: make(map[string]*wireSession),
	}
}

func (s *fakeRoomServer) start() *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.serve(conn)
	}))
	s.t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func (s *fakeRoomServer) serve(conn *websocket.Conn) {
	defer conn.Close()
	var name string
	for {
		var raw struct {
			Type      string          `json:"type"`
			RequestID string          `json:"requestId"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			s.mu.Lock()
			if sess, ok := s.sessions[name]; ok {
				sess.Connected = false
			}
			s.mu.Unlock()
			return
		}

		ack := s.handle(&name, raw.Type, raw.Payload)
		if err := conn.WriteJSON(serverEnvelope{
			Type:      "ack",
			RequestID: raw.RequestID,
			Payload:   mustMarshal(s.t, ack),
		}); err != nil {
			return
		}
	}
}

func (s *fakeRoomServer) handle(name *string, typ string, payload json.RawMessage) ackPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case "hello":
		var hello helloPayload
		if err := json.Unmarshal(payload, &hello); err != nil {
			return rejected("SCENARIO_INVALID", "bad hello")
		}
		if len(s.signingKey) > 0 {
			subject, _, err := GrantSubject(s.signingKey, hello.Grant)
			if err != nil || subject != hello.Name {
				return rejected("CONNECTION_FAILED", "grant rejected")
			}
		}
		*name = hello.Name
		sess, ok := s.sessions[hello.Name]
		if !ok {
			sess = &wireSession{ID: fmt.Sprintf("s-%d", len(s.sessions)+1), Name: hello.Name}
			s.sessions[hello.Name] = sess
		}
		sess.Connected = true
		copied := *sess
		return ackPayload{OK: true, Session: &copied}
	case "create_room":
		sess := s.sessions[*name]
		s.codeSeq++
		code := fmt.Sprintf("ROOM-%03d", s.codeSeq)
		s.rooms[code] = []string{*name}
		sess.Room = code
		sess.Creator = true
		copied := *sess
		return ackPayload{OK: true, Code: code, Session: &copied, Room: s.roomStateLocked(code)}
	case "join_room":
		var join joinPayload
		if err := json.Unmarshal(payload, &join); err != nil {
			return rejected("SCENARIO_INVALID", "bad join")
		}
		if len(s.signingKey) > 0 {
			subject, room, err := GrantSubject(s.signingKey, join.Grant)
			if err != nil || subject != *name || room != join.Code {
				return rejected("CONNECTION_FAILED", "grant rejected")
			}
		}
		members, ok := s.rooms[join.Code]
		if !ok {
			return rejected("ROOM_NOT_FOUND", fmt.Sprintf("room %s does not exist", join.Code))
		}
		sess := s.sessions[*name]
		s.rooms[join.Code] = append(members, *name)
		sess.Room = join.Code
		copied := *sess
		return ackPayload{OK: true, Session: &copied, Room: s.roomStateLocked(join.Code)}
	case "move":
		var move movePayload
		if err := json.Unmarshal(payload, &move); err != nil {
			return rejected("SCENARIO_INVALID", "bad move")
		}
		sess := s.sessions[*name]
		if move.Direction == "right" {
			sess.X += float64(move.HoldMs) / 10
		}
		copied := *sess
		return ackPayload{OK: true, Session: &copied}
	case "room_query":
		var query roomQueryPayload
		if err := json.Unmarshal(payload, &query); err != nil {
			return rejected("SCENARIO_INVALID", "bad query")
		}
		return ackPayload{OK: true, Room: s.roomStateLocked(query.Code)}
	}
	return rejected("SCENARIO_INVALID", "unknown type "+typ)
}

func (s *fakeRoomServer) roomStateLocked(code string) *roomState {
	members, ok := s.rooms[code]
	state := &roomState{Code: code, Exists: ok}
	for _, member := range members {
		if sess, ok := s.sessions[member]; ok {
			state.Members = append(state.Members, *sess)
		}
	}
	return state
}

func rejected(code, message string) ackPayload {
	return ackPayload{Error: &wireError{Code: code, Message: message}}
}

func mustMarshal(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func testAdaptor(t *testing.T, server *httptest.Server, name string, key []byte) *Adaptor {
	t.Helper()
	adaptor, err := New(Config{
		URL:            wsURL(server),
		Name:           name,
		SigningKey:     key,
		RequestTimeout: 2 * time.Second,
		DialBackoff:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return adaptor
}

func TestConnectCreateJoinRoundTrip(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", nil)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !alice.Snapshot().Connected {
		t.Fatal("session not marked connected")
	}

	code, err := alice.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if code == "" {
		t.Fatal("CreateRoom returned empty code")
	}
	if got := alice.Snapshot(); got.Room != code || !got.Creator {
		t.Fatalf("session = %+v, want creator member of %s", got, code)
	}

	bob := testAdaptor(t, server, "bob", nil)
	if err := bob.Connect(ctx); err != nil {
		t.Fatalf("Connect bob: %v", err)
	}
	if err := bob.Join(ctx, code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	members, err := bob.View().Members(ctx, code)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", nil)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := alice.Join(ctx, "ROOM-999")
	if !errors.IsCode(err, errors.CodeRoomNotFound) {
		t.Fatalf("Join error = %v, want ROOM_NOT_FOUND", err)
	}
}

func TestMoveWhileDisconnectedFailsWithoutWire(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()

	alice := testAdaptor(t, server, "alice", nil)
	err := alice.Move(context.Background(), client.DirectionRight, 100*time.Millisecond)
	if !errors.IsCode(err, errors.CodeInvalidState) {
		t.Fatalf("Move error = %v, want INVALID_STATE", err)
	}
}

func TestMoveUpdatesSessionPosition(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", nil)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := alice.CreateRoom(ctx); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := alice.Move(ctx, client.DirectionRight, 500*time.Millisecond); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := alice.Snapshot().Position.X; got != 50 {
		t.Fatalf("position x = %.1f, want 50", got)
	}
}

func TestDisconnectReconnectKeepsRoom(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", nil)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	code, err := alice.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := alice.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if alice.Snapshot().Connected {
		t.Fatal("session still marked connected after disconnect")
	}
	if err := alice.Disconnect(ctx); !errors.IsCode(err, errors.CodeInvalidState) {
		t.Fatalf("second Disconnect error = %v, want INVALID_STATE", err)
	}

	if err := alice.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	got := alice.Snapshot()
	if !got.Connected {
		t.Fatal("session not reconnected")
	}
	if got.Room != code {
		t.Fatalf("room after reconnect = %q, want %q", got.Room, code)
	}
}

func TestConnectRetriesUntilDeadline(t *testing.T) {
	adaptor, err := New(Config{
		URL:         "ws://127.0.0.1:1",
		Name:        "alice",
		DialBackoff: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = adaptor.Connect(ctx)
	if !errors.IsCode(err, errors.CodeConnectionFailed) {
		t.Fatalf("Connect error = %v, want CONNECTION_FAILED", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("Connect gave up after %s without retrying to the deadline", elapsed)
	}
}

func TestJoinGrantsVerifiedByServer(t *testing.T) {
	key := []byte("test-signing-key")
	fake := newFakeRoomServer(t)
	fake.signingKey = key
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", key)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect with grant: %v", err)
	}
	code, err := alice.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	bob := testAdaptor(t, server, "bob", key)
	if err := bob.Connect(ctx); err != nil {
		t.Fatalf("Connect bob: %v", err)
	}
	if err := bob.Join(ctx, code); err != nil {
		t.Fatalf("Join with grant: %v", err)
	}

	// A client without the key is refused at hello.
	mallory := testAdaptor(t, server, "mallory", []byte("wrong-key"))
	if err := mallory.Connect(ctx); !errors.IsCode(err, errors.CodeConnectionFailed) {
		t.Fatalf("Connect with bad key error = %v, want CONNECTION_FAILED", err)
	}
}

func TestGrantSubjectRoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	grant, err := mintGrant(key, "alice", "ROOM-001", time.Minute)
	if err != nil {
		t.Fatalf("mintGrant: %v", err)
	}
	name, room, err := GrantSubject(key, grant)
	if err != nil {
		t.Fatalf("GrantSubject: %v", err)
	}
	if name != "alice" || room != "ROOM-001" {
		t.Fatalf("claims = %s/%s, want alice/ROOM-001", name, room)
	}

	if _, _, err := GrantSubject([]byte("other-key"), grant); err == nil {
		t.Fatal("GrantSubject accepted a grant signed with a different key")
	}
}

func TestRoomExistsFallsBackToQuery(t *testing.T) {
	fake := newFakeRoomServer(t)
	server := fake.start()
	ctx := context.Background()

	alice := testAdaptor(t, server, "alice", nil)
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	exists, err := alice.View().RoomExists(ctx, "ROOM-404")
	if err != nil {
		t.Fatalf("RoomExists: %v", err)
	}
	if exists {
		t.Fatal("RoomExists = true for unknown room")
	}
}
