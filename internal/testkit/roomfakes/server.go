// Package roomfakes provides an in-memory stand-in for the external room
// application: rooms with join codes, capacity limits, avatar movement
// under server authority, and configurable replication lag so polling
// validations are exercised honestly.
package roomfakes

import (
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
)

// DefaultCapacity is the room member limit when none is configured.
const DefaultCapacity = 32

// DefaultMoveSpeed is the avatar speed in units per second.
const DefaultMoveSpeed = 160.0

var colorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// Config tunes the fake server.
type Config struct {
	Capacity  int           // room member limit; DefaultCapacity when zero
	Lag       time.Duration // delay before a mutation is visible to observers
	MoveSpeed float64       // units per second; DefaultMoveSpeed when zero
}

// Server is the authoritative in-memory room state. Mutations apply
// immediately to authoritative state and become observer-visible only
// after the configured replication lag, modeled as timestamped state
// snapshots.
type Server struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	rooms    map[string]*room
	sessions map[string]*session
	history  []replicaSnapshot
	codeSeq  int
	colorSeq int

	joinDelays   map[string]time.Duration
	refuseServe  map[string]bool
	closedRooms  map[string]bool
	observerLags map[string]time.Duration
}

type room struct {
	code    string
	members []string // session names ordered by join time
}

type session struct {
	client.Session
	name string
}

// replicaSnapshot is a full copy of room state as of a mutation, visible to
// observers once lag has elapsed.
type replicaSnapshot struct {
	at    time.Time
	rooms map[string][]client.Session
}

// NewServer creates a fake room server.
func NewServer(cfg Config) *Server {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MoveSpeed <= 0 {
		cfg.MoveSpeed = DefaultMoveSpeed
	}
	s := &Server{
		cfg:          cfg,
		now:          time.Now,
		rooms:        map[string]*room{},
		sessions:     map[string]*session{},
		joinDelays:   map[string]time.Duration{},
		refuseServe:  map[string]bool{},
		closedRooms:  map[string]bool{},
		observerLags: map[string]time.Duration{},
	}
	s.recordSnapshotLocked()
	return s
}

// SetJoinDelay makes future join calls for the named client block for d
// before completing. Used to simulate stragglers.
func (s *Server) SetJoinDelay(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinDelays[name] = d
}

// SetRefuse makes future connect/join calls for the named client fail with
// a connection error.
func (s *Server) SetRefuse(name string, refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseServe[name] = refuse
}

// SetObserverLag overrides the replication lag for one observer.
func (s *Server) SetObserverLag(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observerLags[name] = d
}

// CloseRoom removes a room, simulating a lifecycle-policy closure.
func (s *Server) CloseRoom(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	s.closedRooms[code] = true
	s.recordSnapshotLocked()
}

func (s *Server) connect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuseServe[name] {
		return errors.WithMetadata(errors.CodeConnectionFailed,
			fmt.Sprintf("server refused connection for %s", name),
			map[string]string{"client": name})
	}
	sess, ok := s.sessions[name]
	if !ok {
		sess = &session{name: name}
		sess.ID = fmt.Sprintf("session-%d", len(s.sessions)+1)
		sess.Name = name
		sess.Color = colorPalette[s.colorSeq%len(colorPalette)]
		s.colorSeq++
		s.sessions[name] = sess
	}
	sess.Connected = true
	s.recordSnapshotLocked()
	return nil
}

func (s *Server) createRoom(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.connectedSessionLocked(name)
	if err != nil {
		return "", err
	}
	s.codeSeq++
	code := fmt.Sprintf("ROOM-%03d", s.codeSeq)
	s.rooms[code] = &room{code: code, members: []string{name}}
	sess.Room = code
	sess.Creator = true
	s.recordSnapshotLocked()
	return code, nil
}

func (s *Server) join(name, code string) error {
	s.mu.Lock()
	delay := s.joinDelays[name]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuseServe[name] {
		return errors.WithMetadata(errors.CodeConnectionFailed,
			fmt.Sprintf("server refused join for %s", name),
			map[string]string{"client": name})
	}
	sess, err := s.connectedSessionLocked(name)
	if err != nil {
		return err
	}
	target, ok := s.rooms[code]
	if !ok {
		return errors.WithMetadata(errors.CodeRoomNotFound,
			fmt.Sprintf("room %s does not exist", code),
			map[string]string{"room": code})
	}
	if len(target.members) >= s.cfg.Capacity {
		return errors.WithMetadata(errors.CodeRoomFull,
			fmt.Sprintf("room %s is at capacity (%d)", code, s.cfg.Capacity),
			map[string]string{"room": code})
	}
	for _, member := range target.members {
		if member == name {
			return nil // already a member
		}
	}
	target.members = append(target.members, name)
	sess.Room = code
	s.recordSnapshotLocked()
	return nil
}

func (s *Server) move(name string, dir client.Direction, hold time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.connectedSessionLocked(name)
	if err != nil {
		return err
	}
	dx, dy := dir.Vector()
	distance := s.cfg.MoveSpeed * hold.Seconds()
	sess.Position.X += dx * distance
	sess.Position.Y += dy * distance
	s.recordSnapshotLocked()
	return nil
}

func (s *Server) disconnect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok || !sess.Connected {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is not connected", name))
	}
	sess.Connected = false
	s.recordSnapshotLocked()
	return nil
}

func (s *Server) reconnect(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuseServe[name] {
		return errors.WithMetadata(errors.CodeConnectionFailed,
			fmt.Sprintf("server refused reconnect for %s", name),
			map[string]string{"client": name})
	}
	sess, ok := s.sessions[name]
	if !ok {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s has no session", name))
	}
	if sess.Connected {
		return errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is already connected", name))
	}
	sess.Connected = true
	s.recordSnapshotLocked()
	return nil
}

func (s *Server) snapshot(name string) client.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[name]; ok {
		return sess.Session
	}
	return client.Session{Name: name}
}

func (s *Server) connectedSessionLocked(name string) (*session, error) {
	sess, ok := s.sessions[name]
	if !ok || !sess.Connected {
		return nil, errors.New(errors.CodeInvalidState, fmt.Sprintf("%s is not connected", name))
	}
	return sess, nil
}

// recordSnapshotLocked captures the authoritative state as a replica
// snapshot observers converge to after lag.
func (s *Server) recordSnapshotLocked() {
	copied := replicaSnapshot{
		at:    s.now(),
		rooms: map[string][]client.Session{},
	}
	for code, r := range s.rooms {
		members := make([]client.Session, 0, len(r.members))
		for _, name := range r.members {
			if sess, ok := s.sessions[name]; ok {
				members = append(members, sess.Session)
			}
		}
		copied.rooms[code] = members
	}
	s.history = append(s.history, copied)

	// Bound the history: snapshots older than the largest lag can never be
	// observed again.
	maxLag := s.cfg.Lag
	for _, lag := range s.observerLags {
		if lag > maxLag {
			maxLag = lag
		}
	}
	cutoff := s.now().Add(-2 * maxLag).Add(-time.Second)
	trimmed := 0
	for trimmed < len(s.history)-1 && s.history[trimmed+1].at.Before(cutoff) {
		trimmed++
	}
	s.history = s.history[trimmed:]
}

// replicaLocked returns the newest snapshot visible to the observer.
func (s *Server) replicaLocked(observer string) replicaSnapshot {
	lag := s.cfg.Lag
	if override, ok := s.observerLags[observer]; ok {
		lag = override
	}
	horizon := s.now().Add(-lag)
	visible := s.history[0]
	for _, snap := range s.history {
		if snap.at.After(horizon) {
			break
		}
		visible = snap
	}
	return visible
}

func (s *Server) members(observer, code string) []client.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.replicaLocked(observer).rooms[code]
	return append([]client.Session(nil), members...)
}

func (s *Server) roomExists(observer, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replicaLocked(observer).rooms[code]
	return ok
}
