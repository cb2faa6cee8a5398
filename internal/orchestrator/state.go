package orchestrator

import (
	"fmt"
	"sync"

	"github.com/louisbranch/ensemble/internal/errors"
)

// runState carries the bindings discovered while a plan executes. Scenario
// files reference rooms by alias; the join code only exists once the
// create_room action has run, so the run binds aliases to codes here.
//
// State is per-run: concurrent runs use separate orchestrator instances and
// never share it.
type runState struct {
	mu    sync.Mutex
	rooms map[string]string // alias -> join code
}

func newRunState() *runState {
	return &runState{rooms: map[string]string{}}
}

func (s *runState) bindRoom(alias, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[alias] = code
}

func (s *runState) roomCode(alias string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.rooms[alias]
	if !ok {
		return "", errors.WithMetadata(errors.CodeScenarioInvalid,
			fmt.Sprintf("room alias %q is not bound; no create_room step has run for it", alias),
			map[string]string{"room": alias})
	}
	return code, nil
}
