package roomfakes

import (
	"context"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
)

// Adaptor implements client.Adaptor against the in-memory fake server.
type Adaptor struct {
	server *Server
	name   string
}

// NewAdaptor binds a named participant to the fake server.
func (s *Server) NewAdaptor(name string) *Adaptor {
	return &Adaptor{server: s, name: name}
}

// Adaptors builds one adaptor per name, keyed by name.
func (s *Server) Adaptors(names []string) map[string]client.Adaptor {
	adaptors := make(map[string]client.Adaptor, len(names))
	for _, name := range names {
		adaptors[name] = s.NewAdaptor(name)
	}
	return adaptors
}

func (a *Adaptor) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.server.connect(a.name)
}

func (a *Adaptor) CreateRoom(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.server.createRoom(a.name)
}

func (a *Adaptor) Join(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.server.join(a.name, code)
}

func (a *Adaptor) Move(ctx context.Context, dir client.Direction, hold time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.server.move(a.name, dir, hold)
}

func (a *Adaptor) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.server.disconnect(a.name)
}

func (a *Adaptor) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.server.reconnect(a.name)
}

func (a *Adaptor) Snapshot() client.Session {
	return a.server.snapshot(a.name)
}

func (a *Adaptor) View() client.RoomView {
	return &view{server: a.server, observer: a.name}
}

// view is the observer-relative replicated read surface.
type view struct {
	server   *Server
	observer string
}

func (v *view) Members(ctx context.Context, code string) ([]client.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.server.members(v.observer, code), nil
}

func (v *view) RoomExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return v.server.roomExists(v.observer, code), nil
}
