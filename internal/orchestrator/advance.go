package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/louisbranch/ensemble/internal/scenario"
)

// Mode selects how the orchestrator paces steps.
type Mode string

const (
	// ModeUnattended runs every step back to back.
	ModeUnattended Mode = "unattended"
	// ModeStepped suspends after each resolved step and blocks on the
	// configured Advancer before dispatching the next; the first step runs
	// unprompted.
	ModeStepped Mode = "stepped"
)

// Advancer gates step execution in stepped mode. Advance blocks until the
// operator releases the next step or ctx is cancelled.
type Advancer interface {
	Advance(ctx context.Context, next scenario.Step) error
}

// AutoAdvancer releases every step immediately.
type AutoAdvancer struct{}

func (AutoAdvancer) Advance(context.Context, scenario.Step) error { return nil }

// ChannelAdvancer releases steps when Release is called. Repeated releases
// before the orchestrator reaches the gate collapse into one.
type ChannelAdvancer struct {
	signals chan struct{}
}

func NewChannelAdvancer() *ChannelAdvancer {
	return &ChannelAdvancer{signals: make(chan struct{}, 1)}
}

// Release queues one advance signal.
func (a *ChannelAdvancer) Release() {
	select {
	case a.signals <- struct{}{}:
	default:
	}
}

func (a *ChannelAdvancer) Advance(ctx context.Context, _ scenario.Step) error {
	select {
	case <-a.signals:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReaderAdvancer prompts on out and releases a step per line read from in.
// The CLI wires stdin and stderr here.
type ReaderAdvancer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewReaderAdvancer(in io.Reader, out io.Writer) *ReaderAdvancer {
	return &ReaderAdvancer{in: bufio.NewReader(in), out: out}
}

func (a *ReaderAdvancer) Advance(ctx context.Context, next scenario.Step) error {
	if a.out != nil {
		fmt.Fprintf(a.out, "step %d (%s) ready; press enter to run: ", next.Index+1, next.Name)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.in.ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
