// Package media provides frame sources (cameras, replayed files, pushed uploads).
// A source is acquired first and becomes usable only after it reports Ready.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facepass/internal/clock"
)

// ErrDeviceUnavailable is returned when a source never becomes ready, fails, or is closed.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// State is the readiness of a source.
type State int

const (
	Uninitialized State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source produces JPEG frames.
type Source interface {
	// Await blocks until the source leaves Uninitialized. It returns nil when the
	// source is Ready and an error wrapping ErrDeviceUnavailable when it failed.
	Await(ctx context.Context) error
	State() State
	// Dimensions of the frames, known once Ready.
	Dimensions() (width, height int)
	// Grab returns the next frame as JPEG.
	Grab(ctx context.Context) ([]byte, error)
	Close() error
}

// readiness is the Uninitialized -> Ready | Failed state machine shared by sources.
type readiness struct {
	mu     sync.RWMutex
	state  State
	err    error
	width  int
	height int
	done   chan struct{}
}

func newReadiness() *readiness {
	return &readiness{done: make(chan struct{})}
}

// markReady moves to Ready. It has no effect once the state is settled.
func (r *readiness) markReady(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Uninitialized {
		return
	}
	r.state, r.width, r.height = Ready, width, height
	close(r.done)
}

// markFailed moves to Failed from any state.
func (r *readiness) markFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Failed {
		return
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	wasPending := r.state == Uninitialized
	r.state, r.err = Failed, err
	if wasPending {
		close(r.done)
	}
}

func (r *readiness) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *readiness) Dimensions() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.width, r.height
}

// failure returns the error for a failed source, nil otherwise.
func (r *readiness) failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == Failed {
		return r.err
	}
	return nil
}

func (r *readiness) Await(ctx context.Context) error {
	select {
	case <-r.done:
		return r.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitReady waits at most timeout, measured on clk, for src to become Ready.
// Every outcome other than Ready is reported as ErrDeviceUnavailable, except
// cancellation of ctx which returns ctx.Err().
func AwaitReady(ctx context.Context, src Source, clk clock.Clock, timeout time.Duration) error {
	switch src.State() {
	case Ready:
		return nil
	case Failed:
		return fmt.Errorf("%w: source failed", ErrDeviceUnavailable)
	}

	awaitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- src.Await(awaitCtx) }()

	select {
	case err := <-result:
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	case <-clk.After(timeout):
		if src.State() == Ready {
			return nil
		}
		return fmt.Errorf("%w: not ready after %s", ErrDeviceUnavailable, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
