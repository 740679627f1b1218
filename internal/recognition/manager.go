package recognition

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kozaktomas/facepass/internal/clock"
)

// Manager keeps the sessions started through the HTTP API. Each session runs
// on its own goroutine; finished sessions are dropped after the retention period.
type Manager struct {
	sessions  *xsync.MapOf[string, *Session]
	retention time.Duration
	clock     clock.Clock
}

func NewManager(retention time.Duration, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		sessions:  xsync.NewMapOf[string, *Session](),
		retention: retention,
		clock:     clk,
	}
}

// Start registers s and runs it in the background. The session is detached
// from ctx cancellation; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, s *Session) {
	m.evict()
	m.sessions.Store(s.ID, s)
	go func() {
		_, _ = s.Run(context.WithoutCancel(ctx))
	}()
}

// Get returns the session with id, or nil.
func (m *Manager) Get(id string) *Session {
	s, ok := m.sessions.Load(id)
	if !ok {
		return nil
	}
	return s
}

// Cancel stops the session with id. It returns false for unknown ids.
func (m *Manager) Cancel(id string) bool {
	s := m.Get(id)
	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	return m.sessions.Size()
}

// CancelAll stops every running session.
func (m *Manager) CancelAll() {
	m.sessions.Range(func(_ string, s *Session) bool {
		s.Cancel()
		return true
	})
}

func (m *Manager) evict() {
	cutoff := m.clock.Now().Add(-m.retention)
	m.sessions.Range(func(id string, s *Session) bool {
		if s.finishedBefore(cutoff) {
			m.sessions.Delete(id)
		}
		return true
	})
}
