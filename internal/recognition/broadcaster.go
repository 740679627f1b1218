package recognition

import (
	"sync"

	"github.com/kozaktomas/facepass/internal/constants"
)

// Event is a progress notification sent to session listeners.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Session event types.
const (
	EventVote    = "vote"
	EventVerdict = "verdict"
)

// broadcaster fans events out to listeners. Slow listeners miss events rather
// than block the session.
type broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
	closed    bool
}

// AddListener registers a listener. The channel is closed when the session finishes.
func (b *broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes ch.
func (b *broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) send(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// closeWith delivers the last event and closes every listener.
func (b *broadcaster) closeWith(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
		}
		close(listener)
	}
	b.listeners = nil
	b.closed = true
}
