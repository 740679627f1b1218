package media

import (
	"context"
	"fmt"
	"sync"
)

// PushSource receives frames pushed by a client, such as a browser uploading
// webcam stills. It becomes Ready with the first accepted frame.
type PushSource struct {
	*readiness

	frames chan []byte

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
}

// NewPushSource creates a source buffering up to buffer frames. When the
// buffer is full the oldest frame is dropped.
func NewPushSource(buffer int) *PushSource {
	if buffer < 1 {
		buffer = 1
	}
	return &PushSource{
		readiness: newReadiness(),
		frames:    make(chan []byte, buffer),
		stopped:   make(chan struct{}),
	}
}

// Push validates and enqueues a frame.
func (s *PushSource) Push(data []byte) error {
	frame, w, h, err := NormalizeFrame(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, errClosed)
	}
	for {
		select {
		case s.frames <- frame:
			s.markReady(w, h)
			return nil
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// Grab blocks until a pushed frame is available.
func (s *PushSource) Grab(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.stopped:
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, errClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PushSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopped)
	s.markFailed(errClosed)
	return nil
}
