package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/facepass/internal/constants"
)

const (
	snapshotProbeAttempts = 3
	snapshotProbeDelay    = 500 * time.Millisecond
)

// SnapshotSource grabs frames from an IP camera that serves a still image per GET.
type SnapshotSource struct {
	*readiness

	url    string
	client *http.Client

	closeOnce sync.Once
	stop      context.CancelFunc
}

// OpenSnapshot acquires a snapshot camera. The source is Uninitialized until a
// probe request returns a decodable frame.
func OpenSnapshot(url string, client *http.Client) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SnapshotSource{
		readiness: newReadiness(),
		url:       url,
		client:    client,
		stop:      cancel,
	}
	go s.probe(ctx)
	return s
}

func (s *SnapshotSource) probe(ctx context.Context) {
	var lastErr error
	for attempt := 0; attempt < snapshotProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				s.markFailed(ctx.Err())
				return
			case <-time.After(snapshotProbeDelay):
			}
		}
		data, err := s.fetch(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		_, w, h, err := NormalizeFrame(data)
		if err != nil {
			lastErr = err
			continue
		}
		s.markReady(w, h)
		return
	}
	s.markFailed(lastErr)
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (s *SnapshotSource) Grab(ctx context.Context) ([]byte, error) {
	if s.State() != Ready {
		return nil, fmt.Errorf("%w: camera is %s", ErrDeviceUnavailable, s.State())
	}
	data, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	frame, _, _, err := NormalizeFrame(data)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *SnapshotSource) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		s.markFailed(errClosed)
	})
	return nil
}
