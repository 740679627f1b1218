package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var errClosed = errors.New("source closed")

var frameExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// DirectorySource replays image files from a directory in lexical order.
type DirectorySource struct {
	*readiness

	mu     sync.Mutex
	paths  []string
	next   int
	loop   bool
	closed bool
}

// OpenDirectory acquires a directory of frames. It is Ready immediately when
// the directory holds at least one decodable image and Failed otherwise.
// With loop set, replay starts over after the last frame.
func OpenDirectory(dir string, loop bool) *DirectorySource {
	s := &DirectorySource{readiness: newReadiness(), loop: loop}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.markFailed(fmt.Errorf("read frames directory: %w", err))
		return s
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(frameExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			s.paths = append(s.paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(s.paths) == 0 {
		s.markFailed(fmt.Errorf("no frames in %s", dir))
		return s
	}

	data, err := os.ReadFile(s.paths[0])
	if err != nil {
		s.markFailed(err)
		return s
	}
	_, w, h, err := NormalizeFrame(data)
	if err != nil {
		s.markFailed(fmt.Errorf("%s: %w", s.paths[0], err))
		return s
	}
	s.markReady(w, h)
	return s
}

func (s *DirectorySource) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed || s.State() != Ready {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: directory source is %s", ErrDeviceUnavailable, s.State())
	}
	if s.next >= len(s.paths) {
		if !s.loop {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: frames exhausted", ErrDeviceUnavailable)
		}
		s.next = 0
	}
	path := s.paths[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	frame, _, _, err := NormalizeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// Len returns the number of frames found.
func (s *DirectorySource) Len() int {
	return len(s.paths)
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.markFailed(errClosed)
	return nil
}
