package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facepass/internal/clock"
	"github.com/kozaktomas/facepass/internal/embedding/embeddingtest"
)

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeFrame(t *testing.T) {
	jpg := embeddingtest.JPEG(100)
	out, w, h, err := NormalizeFrame(jpg)
	require.NoError(t, err)
	assert.Equal(t, jpg, out)
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)

	out, w, h, err = NormalizeFrame(pngFrame(t, 12, 6))
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 12, w)
	assert.Equal(t, 6, h)

	_, _, _, err = NormalizeFrame([]byte("not an image"))
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "state(7)", State(7).String())
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), embeddingtest.JPEG(40), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), embeddingtest.JPEG(20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src := OpenDirectory(dir, false)
	defer src.Close()

	require.NoError(t, src.Await(context.Background()))
	assert.Equal(t, Ready, src.State())
	assert.Equal(t, 2, src.Len())
	w, h := src.Dimensions()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)

	first, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embeddingtest.JPEG(20), first)

	second, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embeddingtest.JPEG(40), second)

	_, err = src.Grab(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestDirectorySource_Loop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "only.jpg"), embeddingtest.JPEG(60), 0o644))

	src := OpenDirectory(dir, true)
	for range 3 {
		frame, err := src.Grab(context.Background())
		require.NoError(t, err)
		assert.Equal(t, embeddingtest.JPEG(60), frame)
	}

	require.NoError(t, src.Close())
	_, err := src.Grab(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestDirectorySource_Empty(t *testing.T) {
	src := OpenDirectory(t.TempDir(), true)
	assert.Equal(t, Failed, src.State())
	assert.ErrorIs(t, src.Await(context.Background()), ErrDeviceUnavailable)

	missing := OpenDirectory(filepath.Join(t.TempDir(), "missing"), true)
	assert.ErrorIs(t, missing.Await(context.Background()), ErrDeviceUnavailable)
}

func TestPushSource(t *testing.T) {
	src := NewPushSource(2)
	assert.Equal(t, Uninitialized, src.State())

	assert.Error(t, src.Push([]byte("garbage")))
	assert.Equal(t, Uninitialized, src.State())

	require.NoError(t, src.Push(embeddingtest.JPEG(20)))
	require.NoError(t, src.Await(context.Background()))
	assert.Equal(t, Ready, src.State())

	// Buffer of two keeps the newest frames.
	require.NoError(t, src.Push(embeddingtest.JPEG(40)))
	require.NoError(t, src.Push(embeddingtest.JPEG(60)))

	frame, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embeddingtest.JPEG(40), frame)
	frame, err = src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embeddingtest.JPEG(60), frame)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Grab(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.Grab(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, src.Push(embeddingtest.JPEG(80)), ErrDeviceUnavailable)
}

func TestPushSource_GrabWaitsForFrame(t *testing.T) {
	src := NewPushSource(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = src.Push(embeddingtest.JPEG(100))
	}()

	frame, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embeddingtest.JPEG(100), frame)
}

func TestSnapshotSource(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngFrame(t, 16, 10))
	}))
	defer server.Close()

	src := OpenSnapshot(server.URL, server.Client())
	defer src.Close()

	require.NoError(t, src.Await(context.Background()))
	w, h := src.Dimensions()
	assert.Equal(t, 16, w)
	assert.Equal(t, 10, h)

	frame, err := src.Grab(context.Background())
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, int32(2), requests.Load())
}

func TestSnapshotSource_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := OpenSnapshot(server.URL, server.Client())
	defer src.Close()

	err := src.Await(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, Failed, src.State())

	_, err = src.Grab(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestAwaitReady(t *testing.T) {
	clk := clock.NewInstant(time.Unix(0, 0))

	ready := NewPushSource(1)
	require.NoError(t, ready.Push(embeddingtest.JPEG(20)))
	assert.NoError(t, AwaitReady(context.Background(), ready, clk, time.Second))

	pending := NewPushSource(1)
	err := AwaitReady(context.Background(), pending, clk, time.Second)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	failed := OpenDirectory(t.TempDir(), false)
	err = AwaitReady(context.Background(), failed, clk, time.Second)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = AwaitReady(ctx, NewPushSource(1), clock.Real{}, time.Minute)
	assert.True(t, errors.Is(err, context.Canceled))
}
