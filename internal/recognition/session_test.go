package recognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facepass/internal/clock"
	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/embedding/embeddingtest"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/media"
)

var (
	carolFrame    = embeddingtest.JPEG(40)
	strangerFrame = embeddingtest.JPEG(200)
	emptyFrame    = embeddingtest.JPEG(0)
)

// sequenceSource plays frames in order and then a face-less frame forever.
type sequenceSource struct {
	mu     sync.Mutex
	frames [][]byte
	grabs  int
	closed bool
	onGrab func(n int)
}

func (s *sequenceSource) Await(context.Context) error { return nil }
func (s *sequenceSource) State() media.State          { return media.Ready }
func (s *sequenceSource) Dimensions() (int, int)      { return 8, 8 }

func (s *sequenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sequenceSource) Grab(context.Context) ([]byte, error) {
	s.mu.Lock()
	n := s.grabs
	s.grabs++
	frame := emptyFrame
	if n < len(s.frames) {
		frame = s.frames[n]
	}
	s.mu.Unlock()
	if s.onGrab != nil {
		s.onGrab(n + 1)
	}
	return frame, nil
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

func newTestSession(t *testing.T, src media.Source, opts ...SessionOption) (*Session, *clock.Instant) {
	t.Helper()
	det := embeddingtest.NewDetector()
	det.Set(carolFrame, embedding.Descriptor{0, 0})
	det.Set(strangerFrame, embedding.Descriptor{10, 10})

	matcher := facematch.NewExact([]facematch.DescriptorSet{
		{Label: "carol", Descriptors: []embedding.Descriptor{{0, 0}}},
	}, 0.5, embedding.Euclidean)

	clk := clock.NewInstant(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts = append([]SessionOption{WithClock(clk)}, opts...)
	return NewSession(src, det, matcher, DefaultOptions, opts...), clk
}

func TestSession_ConfirmsAfterThirtyVotes(t *testing.T) {
	src := &sequenceSource{frames: repeat(carolFrame, 40)}
	rec := &events.Recorder{}
	s, _ := newTestSession(t, src, WithPublisher(rec))

	verdict, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, verdict.Outcome)
	assert.Equal(t, "carol", verdict.Label)
	assert.Zero(t, verdict.Distance)
	assert.Equal(t, map[string]int{"carol": 30}, verdict.Votes)
	assert.Equal(t, 30, src.grabs)
	assert.True(t, src.closed)

	published := rec.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.RecognitionVerdict, published[0].Type)
	assert.Equal(t, s.ID, published[0].Key)
}

func TestSession_UnknownWinsAfterFiftyVotes(t *testing.T) {
	frames := append(repeat(carolFrame, 29), repeat(strangerFrame, 60)...)
	src := &sequenceSource{frames: frames}
	s, _ := newTestSession(t, src)

	verdict, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, verdict.Outcome)
	assert.Equal(t, constants.UnknownLabel, verdict.Label)
	assert.Equal(t, map[string]int{"carol": 29, constants.UnknownLabel: 50}, verdict.Votes)
	assert.Equal(t, 79, src.grabs)
}

func TestSession_FacelessFramesDoNotVote(t *testing.T) {
	var frames [][]byte
	for range 30 {
		frames = append(frames, emptyFrame, carolFrame)
	}
	src := &sequenceSource{frames: frames}
	s, _ := newTestSession(t, src)

	verdict, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, verdict.Outcome)

	snap := s.Snapshot()
	assert.Equal(t, 60, snap.Frames)
	assert.Equal(t, 30, snap.Faces)
	assert.Equal(t, "carol (0.00)", snap.LastMatch)
	require.NotNil(t, snap.Verdict)
	assert.Equal(t, OutcomeConfirmed, snap.Status)
	assert.NotNil(t, snap.FinishedAt)
}

func TestSession_Timeout(t *testing.T) {
	src := &sequenceSource{frames: repeat(carolFrame, 5)}
	s, clk := newTestSession(t, src)

	verdict, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRecognitionTimeout)
	assert.Equal(t, OutcomeTimeout, verdict.Outcome)
	assert.Empty(t, verdict.Label)
	assert.Equal(t, map[string]int{"carol": 5}, verdict.Votes)
	assert.NotEmpty(t, verdict.Error)
	assert.Equal(t, 600, src.grabs)
	assert.Equal(t, 60*time.Second, clk.Waited())
}

func TestSession_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sequenceSource{frames: repeat(carolFrame, 100)}
	src.onGrab = func(n int) {
		if n == 10 {
			cancel()
		}
	}
	s, _ := newTestSession(t, src)

	verdict, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, verdict.Outcome)
	assert.Equal(t, 10, src.grabs)
	assert.LessOrEqual(t, verdict.Votes["carol"], 10)
	assert.True(t, src.closed)
}

func TestSession_CancelBeforeRun(t *testing.T) {
	src := &sequenceSource{frames: repeat(carolFrame, 100)}
	s, _ := newTestSession(t, src)
	s.Cancel()

	verdict, err := s.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, verdict.Outcome)
	assert.Zero(t, src.grabs)
}

func TestSession_DeviceFailure(t *testing.T) {
	src := media.NewPushSource(1)
	require.NoError(t, src.Push(carolFrame))
	s, _ := newTestSession(t, src)

	src.Close()
	verdict, err := s.Run(context.Background())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	assert.Equal(t, OutcomeFailed, verdict.Outcome)
}

func TestSession_Listeners(t *testing.T) {
	src := &sequenceSource{frames: repeat(carolFrame, 30)}
	s, _ := newTestSession(t, src)
	ch := s.AddListener()

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	var received []Event
	for ev := range ch {
		received = append(received, ev)
	}
	require.Len(t, received, 31)
	assert.Equal(t, EventVote, received[0].Type)
	assert.Equal(t, EventVerdict, received[30].Type)

	vote, ok := received[29].Data.(VoteEvent)
	require.True(t, ok)
	assert.Equal(t, 30, vote.Votes["carol"])

	late := s.AddListener()
	_, open := <-late
	assert.False(t, open)
}

func TestSession_SourceNeverReady(t *testing.T) {
	s, _ := newTestSession(t, media.NewPushSource(1))

	verdict, err := s.Run(context.Background())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	assert.Equal(t, OutcomeFailed, verdict.Outcome)
}

func TestSession_TimeoutWhileWaitingForFrames(t *testing.T) {
	src := media.NewPushSource(1)
	require.NoError(t, src.Push(emptyFrame))

	opts := DefaultOptions
	opts.Timeout = 50 * time.Millisecond
	det := embeddingtest.NewDetector()
	s := NewSession(src, det, facematch.NewExact(nil, 0.5, nil), opts)

	verdict, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRecognitionTimeout)
	assert.Equal(t, OutcomeTimeout, verdict.Outcome)
}
