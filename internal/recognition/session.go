// Package recognition confirms an identity from a live feed by accumulating
// per-frame match votes until one label crosses its threshold.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kozaktomas/facepass/internal/clock"
	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/media"
	"github.com/kozaktomas/facepass/internal/metrics"
)

// ErrRecognitionTimeout is returned when no label reaches its vote threshold in time.
var ErrRecognitionTimeout = errors.New("recognition timed out")

var tracer = otel.Tracer("github.com/kozaktomas/facepass/internal/recognition")

// Outcome is the state of a session.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Terminal reports whether the session has finished.
func (o Outcome) Terminal() bool {
	return o != OutcomeRunning
}

// Verdict is the result of a finished session. Votes is the tally at the time
// sampling stopped.
type Verdict struct {
	Outcome  Outcome        `json:"outcome"`
	Label    string         `json:"label,omitempty"`
	Distance float64        `json:"distance,omitempty"`
	Votes    map[string]int `json:"votes"`
	Error    string         `json:"error,omitempty"`
}

// VoteTally counts matches per label, including the unknown label.
type VoteTally map[string]int

// Options are the thresholds and cadence of a session.
type Options struct {
	ConfirmVotes int
	UnknownVotes int
	Interval     time.Duration
	Timeout      time.Duration
	ReadyTimeout time.Duration // for the source to become ready, before the session timeout starts
}

// DefaultOptions match the configuration defaults.
var DefaultOptions = Options{
	ConfirmVotes: constants.DefaultConfirmVotes,
	UnknownVotes: constants.DefaultUnknownVotes,
	Interval:     constants.DefaultSampleInterval,
	Timeout:      constants.DefaultRecognitionTimeout,
	ReadyTimeout: constants.DefaultMediaReadyTimeout,
}

// OptionsFromConfig reads the recognition and media settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConfirmVotes: cfg.Recognition.ConfirmVotes,
		UnknownVotes: cfg.Recognition.UnknownVotes,
		Interval:     cfg.Recognition.Interval,
		Timeout:      cfg.Recognition.Timeout,
		ReadyTimeout: cfg.Media.ReadyTimeout,
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string         `json:"id"`
	Status     Outcome        `json:"status"`
	Votes      map[string]int `json:"votes"`
	Frames     int            `json:"frames"`
	Faces      int            `json:"faces"`
	LastMatch  string         `json:"last_match,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Verdict    *Verdict       `json:"verdict,omitempty"`
}

// VoteEvent is the payload of a vote event.
type VoteEvent struct {
	Label    string         `json:"label"`
	Distance float64        `json:"distance"`
	Votes    map[string]int `json:"votes"`
}

// Session is one recognition attempt against a frozen gallery. It owns its
// tally and is driven by a single goroutine calling Run.
type Session struct {
	broadcaster

	ID string

	source    media.Source
	detector  embedding.Detector
	matcher   facematch.Matcher
	opts      Options
	clock     clock.Clock
	logger    *slog.Logger
	publisher events.Publisher

	mu         sync.RWMutex
	tally      VoteTally
	frames     int
	faces      int
	last       *facematch.Result
	status     Outcome
	verdict    *Verdict
	startedAt  time.Time
	finishedAt *time.Time
	cancel     context.CancelFunc
	cancelled  bool
}

type SessionOption func(*Session)

func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher publishes the verdict as a domain event.
func WithPublisher(p events.Publisher) SessionOption {
	return func(s *Session) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewSession creates a session reading frames from source. The session takes
// ownership of source and closes it when Run returns.
func NewSession(source media.Source, detector embedding.Detector, matcher facematch.Matcher, opts Options, sopts ...SessionOption) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		source:    source,
		detector:  detector,
		matcher:   matcher,
		opts:      opts,
		clock:     clock.Real{},
		logger:    slog.Default(),
		publisher: events.Nop{},
		tally:     make(VoteTally),
		status:    OutcomeRunning,
	}
	for _, opt := range sopts {
		opt(s)
	}
	s.startedAt = s.clock.Now()
	return s
}

// Source returns the frame source of the session.
func (s *Session) Source() media.Source {
	return s.source
}

// Status returns the current outcome, OutcomeRunning until Run returns.
func (s *Session) Status() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Cancel stops a running session. It is safe to call before Run and more than once.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:         s.ID,
		Status:     s.status,
		Votes:      maps.Clone(map[string]int(s.tally)),
		Frames:     s.frames,
		Faces:      s.faces,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	if s.last != nil {
		snap.LastMatch = s.last.String()
	}
	if s.verdict != nil {
		v := *s.verdict
		v.Votes = maps.Clone(v.Votes)
		snap.Verdict = &v
	}
	return snap
}

// Run samples frames every interval until a label crosses its threshold, the
// session times out, ctx is cancelled or the source fails. The error is nil
// for confirmed and unknown verdicts.
func (s *Session) Run(ctx context.Context) (Verdict, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.cancelled {
		cancel()
	}
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "recognition.session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	defer s.source.Close()

	verdict, err := s.run(ctx)
	if err != nil {
		verdict.Error = err.Error()
	}
	span.SetAttributes(attribute.String("recognition.outcome", string(verdict.Outcome)))
	s.finish(ctx, verdict)
	return verdict, err
}

func (s *Session) run(ctx context.Context) (Verdict, error) {
	if err := media.AwaitReady(ctx, s.source, s.clock, s.opts.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return s.verdictOf(OutcomeCancelled, facematch.Result{}), ctx.Err()
		}
		return s.verdictOf(OutcomeFailed, facematch.Result{}), err
	}

	deadline := s.clock.Now().Add(s.opts.Timeout)
	timeout := func() (Verdict, error) {
		return s.verdictOf(OutcomeTimeout, facematch.Result{}),
			fmt.Errorf("%w after %s", ErrRecognitionTimeout, s.opts.Timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return s.verdictOf(OutcomeCancelled, facematch.Result{}), err
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return timeout()
		}

		// A pushed source blocks in Grab until a client sends a frame.
		grabCtx, cancelGrab := context.WithTimeout(ctx, remaining)
		frame, err := s.source.Grab(grabCtx)
		cancelGrab()
		switch {
		case err == nil:
			if v, done := s.tick(ctx, frame); done {
				return v, nil
			}
		case ctx.Err() != nil:
			return s.verdictOf(OutcomeCancelled, facematch.Result{}), ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return timeout()
		case errors.Is(err, media.ErrDeviceUnavailable):
			return s.verdictOf(OutcomeFailed, facematch.Result{}), err
		default:
			metrics.RecognitionFrames.WithLabelValues("error").Inc()
			s.logger.Warn("frame grab failed", "session", s.ID, "error", err)
		}

		select {
		case <-s.clock.After(s.opts.Interval):
		case <-ctx.Done():
			return s.verdictOf(OutcomeCancelled, facematch.Result{}), ctx.Err()
		}
	}
}

// tick processes one frame and reports whether a threshold was crossed.
func (s *Session) tick(ctx context.Context, frame []byte) (Verdict, bool) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()

	desc, err := s.detector.Detect(ctx, frame)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFace) {
			metrics.RecognitionFrames.WithLabelValues("no_face").Inc()
		} else {
			metrics.RecognitionFrames.WithLabelValues("error").Inc()
			s.logger.Warn("face detection failed", "session", s.ID, "error", err)
		}
		return Verdict{}, false
	}

	result := s.matcher.Match(desc)
	metrics.RecognitionFrames.WithLabelValues("face").Inc()

	s.mu.Lock()
	s.faces++
	s.last = &result
	s.tally[result.Label]++
	count := s.tally[result.Label]
	votes := maps.Clone(map[string]int(s.tally))
	s.mu.Unlock()

	s.send(Event{Type: EventVote, Data: VoteEvent{Label: result.Label, Distance: result.Distance, Votes: votes}})

	switch {
	case result.Known() && count >= s.opts.ConfirmVotes:
		return s.verdictOf(OutcomeConfirmed, result), true
	case !result.Known() && count >= s.opts.UnknownVotes:
		return s.verdictOf(OutcomeUnknown, result), true
	}
	return Verdict{}, false
}

func (s *Session) verdictOf(outcome Outcome, result facematch.Result) Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := Verdict{Outcome: outcome, Votes: maps.Clone(map[string]int(s.tally))}
	if outcome == OutcomeConfirmed || outcome == OutcomeUnknown {
		v.Label = result.Label
		v.Distance = result.Distance
	}
	return v
}

func (s *Session) finish(ctx context.Context, verdict Verdict) {
	now := s.clock.Now()
	s.mu.Lock()
	s.status = verdict.Outcome
	s.verdict = &verdict
	s.finishedAt = &now
	s.mu.Unlock()

	metrics.RecognitionVerdicts.WithLabelValues(string(verdict.Outcome)).Inc()
	s.logger.Info("recognition finished", "session", s.ID, "outcome", verdict.Outcome, "label", verdict.Label)

	s.closeWith(Event{Type: EventVerdict, Data: verdict})

	ev := events.New(events.RecognitionVerdict, s.ID, verdict)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("publish verdict failed", "session", s.ID, "error", err)
	}
}

// finishedBefore reports whether the session ended before t.
func (s *Session) finishedBefore(t time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt != nil && s.finishedAt.Before(t)
}
