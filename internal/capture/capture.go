// Package capture runs the expression-gated enrollment capture: the user is
// prompted for each expression in turn and a frame is kept once the classifier
// sees that expression.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/facepass/internal/clock"
	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/fingerprint"
	"github.com/kozaktomas/facepass/internal/media"
	"github.com/kozaktomas/facepass/internal/metrics"
)

var (
	// ErrCaptureTimeout is returned when an expression is not seen within the timeout.
	ErrCaptureTimeout = errors.New("expression capture timed out")
	// ErrNoExpressions is returned for an empty expression list.
	ErrNoExpressions = errors.New("no expressions to capture")
)

// Expression is one facial expression to capture.
type Expression struct {
	Label  string
	Prompt string
}

// FromConfig converts configured prompts to expressions.
func FromConfig(prompts []config.ExpressionPrompt) []Expression {
	out := make([]Expression, len(prompts))
	for i, p := range prompts {
		out[i] = Expression{Label: p.Label, Prompt: p.Prompt}
	}
	return out
}

// Prompter shows an expression prompt to the person being enrolled.
type Prompter interface {
	Prompt(ctx context.Context, expr Expression) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, expr Expression) error

func (f PrompterFunc) Prompt(ctx context.Context, expr Expression) error { return f(ctx, expr) }

// WriterPrompter prints prompts as lines of text.
type WriterPrompter struct {
	W io.Writer
}

func (p WriterPrompter) Prompt(_ context.Context, expr Expression) error {
	_, err := fmt.Fprintf(p.W, "%s\n", expr.Prompt)
	return err
}

// Timings are the waits of the capture loop.
type Timings struct {
	Interval     time.Duration // between polls
	Settle       time.Duration // after the prompt, before the first poll
	Cooldown     time.Duration // after a match, before the next prompt
	Timeout      time.Duration // per expression, measured from the first poll
	ReadyTimeout time.Duration // for the media source to become ready
}

// TimingsFromConfig reads the capture and media timings.
func TimingsFromConfig(cfg *config.Config) Timings {
	return Timings{
		Interval:     cfg.Capture.Interval,
		Settle:       cfg.Capture.Settle,
		Cooldown:     cfg.Capture.Cooldown,
		Timeout:      cfg.Capture.Timeout,
		ReadyTimeout: cfg.Media.ReadyTimeout,
	}
}

// DefaultTimings match the configuration defaults.
var DefaultTimings = Timings{
	Interval:     constants.DefaultSampleInterval,
	Settle:       constants.DefaultCaptureSettle,
	Cooldown:     constants.DefaultCaptureCooldown,
	Timeout:      constants.DefaultCaptureTimeout,
	ReadyTimeout: constants.DefaultMediaReadyTimeout,
}

// Controller captures one frame per expression from a media source.
type Controller struct {
	source     media.Source
	classifier embedding.ExpressionClassifier
	prompter   Prompter
	clock      clock.Clock
	timings    Timings
	logger     *slog.Logger

	// minDistance is the fewest differing fingerprint bits a capture needs
	// from every earlier capture. Zero disables the check.
	minDistance int
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithTimings(t Timings) Option {
	return func(ctl *Controller) { ctl.timings = t }
}

// WithMinFrameDistance rejects matching frames that are within d-1 fingerprint
// bits of a frame already captured in the same run, so a frozen feed or a held
// expression cannot supply two samples.
func WithMinFrameDistance(d int) Option {
	return func(ctl *Controller) { ctl.minDistance = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(ctl *Controller) {
		if logger != nil {
			ctl.logger = logger
		}
	}
}

func NewController(source media.Source, classifier embedding.ExpressionClassifier, prompter Prompter, opts ...Option) *Controller {
	c := &Controller{
		source:     source,
		classifier: classifier,
		prompter:   prompter,
		clock:      clock.Real{},
		timings:    DefaultTimings,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture returns one JPEG frame per expression, in the order given.
// The source must become ready first; otherwise nothing is prompted and the
// error wraps media.ErrDeviceUnavailable.
func (c *Controller) Capture(ctx context.Context, expressions []Expression) ([][]byte, error) {
	if len(expressions) == 0 {
		return nil, ErrNoExpressions
	}
	if err := media.AwaitReady(ctx, c.source, c.clock, c.timings.ReadyTimeout); err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, len(expressions))
	var seen []fingerprint.Hash
	for i, expr := range expressions {
		if err := c.prompter.Prompt(ctx, expr); err != nil {
			return nil, fmt.Errorf("prompt %q: %w", expr.Label, err)
		}
		if err := c.wait(ctx, c.timings.Settle); err != nil {
			return nil, err
		}

		frame, hash, err := c.awaitExpression(ctx, expr, seen)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		seen = append(seen, hash)
		c.logger.Info("expression captured", "expression", expr.Label, "index", i)

		if i < len(expressions)-1 {
			if err := c.wait(ctx, c.timings.Cooldown); err != nil {
				return nil, err
			}
		}
	}
	return frames, nil
}

// awaitExpression polls the source until the dominant expression equals expr.Label
// on a frame distinct from the seen ones.
func (c *Controller) awaitExpression(ctx context.Context, expr Expression, seen []fingerprint.Hash) ([]byte, fingerprint.Hash, error) {
	deadline := c.clock.Now().Add(c.timings.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if !c.clock.Now().Before(deadline) {
			metrics.CaptureFrames.WithLabelValues("timeout").Inc()
			return nil, 0, fmt.Errorf("%w: %q not seen within %s", ErrCaptureTimeout, expr.Label, c.timings.Timeout)
		}

		frame, err := c.source.Grab(ctx)
		switch {
		case err == nil:
			if c.matches(ctx, frame, expr.Label) {
				hash, distinct := c.distinct(frame, seen)
				if distinct {
					metrics.CaptureFrames.WithLabelValues("match").Inc()
					return frame, hash, nil
				}
				metrics.CaptureFrames.WithLabelValues("duplicate").Inc()
			}
		case ctx.Err() != nil:
			return nil, 0, ctx.Err()
		case errors.Is(err, media.ErrDeviceUnavailable):
			return nil, 0, err
		default:
			metrics.CaptureFrames.WithLabelValues("error").Inc()
			c.logger.Warn("frame grab failed", "error", err)
		}

		if err := c.wait(ctx, c.timings.Interval); err != nil {
			return nil, 0, err
		}
	}
}

func (c *Controller) matches(ctx context.Context, frame []byte, label string) bool {
	expressions, err := c.classifier.ClassifyExpression(ctx, frame)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFace) {
			metrics.CaptureFrames.WithLabelValues("no_face").Inc()
		} else {
			metrics.CaptureFrames.WithLabelValues("error").Inc()
			c.logger.Warn("expression classification failed", "error", err)
		}
		return false
	}
	dominant, _ := expressions.Dominant()
	if dominant != label {
		metrics.CaptureFrames.WithLabelValues("mismatch").Inc()
		return false
	}
	return true
}

// distinct fingerprints frame and compares it with the earlier captures.
// Frames that cannot be fingerprinted are accepted.
func (c *Controller) distinct(frame []byte, seen []fingerprint.Hash) (fingerprint.Hash, bool) {
	if c.minDistance <= 0 {
		return 0, true
	}
	hash, err := fingerprint.Compute(frame)
	if err != nil {
		c.logger.Warn("frame fingerprint failed", "error", err)
		return 0, true
	}
	return hash, !fingerprint.Near(hash, seen, c.minDistance-1)
}

func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
