// Package enrollment persists identities and their face samples atomically.
package enrollment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/metrics"
)

// MaxNameBytes is the longest accepted name after normalization.
const MaxNameBytes = constants.MaxNameLength

var tracer = otel.Tracer("github.com/kozaktomas/facepass/internal/enrollment")

// Coordinator validates enrollment requests and runs them against the store.
type Coordinator struct {
	store      database.IdentityWriter
	publisher  events.Publisher
	maxSamples int
	logger     *slog.Logger
}

type Option func(*Coordinator)

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithMaxSamples limits the number of samples per enrollment.
func WithMaxSamples(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSamples = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(store database.IdentityWriter, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		publisher:  events.Nop{},
		maxSamples: constants.DefaultMaxSamples,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is a committed enrollment.
type Result struct {
	Identity database.Identity
	Samples  []database.FaceSample
}

// Enroll creates an identity named name with one sample per image. Either all
// rows are committed or none are. A name that is taken, including by a
// concurrent enrollment, yields database.ErrDuplicateIdentity.
func (c *Coordinator) Enroll(ctx context.Context, name string, samples [][]byte) (*Result, error) {
	name, err := validateName(name)
	if err != nil {
		metrics.Enrollments.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := c.validateSamples(samples); err != nil {
		metrics.Enrollments.WithLabelValues("invalid").Inc()
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "enrollment.enroll")
	defer span.End()
	span.SetAttributes(attribute.Int("enrollment.samples", len(samples)))

	result, err := c.enroll(ctx, name, samples)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, database.ErrDuplicateIdentity) {
			metrics.Enrollments.WithLabelValues("duplicate").Inc()
		} else {
			metrics.Enrollments.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.Enrollments.WithLabelValues("ok").Inc()
	metrics.SamplesStored.Add(float64(len(result.Samples)))
	c.logger.Info("identity enrolled", "identity_id", result.Identity.ID, "samples", len(result.Samples))

	c.publish(ctx, events.New(events.IdentityEnrolled, name, map[string]any{
		"identity_id": result.Identity.ID,
		"name":        result.Identity.Name,
		"samples":     len(result.Samples),
	}))
	return result, nil
}

func (c *Coordinator) enroll(ctx context.Context, name string, samples [][]byte) (*Result, error) {
	tx, err := c.store.BeginEnroll(ctx, name)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer tx.Rollback()

	existing, err := tx.GetIdentityByName(ctx, name)
	if err != nil {
		return nil, storageErr("lookup identity", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", database.ErrDuplicateIdentity, name)
	}

	identity, err := tx.InsertIdentity(ctx, name)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateIdentity) {
			return nil, fmt.Errorf("%w: %q", database.ErrDuplicateIdentity, name)
		}
		return nil, storageErr("insert identity", err)
	}

	result := &Result{Identity: *identity, Samples: make([]database.FaceSample, 0, len(samples))}
	for i, img := range samples {
		sample, err := tx.InsertSample(ctx, identity.ID, img)
		if err != nil {
			return nil, storageErr(fmt.Sprintf("insert sample %d", i+1), err)
		}
		result.Samples = append(result.Samples, *sample)
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, database.ErrDuplicateIdentity) {
			return nil, fmt.Errorf("%w: %q", database.ErrDuplicateIdentity, name)
		}
		return nil, storageErr("commit", err)
	}
	return result, nil
}

// AddSample appends one sample to an enrolled identity. It returns
// database.ErrIdentityNotFound when name is not enrolled.
func (c *Coordinator) AddSample(ctx context.Context, name string, sample []byte) (*database.FaceSample, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if err := validateSample(1, sample); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "enrollment.add_sample")
	defer span.End()

	stored, err := c.store.AddSample(ctx, name, sample)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, database.ErrIdentityNotFound) {
			return nil, fmt.Errorf("%w: %q", database.ErrIdentityNotFound, name)
		}
		return nil, storageErr("add sample", err)
	}

	metrics.SamplesStored.Inc()
	c.publish(ctx, events.New(events.SampleAdded, name, map[string]any{
		"sample_id":   stored.ID,
		"identity_id": stored.IdentityID,
		"name":        name,
	}))
	return stored, nil
}

// Exists reports whether name, after normalization, is enrolled.
func (c *Coordinator) Exists(ctx context.Context, name string) (bool, error) {
	name, err := validateName(name)
	if err != nil {
		return false, err
	}
	identity, err := c.store.GetIdentityByName(ctx, name)
	if err != nil {
		return false, storageErr("lookup identity", err)
	}
	return identity != nil, nil
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	if err := c.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

// validateName normalizes name and checks it can be stored.
func validateName(name string) (string, error) {
	name = facematch.NormalizeName(name)
	switch {
	case name == "":
		return "", invalid("name", "must not be empty")
	case len(name) > MaxNameBytes:
		return "", invalid("name", "must be at most %d bytes, got %d", MaxNameBytes, len(name))
	case name == constants.UnknownLabel:
		return "", invalid("name", "%q is reserved", name)
	}
	return name, nil
}

func (c *Coordinator) validateSamples(samples [][]byte) error {
	if len(samples) == 0 {
		return invalid("samples", "at least one sample is required")
	}
	if len(samples) > c.maxSamples {
		return invalid("samples", "at most %d samples are allowed, got %d", c.maxSamples, len(samples))
	}
	for i, sample := range samples {
		if err := validateSample(i+1, sample); err != nil {
			return err
		}
	}
	return nil
}

func validateSample(n int, sample []byte) error {
	if len(sample) == 0 {
		return invalid("sample", "sample %d is empty", n)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(sample))
	if err != nil || format != "jpeg" {
		return invalid("sample", "sample %d is not a JPEG image", n)
	}
	return nil
}
