// Package descriptors turns stored face samples into per-identity descriptor sets.
package descriptors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/metrics"
)

// ErrNoIdentities is returned when nobody is enrolled, as opposed to identities
// that are enrolled but have no usable samples.
var ErrNoIdentities = errors.New("no identities enrolled")

var tracer = otel.Tracer("github.com/kozaktomas/facepass/internal/descriptors")

// Stats summarizes one build.
type Stats struct {
	Identities     int // identities in the input
	Built          int // identities with at least one descriptor
	Failed         int // identities skipped because of a malformed sample or detector error
	Excluded       int // identities whose samples all had no face
	SamplesUsed    int
	SamplesDropped int
	Duration       time.Duration
}

// Builder computes descriptor sets with a bounded worker pool.
type Builder struct {
	detector embedding.Detector
	workers  int
	logger   *slog.Logger
	progress func()
}

type Option func(*Builder)

// WithWorkers sets the number of identities processed concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithProgress registers a callback invoked once per finished identity.
func WithProgress(fn func()) Option {
	return func(b *Builder) { b.progress = fn }
}

func NewBuilder(detector embedding.Detector, opts ...Option) *Builder {
	b := &Builder{
		detector: detector,
		workers:  constants.WorkerPoolSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type identityResult struct {
	set     facematch.DescriptorSet
	used    int
	dropped int
	err     error
}

// Build computes one DescriptorSet per identity, keeping input order.
// Samples with no face are dropped. An identity whose sample is malformed or whose
// detection fails is skipped without affecting the others. Identities left with no
// descriptors are excluded. An empty input returns ErrNoIdentities.
func (b *Builder) Build(ctx context.Context, identities []database.IdentitySamples) ([]facematch.DescriptorSet, Stats, error) {
	stats := Stats{Identities: len(identities)}
	if len(identities) == 0 {
		return nil, stats, ErrNoIdentities
	}

	ctx, span := tracer.Start(ctx, "descriptors.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("identities", len(identities)))

	start := time.Now()
	results := make([]identityResult, len(identities))

	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup

	for i := range identities {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = b.buildIdentity(ctx, identities[i])
			if b.progress != nil {
				b.progress()
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, stats, err
	}

	var sets []facematch.DescriptorSet
	for i, r := range results {
		stats.SamplesUsed += r.used
		stats.SamplesDropped += r.dropped
		switch {
		case r.err != nil:
			stats.Failed++
			b.logger.Warn("skipping identity", "identity", identities[i].Identity.Name, "error", r.err)
		case len(r.set.Descriptors) == 0:
			stats.Excluded++
			b.logger.Warn("identity has no usable samples", "identity", identities[i].Identity.Name)
		default:
			stats.Built++
			sets = append(sets, r.set)
		}
	}
	if sets == nil {
		sets = []facematch.DescriptorSet{}
	}

	stats.Duration = time.Since(start)
	metrics.CacheBuildDuration.Observe(stats.Duration.Seconds())
	metrics.CacheSamples.WithLabelValues("used").Add(float64(stats.SamplesUsed))
	metrics.CacheSamples.WithLabelValues("dropped").Add(float64(stats.SamplesDropped))
	span.SetAttributes(attribute.Int("built", stats.Built), attribute.Int("samples_used", stats.SamplesUsed))

	return sets, stats, nil
}

func (b *Builder) buildIdentity(ctx context.Context, identity database.IdentitySamples) identityResult {
	r := identityResult{set: facematch.DescriptorSet{Label: identity.Identity.Name}}
	for _, sample := range identity.Samples {
		if err := ctx.Err(); err != nil {
			r.err = err
			return r
		}
		if _, _, err := image.DecodeConfig(bytes.NewReader(sample.Image)); err != nil {
			r.err = fmt.Errorf("sample %d: malformed image: %w", sample.ID, err)
			return r
		}

		d, err := b.detector.Detect(ctx, sample.Image)
		if errors.Is(err, embedding.ErrNoFace) {
			r.dropped++
			b.logger.Warn("no face in stored sample", "identity", identity.Identity.Name, "sample_id", sample.ID)
			continue
		}
		if err != nil {
			r.err = fmt.Errorf("sample %d: %w", sample.ID, err)
			return r
		}
		r.set.Descriptors = append(r.set.Descriptors, d)
		r.used++
	}
	return r
}

// Load reads every enrolled identity with its samples and builds descriptor sets.
func (b *Builder) Load(ctx context.Context, reader database.IdentityReader) ([]facematch.DescriptorSet, Stats, error) {
	identities, err := reader.LoadAllSamples(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load samples: %w", err)
	}
	return b.Build(ctx, identities)
}
