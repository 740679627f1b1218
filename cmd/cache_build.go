package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/descriptors"
	"github.com/kozaktomas/facepass/internal/telemetry"
)

var cacheBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compute descriptor sets for every enrolled identity",
	Long: `Run face detection over every stored sample and report how many identities
and samples produced usable descriptors. Identities whose samples all lack a
detectable face are excluded from recognition.`,
	RunE: runCacheBuild,
}

func init() {
	cacheCmd.AddCommand(cacheBuildCmd)
	cacheBuildCmd.Flags().Int("workers", 0, "Concurrent detector calls (defaults to CACHE_WORKERS)")
}

func runCacheBuild(cmd *cobra.Command, args []string) error {
	workers := mustGetInt(cmd, "workers")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if workers <= 0 {
		workers = cfg.Cache.Workers
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore()

	identities, err := store.LoadAllSamples(ctx)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}
	if len(identities) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}

	total := 0
	for _, identity := range identities {
		total += len(identity.Samples)
	}
	fmt.Printf("Computing descriptors for %d identities (%d samples) with %d workers\n", len(identities), total, workers)

	bar := newProgressBar(len(identities), "Detecting", "identities")
	builder := descriptors.NewBuilder(newDetector(cfg),
		descriptors.WithWorkers(workers),
		descriptors.WithProgress(func() { bar.Add(1) }),
	)

	sets, stats, err := builder.Build(ctx, identities)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to build descriptors: %w", err)
	}

	fmt.Printf("\nBuilt %d of %d identities in %s\n", stats.Built, stats.Identities, stats.Duration.Round(time.Millisecond))
	fmt.Printf("  Samples used:    %d\n", stats.SamplesUsed)
	fmt.Printf("  Samples dropped: %d (no face)\n", stats.SamplesDropped)
	fmt.Printf("  Excluded:        %d (no usable samples)\n", stats.Excluded)
	fmt.Printf("  Failed:          %d\n", stats.Failed)
	for _, set := range sets {
		fmt.Printf("  %-24s %d descriptor(s)\n", set.Label, len(set.Descriptors))
	}
	return nil
}
