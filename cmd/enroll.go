package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/enrollment"
	"github.com/kozaktomas/facepass/internal/events"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <file> [file...]",
	Short: "Enroll an identity from JPEG files",
	Long: `Enroll a new identity with one or more JPEG sample images.

The identity and all samples are stored atomically: if any sample fails to
store, nothing is kept. Enrolling a name that already exists fails.

Example:
  facepass enroll alice neutral.jpg happy.jpg surprised.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

var addSampleCmd = &cobra.Command{
	Use:   "add-sample <name> <file>",
	Short: "Add a sample image to an existing identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddSample,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(addSampleCmd)
}

// newCoordinator wires the enrollment coordinator with the configured event publisher.
func newCoordinator(cfg *config.Config, store database.IdentityWriter) (*enrollment.Coordinator, func() error, error) {
	publisher, err := events.NewPublisher(cfg.Kafka)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	coordinator := enrollment.NewCoordinator(store,
		enrollment.WithPublisher(publisher),
		enrollment.WithMaxSamples(cfg.Enrollment.MaxSamples),
	)
	return coordinator, publisher.Close, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := args[0]
	files := args[1:]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	bar := newProgressBar(len(files), "Reading", "files")
	samples := make([][]byte, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", file, err)
		}
		samples = append(samples, data)
		bar.Add(1)
	}
	fmt.Println()

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore()

	coordinator, closePublisher, err := newCoordinator(cfg, store)
	if err != nil {
		return err
	}
	defer closePublisher()

	result, err := coordinator.Enroll(ctx, name, samples)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	fmt.Printf("Enrolled %s (id %d) with %d sample(s)\n", result.Identity.Name, result.Identity.ID, len(result.Samples))
	return nil
}

func runAddSample(cmd *cobra.Command, args []string) error {
	name, file := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	image, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", file, err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore()

	coordinator, closePublisher, err := newCoordinator(cfg, store)
	if err != nil {
		return err
	}
	defer closePublisher()

	sample, err := coordinator.AddSample(ctx, name, image)
	if err != nil {
		return fmt.Errorf("failed to add sample: %w", err)
	}

	fmt.Printf("Added %s to %s as sample %d\n", filepath.Base(file), name, sample.ID)
	return nil
}
