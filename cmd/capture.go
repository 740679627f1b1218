package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepass/internal/capture"
	"github.com/kozaktomas/facepass/internal/config"
)

var captureCmd = &cobra.Command{
	Use:   "capture <name>",
	Short: "Capture expression samples from the camera and enroll them",
	Long: `Guide a person through the configured facial expressions, capturing one
frame per expression from the camera, then enroll the frames under <name>.

Frames come from CAMERA_SNAPSHOT_URL, or from a directory of images with --frames.
Prompts are printed to stdout.

Example:
  facepass capture alice
  facepass capture alice --frames ./recorded --save ./samples`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().String("frames", "", "Read frames from this directory instead of the camera")
	captureCmd.Flags().String("save", "", "Also write the captured frames to this directory")
}

func runCapture(cmd *cobra.Command, args []string) error {
	name := args[0]
	framesDir := mustGetString(cmd, "frames")
	saveDir := mustGetString(cmd, "save")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Fail before asking anyone to pull faces at the camera.
	exists, err := coordinator.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check identity: %w", err)
	}
	if exists {
		return fmt.Errorf("identity %q already exists", name)
	}

	classifier, err := newExpressionClassifier(ctx, cfg)
	if err != nil {
		return err
	}

	source, err := openFrameSource(cfg, framesDir, true)
	if err != nil {
		return err
	}
	defer source.Close()

	controller := capture.NewController(source, classifier,
		capture.WriterPrompter{W: os.Stdout},
		capture.WithTimings(capture.TimingsFromConfig(cfg)),
		capture.WithMinFrameDistance(cfg.Capture.MinDistance),
	)

	expressions := capture.FromConfig(cfg.Capture.Expressions)
	fmt.Printf("Capturing %d expression(s) for %s\n", len(expressions), name)

	frames, err := controller.Capture(ctx, expressions)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	if saveDir != "" {
		if err := saveFrames(saveDir, name, expressions, frames); err != nil {
			return err
		}
	}

	result, err := coordinator.Enroll(ctx, name, frames)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	fmt.Printf("Enrolled %s (id %d) with %d sample(s)\n", result.Identity.Name, result.Identity.ID, len(result.Samples))
	return nil
}

func saveFrames(dir, name string, expressions []capture.Expression, frames [][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	for i, frame := range frames {
		path := filepath.Join(dir, fmt.Sprintf("%s-%02d-%s.jpg", name, i+1, expressions[i].Label))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}
	}
	fmt.Printf("Saved %d frame(s) to %s\n", len(frames), dir)
	return nil
}
