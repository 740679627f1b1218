package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/descriptors"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Recognize the person in front of the camera",
	Long: `Build descriptor sets for every enrolled identity, then sample camera frames
and vote until one identity is confirmed, the face is declared unknown, or the
session times out.

Example:
  facepass recognize
  facepass recognize --frames ./recorded --threshold 0.45 -v`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().String("frames", "", "Read frames from this directory instead of the camera")
	recognizeCmd.Flags().Float64("threshold", 0, "Distance threshold (defaults to MATCH_THRESHOLD)")
	recognizeCmd.Flags().Int("confirm-votes", 0, "Votes needed to confirm an identity (defaults to RECOGNITION_CONFIRM_VOTES)")
	recognizeCmd.Flags().BoolP("verbose", "v", false, "Print every vote")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	framesDir := mustGetString(cmd, "frames")
	threshold := mustGetFloat64(cmd, "threshold")
	confirmVotes := mustGetInt(cmd, "confirm-votes")
	verbose := mustGetBool(cmd, "verbose")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if threshold == 0 {
		threshold = cfg.Matching.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	opts := recognition.OptionsFromConfig(cfg)
	if confirmVotes > 0 {
		opts.ConfirmVotes = confirmVotes
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore()

	detector := newDetector(cfg)
	sets, stats, err := descriptors.NewBuilder(detector, descriptors.WithWorkers(cfg.Cache.Workers)).Load(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to build descriptors: %w", err)
	}
	fmt.Printf("Loaded %d identities (%d samples)\n", stats.Built, stats.SamplesUsed)

	matcher, err := facematch.NewMatcher(sets, threshold, cfg.Matching.Metric, cfg.Matching.Index)
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()

	source, err := openFrameSource(cfg, framesDir, true)
	if err != nil {
		return err
	}

	session := recognition.NewSession(source, detector, matcher, opts, recognition.WithPublisher(publisher))
	if verbose {
		listener := session.AddListener()
		go func() {
			for event := range listener {
				if vote, ok := event.Data.(recognition.VoteEvent); ok {
					fmt.Printf("  vote: %-20s distance %.3f\n", vote.Label, vote.Distance)
				}
			}
		}()
	}

	fmt.Println("Look at the camera...")
	verdict, err := session.Run(ctx)

	switch verdict.Outcome {
	case recognition.OutcomeConfirmed:
		fmt.Printf("Recognized %s (distance %.3f, %d votes)\n", verdict.Label, verdict.Distance, verdict.Votes[verdict.Label])
	case recognition.OutcomeUnknown:
		fmt.Println("Face not recognized")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("recognition %s: %w", verdict.Outcome, err)
	}
	return nil
}
