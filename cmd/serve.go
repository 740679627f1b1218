package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/descriptors"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/media"
	"github.com/kozaktomas/facepass/internal/telemetry"
	"github.com/kozaktomas/facepass/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Facepass HTTP API.
The API enrolls identities from uploaded images and runs recognition sessions
against pushed frames or the configured camera.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags, falling back to WEB_PORT and WEB_HOST
// when the flags were not given explicitly.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if !cmd.Flags().Changed("port") && os.Getenv("WEB_PORT") != "" {
		port = cfg.Web.Port
	}
	if !cmd.Flags().Changed("host") && os.Getenv("WEB_HOST") != "" {
		host = cfg.Web.Host
	}
	return port, host
}

// galleryLoader rebuilds descriptor sets from storage on every recognition request,
// so identities enrolled since startup are recognized.
func galleryLoader(store database.IdentityReader, builder *descriptors.Builder) func(ctx context.Context) ([]facematch.DescriptorSet, error) {
	return func(ctx context.Context) ([]facematch.DescriptorSet, error) {
		sets, stats, err := builder.Load(ctx, store)
		if err != nil {
			return nil, err
		}
		if stats.Failed > 0 {
			fmt.Printf("Warning: %d identities skipped while building descriptors\n", stats.Failed)
		}
		return sets, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	publisher, err := events.NewPublisher(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()
	if len(cfg.Kafka.Brokers) > 0 {
		fmt.Printf("Publishing events to Kafka topic %s\n", cfg.Kafka.Topic)
	}

	detector := newDetector(cfg)
	builder := descriptors.NewBuilder(detector, descriptors.WithWorkers(cfg.Cache.Workers))

	deps := web.Deps{
		Store:     store,
		Detector:  detector,
		Publisher: publisher,
		Gallery:   galleryLoader(store, builder),
	}
	if cfg.Media.CameraSnapshotURL != "" {
		fmt.Printf("Camera snapshots from %s\n", cfg.Media.CameraSnapshotURL)
		deps.Camera = func() (media.Source, error) {
			return openFrameSource(cfg, "", false)
		}
	}

	port, host := resolveServeHostPort(cmd, cfg)
	server := web.NewServer(cfg, host, port, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facepass API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
