package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/facepass/internal/ai"
	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/database/mariadb"
	"github.com/kozaktomas/facepass/internal/database/postgres"
	"github.com/kozaktomas/facepass/internal/database/sqlite"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/media"
)

// openStore connects to the backend named by DATABASE_URL and applies migrations.
// The returned close function releases the connection pool.
func openStore(ctx context.Context, cfg *config.Config) (database.IdentityWriter, func() error, error) {
	backend, dsn, err := cfg.Database.Backend()
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case config.BackendPostgres:
		fmt.Printf("Connecting to PostgreSQL database...\n")
		repo, pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repo, pool.Close, nil
	case config.BackendMariaDB:
		fmt.Printf("Connecting to MariaDB database...\n")
		repo, pool, err := mariadb.Open(ctx, &cfg.Database, dsn)
		if err != nil {
			return nil, nil, err
		}
		return repo, pool.Close, nil
	case config.BackendSQLite:
		fmt.Printf("Opening SQLite database %s...\n", dsn)
		store, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}

// newDetector returns the face descriptor client of the embedding service.
func newDetector(cfg *config.Config) *embedding.Client {
	return embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout)
}

// newExpressionClassifier returns the classifier selected by EXPRESSION_PROVIDER.
func newExpressionClassifier(ctx context.Context, cfg *config.Config) (embedding.ExpressionClassifier, error) {
	switch cfg.Expression.Provider {
	case config.ProviderOpenAI:
		return ai.NewOpenAIClassifier(cfg.Expression.OpenAIToken), nil
	case config.ProviderGemini:
		classifier, err := ai.NewGeminiClassifier(ctx, cfg.Expression.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini classifier: %w", err)
		}
		return classifier, nil
	default:
		return newDetector(cfg), nil
	}
}

// openFrameSource opens a frames directory when framesDir is set, the camera snapshot URL otherwise.
func openFrameSource(cfg *config.Config, framesDir string, loop bool) (media.Source, error) {
	if framesDir != "" {
		return media.OpenDirectory(framesDir, loop), nil
	}
	if cfg.Media.CameraSnapshotURL == "" {
		return nil, fmt.Errorf("%w: set CAMERA_SNAPSHOT_URL or pass --frames", media.ErrDeviceUnavailable)
	}
	return media.OpenSnapshot(cfg.Media.CameraSnapshotURL, &http.Client{Timeout: cfg.Embedding.Timeout}), nil
}

func newProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
