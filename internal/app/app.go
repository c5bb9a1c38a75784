// Package app holds the start-up wiring shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/internal/queue"
	"github.com/stableguard/stableguard/internal/storage"
)

// Init loads config, sets up logging and error reporting. The returned
// func flushes error reporting and belongs in a defer.
func Init(configPath, component string) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	flush, err := observability.InitSentry(cfg.Observability.SentryDSN, cfg.Observability.Release, cfg.Observability.Environment)
	if err != nil {
		slog.Warn("sentry disabled", "error", err)
	}
	slog.Info("starting "+component, "release", cfg.Observability.Release, "db_driver", cfg.Database.Driver)
	return cfg, flush, nil
}

// Inference returns the HTTP client, or the mock when ml.mock is set.
func Inference(cfg *config.Config) inference.Service {
	if cfg.ML.Mock {
		slog.Info("ml mock mode: deterministic fake inference")
		return inference.NewMock(cfg.ML.KnownActions)
	}
	return inference.NewClient(inference.ClientConfig{
		BaseURL:      cfg.ML.ServiceURL,
		Timeout:      cfg.ML.Timeout,
		KnownActions: cfg.ML.KnownActions,
		MaxFailures:  cfg.ML.BreakerFailures,
		OpenDuration: cfg.ML.BreakerOpen,
	})
}

// Core is what both the API and the worker analyze with.
type Core struct {
	Store    storage.Store
	Frames   storage.FrameStore
	ML       inference.Service
	Catalog  *identity.Catalog
	Analyzer *detection.Analyzer
}

func OpenCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	st, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	frames, err := storage.OpenFrames(ctx, cfg.Storage)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open frame storage: %w", err)
	}
	ml := Inference(cfg)
	catalog := identity.NewCatalog(st, cfg.Matching.CandidateCacheTTL)
	return &Core{
		Store:    st,
		Frames:   frames,
		ML:       ml,
		Catalog:  catalog,
		Analyzer: detection.NewAnalyzer(ml, catalog, cfg.Matching.Threshold, detection.MatchMode(cfg.Matching.Mode)),
	}, nil
}

// ConnectNATS returns nil producer and consumer when no URL is configured;
// the job queue then relies on polling alone.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig) (*queue.Producer, *queue.Consumer, error) {
	if cfg.URL == "" {
		slog.Info("nats disabled, workers poll only")
		return nil, nil, nil
	}
	producer, err := queue.NewProducer(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats producer: %w", err)
	}
	if err := producer.EnsureStreams(ctx); err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("ensure nats streams: %w", err)
	}
	consumer, err := queue.NewConsumer(cfg.URL)
	if err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("connect nats consumer: %w", err)
	}
	return producer, consumer, nil
}
