package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/stableguard/stableguard/internal/api"
	"github.com/stableguard/stableguard/internal/api/handlers"
	"github.com/stableguard/stableguard/internal/api/ws"
	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/models"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, flush, err := app.Init(*configPath, "api")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.OpenCore(ctx, cfg)
	if err != nil {
		slog.Error("open core", "error", err)
		os.Exit(1)
	}
	defer core.Store.Close()

	producer, consumer, err := app.ConnectNATS(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connect nats", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	checks := []handlers.Check{
		{Name: "database", Ping: core.Store.Ping},
		{Name: "storage", Ping: core.Frames.Ping},
	}

	var notifier ingest.Notifier
	if producer != nil {
		defer producer.Close()
		defer consumer.Close()
		notifier = producer
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})

		// Detections made by workers reach browsers through the bus.
		err = consumer.ConsumeDetections(ctx, "api-detections", func(_ context.Context, msg jetstream.Msg) error {
			var d models.Detection
			if err := json.Unmarshal(msg.Data(), &d); err != nil {
				slog.Warn("drop undecodable detection message", "subject", msg.Subject(), "error", err)
				return nil
			}
			hub.BroadcastDetection(&d)
			return nil
		})
		if err != nil {
			slog.Warn("start detection consumer", "error", err)
		}
	}

	maxUpload := int64(cfg.Ingest.MaxFrameMiB) << 20
	router := api.NewRouter(api.RouterConfig{
		Store:            core.Store,
		Frames:           core.Frames,
		Horses:           identity.NewService(core.Store, core.Frames, core.ML, core.Catalog),
		Catalog:          core.Catalog,
		Analyzer:         core.Analyzer,
		Ingest:           ingest.NewService(core.Store, core.Frames, notifier, cfg.Worker.JobType, maxUpload),
		Hub:              hub,
		Checks:           checks,
		MaxUploadBytes:   maxUpload,
		UploadRatePerSec: cfg.Server.UploadRatePerSec,
		UploadBurst:      cfg.Server.UploadBurst,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
