package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, flush, err := app.Init(*configPath, "camera ingestor")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flush()

	if len(cfg.Ingest.Cameras) == 0 {
		slog.Error("no cameras configured under ingest.cameras")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	frames, err := storage.OpenFrames(ctx, cfg.Storage)
	if err != nil {
		slog.Error("open frame storage", "error", err)
		os.Exit(1)
	}

	producer, consumer, err := app.ConnectNATS(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connect nats", "error", err)
		os.Exit(1)
	}
	var notifier ingest.Notifier
	if producer != nil {
		defer producer.Close()
		consumer.Close()
		notifier = producer
	}

	svc := ingest.NewService(st, frames, notifier, cfg.Worker.JobType, int64(cfg.Ingest.MaxFrameMiB)<<20)
	cameras := ingest.NewCameras(svc, cfg.Ingest)
	cameras.Start(ctx, cfg.Ingest.Cameras)
	slog.Info("camera ingestion started", "cameras", cameras.Running())

	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort)}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv.Handler = mux
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down ingestor...")
	cancel()
	cameras.StopAll()
	_ = metricsSrv.Close()
	slog.Info("ingestor stopped")
}
