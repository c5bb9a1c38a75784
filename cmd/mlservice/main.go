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
	"time"

	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/mlserver"
	"github.com/stableguard/stableguard/internal/registry"
	"github.com/stableguard/stableguard/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, flush, err := app.Init(*configPath, "ml service")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flush()

	reg := registry.New(cfg.ML.Mock)
	var mock *inference.Mock
	if cfg.ML.Mock {
		slog.Info("mock mode: skipping model loading, serving deterministic fakes")
		mock = inference.NewMock(cfg.ML.KnownActions)
	} else {
		// Models load fully before the listener opens; swapping one means
		// editing config and restarting, then re-embedding every horse.
		start := time.Now()
		if err := vision.LoadModels(cfg.Models, cfg.ML.KnownActions, reg); err != nil {
			slog.Error("load models", "error", err)
			os.Exit(1)
		}
		defer vision.DestroyEnvironment()
		defer reg.Close()
		slog.Info("all models loaded", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Models.Port),
		Handler:     mlserver.New(reg, mock, cfg.Models.Device).Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("ml service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("ml service stopped")
}
