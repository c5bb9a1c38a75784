package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/mqtt"
	"github.com/stableguard/stableguard/internal/observability"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	broker := flag.String("broker", "", "broker URL, overrides mqtt.broker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.MQTT.LogFile), 0o755); err != nil {
		slog.Error("create log dir", "error", err)
		os.Exit(1)
	}
	f, err := os.OpenFile(cfg.MQTT.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("open event log", "path", cfg.MQTT.LogFile, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	l := mqtt.NewListener(cfg.MQTT, mqtt.NewRecorder(f))
	if err := l.Start(); err != nil {
		slog.Error("start mqtt listener", "error", err)
		os.Exit(1)
	}
	slog.Info("mqtt listener running", "broker", cfg.MQTT.Broker, "log_file", cfg.MQTT.LogFile)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Stop()
	slog.Info("mqtt listener stopped")
}
