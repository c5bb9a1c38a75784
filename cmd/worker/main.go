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
	"runtime"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/internal/worker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, flush, err := app.Init(*configPath, "worker")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer flush()

	slog.Info("worker pool",
		"job_type", cfg.Worker.JobType,
		"workers", cfg.Worker.Concurrency,
		"cpu_cores", runtime.NumCPU(),
	)

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

	wcfg := worker.Config{JobType: cfg.Worker.JobType, PollInterval: cfg.Worker.PollInterval}
	var publisher worker.Publisher
	if producer != nil {
		defer producer.Close()
		defer consumer.Close()
		publisher = producer

		notices, stop, err := consumer.JobNotices(cfg.Worker.JobType)
		if err != nil {
			slog.Warn("job notices unavailable, polling only", "error", err)
		} else {
			defer stop()
			wcfg.Notices = notices
		}
	}

	proc := detection.NewFrameProcessor(core.Analyzer, core.Frames, core.Store)
	w := worker.New(core.Store, proc, publisher, wcfg)

	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(cfg.Worker.QueueStatsInterval).Do(reportQueueDepth, core.Store); err != nil {
		slog.Warn("schedule queue depth report", "error", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort)}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		metricsSrv.Handler = mux
		slog.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		w.RunPool(ctx, cfg.Worker.Concurrency)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	<-done
	_ = metricsSrv.Close()
	slog.Info("worker stopped")
}

func reportQueueDepth(queue storage.JobQueue) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := queue.CountJobs(ctx)
	if err != nil {
		slog.Warn("count jobs", "error", err)
		return
	}
	for _, s := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobDone, models.JobFailed} {
		observability.QueueDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
