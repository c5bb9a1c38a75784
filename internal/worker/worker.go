// Package worker drains the ingestion job queue. Workers in any number of
// processes coordinate only through storage.JobQueue.ClaimJob.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/internal/storage"
)

// Processor turns one ingestion event into detections.
type Processor interface {
	Process(ctx context.Context, ev *models.IngestionEvent) ([]models.Detection, error)
}

// Publisher announces persisted detections. Publishing is best effort.
type Publisher interface {
	PublishDetection(ctx context.Context, d *models.Detection) error
}

type Config struct {
	JobType      string
	PollInterval time.Duration
	// Notices, when set, wakes an idle worker before PollInterval elapses.
	Notices <-chan struct{}
}

type Worker struct {
	queue     storage.JobQueue
	proc      Processor
	publisher Publisher
	cfg       Config
}

func New(queue storage.JobQueue, proc Processor, publisher Publisher, cfg Config) *Worker {
	if cfg.JobType == "" {
		cfg.JobType = models.JobTypeDetect
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{queue: queue, proc: proc, publisher: publisher, cfg: cfg}
}

// RunOnce claims and handles at most one job. It reports whether a job was
// claimed. A job that fails is not an error here: the failure is stored on
// the job and its event. Errors are returned only when the queue itself
// misbehaves.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimJob(ctx, w.cfg.JobType)
	if err != nil {
		return false, fmt.Errorf("claim %s job: %w", w.cfg.JobType, err)
	}
	if job == nil {
		return false, nil
	}
	log := slog.With("job_id", job.ID, "event_id", job.EventID, "attempt", job.Attempts)

	ev, err := w.queue.GetIngestionEvent(ctx, job.EventID)
	if errors.Is(err, storage.ErrNotFound) {
		reason := fmt.Sprintf("Missing event for job %d: event_id=%d", job.ID, job.EventID)
		log.Error("job references missing event")
		return true, w.fail(ctx, job, reason, errors.New(reason))
	}
	if err != nil {
		return true, w.fail(ctx, job, err.Error(), err)
	}

	start := time.Now()
	dets, err := w.process(ctx, ev)
	if err != nil {
		log.Warn("job failed", "camera_id", ev.CameraID, "error", err)
		return true, w.fail(ctx, job, err.Error(), err)
	}

	// Outcomes are written even when shutdown cancelled ctx mid-job so the
	// job never stays in processing.
	if err := w.queue.CompleteJob(context.WithoutCancel(ctx), job, dets); err != nil {
		log.Warn("commit job outcome", "camera_id", ev.CameraID, "error", err)
		if ferr := w.fail(ctx, job, err.Error(), err); ferr != nil {
			return true, fmt.Errorf("complete job %d: %w", job.ID, err)
		}
		return true, nil
	}
	observability.JobsProcessed.WithLabelValues(job.Type, string(models.JobDone)).Inc()
	log.Info("job done", "detections", len(dets), "elapsed", time.Since(start).Round(time.Millisecond))

	for i := range dets {
		detection.RecordCreated(&dets[i])
		if w.publisher == nil {
			continue
		}
		if err := w.publisher.PublishDetection(ctx, &dets[i]); err != nil {
			log.Warn("publish detection", "detection_id", dets[i].ID, "error", err)
		}
	}
	return true, nil
}

// process runs the processor, turning a panic into an ordinary failure so
// one bad frame cannot take the worker down.
func (w *Worker) process(ctx context.Context, ev *models.IngestionEvent) (dets []models.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event %d: %v", ev.ID, r)
		}
	}()
	return w.proc.Process(ctx, ev)
}

func (w *Worker) fail(ctx context.Context, job *models.Job, reason string, cause error) error {
	observability.JobsProcessed.WithLabelValues(job.Type, string(models.JobFailed)).Inc()
	observability.CaptureError(cause, "worker", map[string]string{
		"job_id":   strconv.FormatInt(job.ID, 10),
		"job_type": job.Type,
	})
	if err := w.queue.FailJob(context.WithoutCancel(ctx), job, reason); err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	return nil
}

// Run polls until ctx is cancelled. After an idle or failed claim it waits
// PollInterval or until a notice arrives.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started", "job_type", w.cfg.JobType, "poll_interval", w.cfg.PollInterval)
	defer slog.Info("worker stopped", "job_type", w.cfg.JobType)

	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("worker iteration", "error", err)
		}
		if claimed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		case <-w.cfg.Notices:
		}
	}
}

// RunPool runs n workers sharing this configuration and blocks until all
// have returned.
func (w *Worker) RunPool(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
