// Package ingest is the fast half of the pipeline: it stores frame bytes,
// records an ingestion event with a pending job, and returns. Detection
// runs later in a worker.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/internal/storage"
)

var (
	ErrEmptyFrame      = fmt.Errorf("empty frame payload: %w", storage.ErrInvalidInput)
	ErrMissingFilename = fmt.Errorf("missing filename: %w", storage.ErrInvalidInput)
	ErrMissingCamera   = fmt.Errorf("missing camera_id: %w", storage.ErrInvalidInput)
	ErrFrameTooLarge   = fmt.Errorf("frame payload too large: %w", storage.ErrInvalidInput)
	ErrNotFailed       = fmt.Errorf("only failed jobs can be resubmitted: %w", storage.ErrConflict)
)

// Notifier wakes workers after a job is queued.
type Notifier interface {
	NotifyJob(jobType string, jobID int64) error
}

type Frame struct {
	CameraID string
	// CapturedAt is the caller supplied timestamp, stored verbatim.
	CapturedAt *string
	Filename   string
	Data       []byte
}

type Receipt struct {
	EventID    int64   `json:"event_id"`
	JobID      int64   `json:"job_id"`
	CameraID   string  `json:"camera_id"`
	Timestamp  *string `json:"timestamp"`
	ReceivedAt string  `json:"received_at"`
	SavedPath  string  `json:"saved_path"`
	SizeBytes  int64   `json:"size_bytes"`
}

type Service struct {
	queue    storage.JobQueue
	frames   storage.FrameStore
	notifier Notifier
	jobType  string
	maxBytes int64
	now      func() time.Time
}

// NewService builds the ingestion path. notifier may be nil. maxBytes <= 0
// disables the size check.
func NewService(queue storage.JobQueue, frames storage.FrameStore, notifier Notifier, jobType string, maxBytes int64) *Service {
	if jobType == "" {
		jobType = models.JobTypeDetect
	}
	return &Service{
		queue:    queue,
		frames:   frames,
		notifier: notifier,
		jobType:  jobType,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Ingest persists the frame, then the event and its job in one
// transaction. If the database write fails the stored frame is removed.
func (s *Service) Ingest(ctx context.Context, f Frame) (*Receipt, error) {
	camera := strings.TrimSpace(f.CameraID)
	switch {
	case camera == "":
		return nil, ErrMissingCamera
	case f.Filename == "":
		return nil, ErrMissingFilename
	case len(f.Data) == 0:
		return nil, ErrEmptyFrame
	case s.maxBytes > 0 && int64(len(f.Data)) > s.maxBytes:
		return nil, ErrFrameTooLarge
	}

	receivedAt := s.now().UTC()
	key := FrameKey(camera, receivedAt, f.Filename)
	if err := s.frames.Put(ctx, key, f.Data, contentType(key)); err != nil {
		return nil, fmt.Errorf("store frame: %w", err)
	}

	ev := &models.IngestionEvent{
		CameraID:   camera,
		CapturedAt: f.CapturedAt,
		ReceivedAt: receivedAt,
		FramePath:  key,
		SizeBytes:  int64(len(f.Data)),
	}
	job, err := s.queue.CreateIngestion(ctx, ev, s.jobType)
	if err != nil {
		if delErr := s.frames.Delete(ctx, key); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			slog.Warn("remove orphaned frame", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("record ingestion: %w", err)
	}

	observability.FramesIngested.WithLabelValues(camera).Inc()
	if s.notifier != nil {
		if err := s.notifier.NotifyJob(job.Type, job.ID); err != nil {
			slog.Warn("notify workers", "job_id", job.ID, "error", err)
		}
	}
	slog.Debug("frame ingested", "camera_id", camera, "event_id", ev.ID, "job_id", job.ID, "bytes", ev.SizeBytes)

	return &Receipt{
		EventID:    ev.ID,
		JobID:      job.ID,
		CameraID:   camera,
		Timestamp:  f.CapturedAt,
		ReceivedAt: receivedAt.Format(time.RFC3339Nano),
		SavedPath:  key,
		SizeBytes:  ev.SizeBytes,
	}, nil
}

// FrameKey names a stored frame so keys sort by camera then receive time:
// frames/<camera>_<YYYYMMDDTHHMMSSffffffZ>_<8 hex><ext>.
func FrameKey(camera string, receivedAt time.Time, filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".jpg"
	}
	safe := strings.NewReplacer("/", "_", " ", "_").Replace(camera)
	stamp := receivedAt.UTC().Format("20060102T150405.000000Z")
	stamp = strings.Replace(stamp, ".", "", 1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("frames/%s_%s_%s%s", safe, stamp, suffix, ext)
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Resubmit queues a new pending job for the event behind a failed job. The
// failed job stays as it is for the record.
func Resubmit(ctx context.Context, queue storage.JobQueue, jobID int64) (*models.Job, error) {
	job, err := queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobFailed {
		return nil, fmt.Errorf("job %d is %s: %w", job.ID, job.Status, ErrNotFailed)
	}
	next, err := queue.CreateJob(ctx, job.Type, job.EventID)
	if err != nil {
		return nil, err
	}
	slog.Info("job resubmitted", "failed_job_id", job.ID, "job_id", next.ID, "event_id", next.EventID)
	return next, nil
}
