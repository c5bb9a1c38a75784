// Package queue carries detection events and job wake-up notices over NATS.
// The durable job queue itself lives in storage; notices only shorten the
// idle wait of polling workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/stableguard/stableguard/internal/models"
)

const (
	DetectionsStreamName  = "DETECTIONS"
	DetectionsSubjectBase = "detections"
	JobsSubjectBase       = "jobs"
)

// DetectionSubject is the subject a detection is published on. Detections
// without a camera (manual analyze calls) go to "detections.manual".
func DetectionSubject(d *models.Detection) string {
	camera := "manual"
	if d.CameraID != nil && *d.CameraID != "" {
		camera = subjectToken(*d.CameraID)
	}
	return DetectionsSubjectBase + "." + camera
}

// JobSubject is the core NATS subject for wake-up notices of a job type.
func JobSubject(jobType string) string {
	return JobsSubjectBase + "." + subjectToken(jobType)
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// JobNotice is the body of a wake-up notice.
type JobNotice struct {
	JobID   int64  `json:"job_id"`
	JobType string `json:"job_type"`
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the detections stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        DetectionsStreamName,
		Subjects:    []string{DetectionsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Persisted detections",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishDetection publishes a persisted detection.
func (p *Producer) PublishDetection(ctx context.Context, d *models.Detection) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal detection: %w", err)
	}
	if _, err := p.js.Publish(ctx, DetectionSubject(d), payload); err != nil {
		return fmt.Errorf("publish detection: %w", err)
	}
	return nil
}

// NotifyJob publishes a fire-and-forget wake-up notice via core NATS.
// Losing one only delays the job until the next poll.
func (p *Producer) NotifyJob(jobType string, jobID int64) error {
	payload, err := json.Marshal(JobNotice{JobID: jobID, JobType: jobType})
	if err != nil {
		return fmt.Errorf("marshal job notice: %w", err)
	}
	return p.nc.Publish(JobSubject(jobType), payload)
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
