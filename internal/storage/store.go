// Package storage persists identities, locations, detections and the
// ingestion job queue, and holds frame and reference image bytes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")
)

type HorseStore interface {
	CreateHorse(ctx context.Context, h *models.Horse) error
	GetHorse(ctx context.Context, id int64) (*models.Horse, error)
	// ListHorses returns horses ordered by id.
	ListHorses(ctx context.Context) ([]models.Horse, error)
	UpdateHorseEmbedding(ctx context.Context, id int64, embedding []float32, modelID string) error
	// DeleteHorse clears horse_id on the horse's detections, then removes it.
	DeleteHorse(ctx context.Context, id int64) error
}

type LocationStore interface {
	CreateLocation(ctx context.Context, l *models.Location) error
	GetLocation(ctx context.Context, id int64) (*models.Location, error)
	GetLocationByCamera(ctx context.Context, cameraID string) (*models.Location, error)
	ListLocations(ctx context.Context) ([]models.Location, error)
	// DeleteLocation fails with ErrConflict while detections reference it.
	DeleteLocation(ctx context.Context, id int64) error
}

type DetectionStore interface {
	CreateDetection(ctx context.Context, d *models.Detection) error
	GetDetection(ctx context.Context, id int64) (*models.Detection, error)
	// ListDetections returns newest first.
	ListDetections(ctx context.Context, f models.DetectionFilter) ([]models.Detection, error)
}

// JobQueue is the durable ingestion queue. Workers coordinate only through
// ClaimJob, which hands each pending job to exactly one caller.
type JobQueue interface {
	// CreateIngestion stores the event and a pending job for it atomically.
	CreateIngestion(ctx context.Context, ev *models.IngestionEvent, jobType string) (*models.Job, error)
	GetIngestionEvent(ctx context.Context, id int64) (*models.IngestionEvent, error)
	CreateJob(ctx context.Context, jobType string, eventID int64) (*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	// ClaimJob moves the oldest pending job of jobType to processing and
	// returns it. It returns nil, nil when nothing is pending.
	ClaimJob(ctx context.Context, jobType string) (*models.Job, error)
	// CompleteJob writes detections, marks the event detected and the job
	// done, in one transaction.
	CompleteJob(ctx context.Context, job *models.Job, detections []models.Detection) error
	// FailJob marks the job failed and, if it still exists, its event too.
	FailJob(ctx context.Context, job *models.Job, reason string) error
	CountJobs(ctx context.Context) (map[models.JobStatus]int, error)
}

type Store interface {
	HorseStore
	LocationStore
	DetectionStore
	JobQueue
	Ping(ctx context.Context) error
	Close()
}

// Open returns the store selected by cfg.Driver with its schema applied.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := NewPostgresStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q: %w", cfg.Driver, ErrInvalidInput)
	}
}

// encodeScores always yields a JSON array, never null.
func encodeScores(scores []models.HorseScore) ([]byte, error) {
	if scores == nil {
		scores = []models.HorseScore{}
	}
	b, err := json.Marshal(scores)
	if err != nil {
		return nil, fmt.Errorf("encode horse scores: %w", err)
	}
	return b, nil
}

// decodeScores tolerates empty and unreadable snapshots from older rows.
func decodeScores(raw []byte) []models.HorseScore {
	out := []models.HorseScore{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return []models.HorseScore{}
	}
	return out
}

func encodeEmbedding(v []float32) (*string, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	s := string(b)
	return &s, nil
}

// decodeEmbedding treats an unreadable stored vector as absent.
func decodeEmbedding(s *string) []float32 {
	if s == nil || *s == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(*s), &v); err != nil {
		return nil
	}
	return v
}
