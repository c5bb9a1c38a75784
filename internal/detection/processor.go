package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
)

// FrameProcessor analyzes the frame behind an ingestion event. It is what
// the worker runs for detect jobs.
type FrameProcessor struct {
	analyzer  *Analyzer
	frames    storage.FrameStore
	locations storage.LocationStore
}

func NewFrameProcessor(analyzer *Analyzer, frames storage.FrameStore, locations storage.LocationStore) *FrameProcessor {
	return &FrameProcessor{analyzer: analyzer, frames: frames, locations: locations}
}

// Process returns at most one detection for the event. The location is the
// one bound to the event's camera, if any.
func (p *FrameProcessor) Process(ctx context.Context, ev *models.IngestionEvent) ([]models.Detection, error) {
	img, err := p.frames.Get(ctx, ev.FramePath)
	if err != nil {
		return nil, fmt.Errorf("load frame %s: %w", ev.FramePath, err)
	}
	if len(img) == 0 {
		return nil, nil
	}

	analysis, err := p.analyzer.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}

	var locationID *int64
	loc, err := p.locations.GetLocationByCamera(ctx, ev.CameraID)
	switch {
	case err == nil:
		locationID = &loc.ID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("resolve camera location: %w", err)
	}

	camera := ev.CameraID
	return []models.Detection{
		analysis.Detection(ev.FramePath, CaptureTime(ev), locationID, &camera),
	}, nil
}

// CaptureTime prefers the caller supplied capture timestamp when it parses
// as RFC 3339, else the receive time.
func CaptureTime(ev *models.IngestionEvent) time.Time {
	if ev.CapturedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *ev.CapturedAt); err == nil {
			return t.UTC()
		}
	}
	return ev.ReceivedAt.UTC()
}
