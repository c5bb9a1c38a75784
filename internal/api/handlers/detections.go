package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/match"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/pkg/dto"
)

const (
	listLimit     = 200
	timelineLimit = 500
)

// ScoreResolver renders detections, filling in horse ids that older
// snapshots recorded only by name.
type ScoreResolver struct {
	candidates detection.Candidates
}

func NewScoreResolver(candidates detection.Candidates) *ScoreResolver {
	return &ScoreResolver{candidates: candidates}
}

func (r *ScoreResolver) Responses(ctx context.Context, dets []models.Detection) []dto.DetectionResponse {
	var (
		known  []match.Candidate
		loaded bool
	)
	out := make([]dto.DetectionResponse, 0, len(dets))
	for i := range dets {
		d := &dets[i]
		if needsResolve(d.HorseScores) {
			if !loaded {
				var err error
				if known, err = r.candidates.Candidates(ctx); err != nil {
					slog.Warn("load candidates for snapshot resolution", "error", err)
				}
				loaded = true
			}
			d.HorseScores = match.ResolveByName(d.HorseScores, known)
		}
		out = append(out, dto.NewDetectionResponse(d))
	}
	return out
}

func needsResolve(scores []models.HorseScore) bool {
	for _, s := range scores {
		if s.HorseID == nil && s.HorseName != "" {
			return true
		}
	}
	return false
}

type DetectionHandler struct {
	store     storage.Store
	frames    storage.FrameStore
	analyzer  *detection.Analyzer
	resolver  *ScoreResolver
	maxUpload int64
	// OnCreated, when set, is called for each detection persisted here.
	OnCreated func(d *models.Detection)
}

func NewDetectionHandler(store storage.Store, frames storage.FrameStore, analyzer *detection.Analyzer, resolver *ScoreResolver, maxUpload int64) *DetectionHandler {
	return &DetectionHandler{store: store, frames: frames, analyzer: analyzer, resolver: resolver, maxUpload: maxUpload}
}

// Analyze runs the full pipeline synchronously on an uploaded image for a
// known location.
func (h *DetectionHandler) Analyze(c *gin.Context) {
	ctx := c.Request.Context()
	locationID, ok := optionalID(c, "location_id")
	if !ok {
		return
	}
	if locationID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location_id is required"})
		return
	}
	loc, err := h.store.GetLocation(ctx, *locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	up, err := readUpload(c, "image", h.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(up.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty image"})
		return
	}

	key := "detections/" + uuid.New().String() + imageExt(up.Filename)
	if err := h.frames.Put(ctx, key, up.Data, up.ContentType); err != nil {
		respondError(c, err)
		return
	}

	analysis, err := h.analyzer.Analyze(ctx, up.Data)
	if err != nil {
		respondError(c, err)
		return
	}
	d := analysis.Detection(key, time.Now(), &loc.ID, loc.CameraID)
	if err := h.store.CreateDetection(ctx, &d); err != nil {
		respondError(c, err)
		return
	}
	detection.RecordCreated(&d)
	if h.OnCreated != nil {
		h.OnCreated(&d)
	}

	var name *string
	if analysis.Decision.Identified {
		name = &analysis.Decision.HorseName
	}
	c.JSON(http.StatusCreated, dto.AnalyzeResponse{
		DetectionID:    d.ID,
		HorseID:        d.HorseID,
		HorseName:      name,
		LocationID:     d.LocationID,
		Action:         d.Action,
		Confidence:     d.Confidence,
		Kept:           d.Kept,
		Timestamp:      d.Timestamp.Format(time.RFC3339Nano),
		ImagePath:      d.ImagePath,
		RawVLMResponse: d.RawResponse,
		HorseScores:    d.HorseScores,
	})
}

// List filters by horse_id, location_id and date (YYYY-MM-DD, UTC).
func (h *DetectionHandler) List(c *gin.Context) {
	f := models.DetectionFilter{Limit: listLimit}
	var ok bool
	if f.HorseID, ok = optionalID(c, "horse_id"); !ok {
		return
	}
	if f.LocationID, ok = optionalID(c, "location_id"); !ok {
		return
	}
	if raw := c.Query("date"); raw != "" {
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		f.Day = &day
	}

	dets, err := h.store.ListDetections(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.resolver.Responses(c.Request.Context(), dets))
}

func (h *DetectionHandler) Timeline(c *gin.Context) {
	id, ok := parseID(c, "horse_id")
	if !ok {
		return
	}
	if _, err := h.store.GetHorse(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	dets, err := h.store.ListDetections(c.Request.Context(), models.DetectionFilter{HorseID: &id, Limit: timelineLimit})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.resolver.Responses(c.Request.Context(), dets))
}

func imageExt(filename string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	return ".jpg"
}
