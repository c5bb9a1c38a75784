// Package detection turns an image into a detection: action label, matched
// identity and fused confidence.
package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/match"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/observability"
)

type MatchMode string

const (
	ModeRaw        MatchMode = "raw"
	ModeNormalized MatchMode = "normalized"
)

// Candidates supplies the identities to match against.
type Candidates interface {
	Candidates(ctx context.Context) ([]match.Candidate, error)
}

type Analyzer struct {
	ml         inference.Service
	candidates Candidates
	threshold  float64
	mode       MatchMode
}

func NewAnalyzer(ml inference.Service, candidates Candidates, threshold float64, mode MatchMode) *Analyzer {
	if mode == "" {
		mode = ModeRaw
	}
	return &Analyzer{ml: ml, candidates: candidates, threshold: threshold, mode: mode}
}

// Analysis is everything one Analyze call produced. The Match snapshot keeps
// sub-threshold scores even when Decision rejects the identity.
type Analysis struct {
	Action    *inference.ActionResult
	Embedding *inference.EmbeddingResult
	Match     match.Result
	Decision  match.Decision
}

// Analyze runs both models and the matcher over one image. Any model error
// is returned as is.
func (a *Analyzer) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	action, err := a.ml.AnalyzeAction(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("analyze action: %w", err)
	}
	emb, err := a.ml.GenerateEmbedding(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	cands, err := a.candidates.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	start := time.Now()
	var res match.Result
	if a.mode == ModeNormalized {
		res = match.MatchNormalized(emb.Embedding, cands)
	} else {
		res = match.Match(emb.Embedding, cands)
	}
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	skipped := 0
	for _, c := range cands {
		if len(c.Embedding) > 0 && len(c.Embedding) != len(emb.Embedding) {
			skipped++
		}
	}
	if skipped > 0 {
		slog.Debug("skipped candidates with stale embeddings", "skipped", skipped, "dim", len(emb.Embedding))
	}

	return &Analysis{
		Action:    action,
		Embedding: emb,
		Match:     res,
		Decision:  match.Fuse(action.Confidence, res, a.threshold),
	}, nil
}

type rawResponse struct {
	Action    rawAction    `json:"action"`
	Embedding rawEmbedding `json:"embedding"`
}

type rawAction struct {
	Action      string  `json:"action"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	ModelID     string  `json:"model_id"`
}

type rawEmbedding struct {
	Dim            int     `json:"dim"`
	ModelID        string  `json:"model_id"`
	BestSimilarity float64 `json:"best_similarity"`
}

// Detection builds the row to persist for this analysis.
func (an *Analysis) Detection(imagePath string, ts time.Time, locationID *int64, cameraID *string) models.Detection {
	raw, _ := json.Marshal(rawResponse{
		Action: rawAction{
			Action:      an.Action.Action,
			Confidence:  an.Action.Confidence,
			Description: an.Action.Description,
			ModelID:     an.Action.ModelID,
		},
		Embedding: rawEmbedding{
			Dim:            an.Embedding.Dim,
			ModelID:        an.Embedding.ModelID,
			BestSimilarity: an.Match.BestScore,
		},
	})
	rawStr := string(raw)
	vlm := an.Action.ModelID
	embed := an.Embedding.ModelID

	return models.Detection{
		HorseID:      an.Decision.HorseID,
		LocationID:   locationID,
		CameraID:     cameraID,
		ImagePath:    imagePath,
		Timestamp:    ts.UTC(),
		Action:       an.Action.Action,
		Confidence:   an.Decision.Confidence,
		Kept:         an.Decision.Kept,
		HorseScores:  an.Match.Ranked,
		RawResponse:  &rawStr,
		VLMModelID:   &vlm,
		EmbedModelID: &embed,
	}
}

// RecordCreated counts a persisted detection.
func RecordCreated(d *models.Detection) {
	observability.DetectionsCreated.WithLabelValues(
		strconv.FormatBool(d.HorseID != nil), strconv.FormatBool(d.Kept)).Inc()
}
