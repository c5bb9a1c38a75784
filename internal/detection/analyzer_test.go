package detection

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/match"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
)

type staticCandidates []match.Candidate

func (s staticCandidates) Candidates(context.Context) ([]match.Candidate, error) { return s, nil }

type failingML struct{ inference.Service }

func (failingML) AnalyzeAction(context.Context, []byte) (*inference.ActionResult, error) {
	return nil, errors.New("ml service /action call failed: timeout")
}

func id(v int64) *int64 { return &v }

func TestAnalyzeMatchesIdenticalImage(t *testing.T) {
	ml := inference.NewMock(nil)
	img := []byte("reference-photo-of-comet")
	cands := staticCandidates{
		{ID: id(1), Name: "Comet", Embedding: inference.MockEmbedding(img)},
		{ID: id(2), Name: "Dancer", Embedding: inference.MockEmbedding([]byte("dancer"))},
		{ID: id(3), Name: "Stale", Embedding: []float32{1, 0, 0}},
		{ID: id(4), Name: "Unembedded"},
	}
	a := NewAnalyzer(ml, cands, match.DefaultThreshold, ModeRaw)

	an, err := a.Analyze(context.Background(), img)
	require.NoError(t, err)

	require.Len(t, an.Match.Ranked, 2)
	assert.Equal(t, 1.0, an.Match.BestScore)
	require.NotNil(t, an.Decision.HorseID)
	assert.Equal(t, int64(1), *an.Decision.HorseID)
	assert.True(t, an.Decision.Kept)
	assert.Equal(t, match.Round((an.Action.Confidence+1.0)/2, 3), an.Decision.Confidence)
}

func TestAnalyzeUnknownHorseKeepsSnapshot(t *testing.T) {
	ml := inference.NewMock(nil)
	img := []byte("unknown-horse")
	query := inference.MockEmbedding(img)
	opposite := make([]float32, len(query))
	for i, v := range query {
		opposite[i] = -v
	}
	a := NewAnalyzer(ml, staticCandidates{{ID: id(9), Name: "Opposite", Embedding: opposite}}, match.DefaultThreshold, ModeRaw)

	an, err := a.Analyze(context.Background(), img)
	require.NoError(t, err)
	assert.Nil(t, an.Decision.HorseID)
	require.Len(t, an.Match.Ranked, 1)
	assert.Equal(t, -1.0, an.Match.Ranked[0].Probability)

	d := an.Detection("frames/x.jpg", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), nil, nil)
	assert.Nil(t, d.HorseID)
	assert.Equal(t, an.Match.Ranked, d.HorseScores)
	assert.Equal(t, match.Round(an.Action.Confidence, 3), d.Confidence)
}

func TestAnalyzeNormalizedMode(t *testing.T) {
	ml := inference.NewMock(nil)
	img := []byte("comet")
	a := NewAnalyzer(ml, staticCandidates{
		{ID: id(1), Name: "Comet", Embedding: inference.MockEmbedding(img)},
		{ID: id(2), Name: "Other", Embedding: inference.MockEmbedding([]byte("other"))},
	}, match.DefaultThreshold, ModeNormalized)

	an, err := a.Analyze(context.Background(), img)
	require.NoError(t, err)
	total := 0.0
	for _, s := range an.Match.Ranked {
		total += s.Probability
	}
	assert.InDelta(t, 1.0, total, 0.002)
	assert.Equal(t, "Comet", an.Match.Ranked[0].HorseName)
}

func TestAnalyzePropagatesModelErrors(t *testing.T) {
	a := NewAnalyzer(failingML{}, staticCandidates{}, match.DefaultThreshold, ModeRaw)
	_, err := a.Analyze(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyze action")
}

func TestDetectionRawResponse(t *testing.T) {
	an := &Analysis{
		Action:    &inference.ActionResult{Action: "eating", Confidence: 0.8, Description: "grazing", ModelID: "vlm"},
		Embedding: &inference.EmbeddingResult{Dim: 3, ModelID: "emb"},
		Match:     match.Result{BestID: id(5), BestScore: 0.6, Ranked: []models.HorseScore{{HorseID: id(5), HorseName: "Comet", Probability: 0.6}}},
	}
	an.Decision = match.Fuse(0.8, an.Match, match.DefaultThreshold)

	camera := "barn-1"
	d := an.Detection("frames/a.jpg", time.Now(), id(2), &camera)
	assert.Equal(t, 0.7, d.Confidence)
	assert.True(t, d.Kept)
	assert.Equal(t, "vlm", *d.VLMModelID)
	assert.Equal(t, "emb", *d.EmbedModelID)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(*d.RawResponse), &raw))
	assert.Equal(t, "eating", raw["action"]["action"])
	assert.EqualValues(t, 3, raw["embedding"]["dim"])
	assert.EqualValues(t, 0.6, raw["embedding"]["best_similarity"])
}

func TestFrameProcessor(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sg.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	frames, err := storage.NewLocalFrames(t.TempDir())
	require.NoError(t, err)

	camera := "cam-paddock"
	loc := &models.Location{Name: "Paddock", CameraID: &camera}
	require.NoError(t, st.CreateLocation(ctx, loc))
	require.NoError(t, frames.Put(ctx, "frames/f.jpg", []byte("frame"), "image/jpeg"))

	p := NewFrameProcessor(NewAnalyzer(inference.NewMock(nil), staticCandidates{}, match.DefaultThreshold, ModeRaw), frames, st)

	captured := "2024-06-01T10:00:00Z"
	dets, err := p.Process(ctx, &models.IngestionEvent{CameraID: camera, CapturedAt: &captured, FramePath: "frames/f.jpg"})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, loc.ID, *dets[0].LocationID)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), dets[0].Timestamp)
	assert.Nil(t, dets[0].HorseID)
	assert.Empty(t, dets[0].HorseScores)

	dets, err = p.Process(ctx, &models.IngestionEvent{CameraID: "unbound", FramePath: "frames/f.jpg", ReceivedAt: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, dets[0].LocationID)

	_, err = p.Process(ctx, &models.IngestionEvent{CameraID: camera, FramePath: "frames/missing.jpg"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCaptureTimeFallsBack(t *testing.T) {
	recv := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	bad := "yesterday"
	assert.Equal(t, recv, CaptureTime(&models.IngestionEvent{CapturedAt: &bad, ReceivedAt: recv}))
	assert.Equal(t, recv, CaptureTime(&models.IngestionEvent{ReceivedAt: recv}))
}
