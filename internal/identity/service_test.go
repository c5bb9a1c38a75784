package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
)

// flakyML embeds with the mock unless failEmbed is set.
type flakyML struct {
	*inference.Mock
	failEmbed bool
	modelID   string
}

func (f *flakyML) GenerateEmbedding(ctx context.Context, img []byte) (*inference.EmbeddingResult, error) {
	if f.failEmbed {
		return nil, errors.New("ml service /embed call failed: connection refused")
	}
	res, err := f.Mock.GenerateEmbedding(ctx, img)
	if err == nil && f.modelID != "" {
		res.ModelID = f.modelID
	}
	return res, err
}

type fixture struct {
	store   *storage.SQLiteStore
	frames  *storage.LocalFrames
	ml      *flakyML
	catalog *Catalog
	svc     *Service
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	st, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	frames, err := storage.NewLocalFrames(t.TempDir())
	require.NoError(t, err)

	ml := &flakyML{Mock: inference.NewMock(nil)}
	cat := NewCatalog(st, ttl)
	return &fixture{store: st, frames: frames, ml: ml, catalog: cat, svc: NewService(st, frames, ml, cat)}
}

func TestCreateHorse(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	h, err := f.svc.Create(ctx, CreateInput{Name: "  Comet ", Image: []byte("comet-jpeg"), Filename: "comet.JPG"})
	require.NoError(t, err)
	assert.Equal(t, "Comet", h.Name)
	assert.True(t, h.HasEmbedding())
	assert.Equal(t, "mock", *h.EmbedModelID)
	assert.Regexp(t, `^horses/[0-9a-f-]{36}\.jpg$`, h.ReferenceImagePath)

	img, err := f.frames.Get(ctx, h.ReferenceImagePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("comet-jpeg"), img)

	_, err = f.svc.Create(ctx, CreateInput{Name: "Comet", Image: []byte("other")})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = f.svc.Create(ctx, CreateInput{Name: " ", Image: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = f.svc.Create(ctx, CreateInput{Name: "Empty"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCreateHorseSurvivesEmbeddingFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.ml.failEmbed = true

	h, err := f.svc.Create(ctx, CreateInput{Name: "Ghost", Image: []byte("ghost")})
	require.NoError(t, err)
	assert.False(t, h.HasEmbedding())
	assert.Nil(t, h.EmbedModelID)

	f.ml.failEmbed = false
	f.ml.modelID = "siglip-v2"
	healed, err := f.svc.Reembed(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, healed.Embedding, inference.MockEmbeddingDim)
	assert.Equal(t, "siglip-v2", *healed.EmbedModelID)
}

func TestReembedErrors(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.svc.Reembed(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	bare := &models.Horse{Name: "NoImage"}
	require.NoError(t, f.store.CreateHorse(ctx, bare))
	_, err = f.svc.Reembed(ctx, bare.ID)
	assert.ErrorIs(t, err, ErrNoReferenceImage)

	lost := &models.Horse{Name: "Lost", ReferenceImagePath: "horses/gone.jpg"}
	require.NoError(t, f.store.CreateHorse(ctx, lost))
	_, err = f.svc.Reembed(ctx, lost.ID)
	assert.ErrorIs(t, err, ErrReferenceImageMissing)

	h, err := f.svc.Create(ctx, CreateInput{Name: "Comet", Image: []byte("c")})
	require.NoError(t, err)
	f.ml.failEmbed = true
	_, err = f.svc.Reembed(ctx, h.ID)
	var ee *EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, h.ID, ee.HorseID)
}

func TestReembedAll(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Name: "A", Image: []byte("a")})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateInput{Name: "B", Image: []byte("b")})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateHorse(ctx, &models.Horse{Name: "C"}))

	f.ml.modelID = "embed-v2"
	updated, failures, err := f.svc.ReembedAll(ctx)
	require.NoError(t, err)
	assert.Len(t, updated, 2)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "(C)")

	for _, h := range updated {
		assert.Equal(t, "embed-v2", *h.EmbedModelID)
	}
}

func TestDeleteHorse(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	h, err := f.svc.Create(ctx, CreateInput{Name: "Storm", Image: []byte("s")})
	require.NoError(t, err)
	d := &models.Detection{HorseID: &h.ID, ImagePath: "f.jpg", Action: "eating"}
	require.NoError(t, f.store.CreateDetection(ctx, d))

	require.NoError(t, f.svc.Delete(ctx, h.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, h.ID), storage.ErrNotFound)

	_, err = f.frames.Get(ctx, h.ReferenceImagePath)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := f.store.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.HorseID)
}

func TestCatalogCachingAndInvalidation(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	cands, err := f.catalog.Candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, cands)

	// a write that bypasses Service is not seen until invalidation
	require.NoError(t, f.store.CreateHorse(ctx, &models.Horse{Name: "Direct"}))
	cands, err = f.catalog.Candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, cands)

	_, err = f.svc.Create(ctx, CreateInput{Name: "ViaService", Image: []byte("v")})
	require.NoError(t, err)
	cands, err = f.catalog.Candidates(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "Direct", cands[0].Name)
	assert.Nil(t, cands[0].Embedding)
	assert.Equal(t, "ViaService", cands[1].Name)
	assert.NotEmpty(t, cands[1].Embedding)
}

func TestCatalogWithoutTTLReadsThrough(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.store.CreateHorse(ctx, &models.Horse{Name: "Direct"}))
	cands, err := f.catalog.Candidates(ctx)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}
