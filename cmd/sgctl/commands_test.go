package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/match"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/pkg/dto"
)

func testEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewSQLiteStore(filepath.Join(dir, "ctl.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	frames, err := storage.NewLocalFrames(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	ml := inference.NewMock(nil)
	catalog := identity.NewCatalog(st, 0)
	return &env{core: &app.Core{
		Store:    st,
		Frames:   frames,
		ML:       ml,
		Catalog:  catalog,
		Analyzer: detection.NewAnalyzer(ml, catalog, match.DefaultThreshold, detection.ModeRaw),
	}}
}

func run(e *env, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := rootCommand(e)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResubmitFailedJob(t *testing.T) {
	e := testEnv(t)
	ctx := context.Background()
	st := e.core.Store

	job, err := st.CreateIngestion(ctx, &models.IngestionEvent{
		CameraID: "cam-1", ReceivedAt: time.Now(), FramePath: "frames/a.jpg", SizeBytes: 1,
	}, models.JobTypeDetect)
	require.NoError(t, err)

	_, err = run(e, "resubmit", "1")
	assert.ErrorIs(t, err, ingest.ErrNotFailed)

	claimed, err := st.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)
	require.NoError(t, st.FailJob(ctx, claimed, "boom"))

	out, err := run(e, "resubmit", "1")
	require.NoError(t, err)
	assert.Equal(t, "job 2 queued for event 1\n", out)

	next, err := st.GetJob(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, next.Status)
	assert.Equal(t, job.EventID, next.EventID)
}

func TestResubmitRejectsBadID(t *testing.T) {
	_, err := run(testEnv(t), "resubmit", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")

	_, err = run(testEnv(t), "resubmit", "99")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueueCounts(t *testing.T) {
	e := testEnv(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := e.core.Store.CreateIngestion(ctx, &models.IngestionEvent{
			CameraID: "cam-1", ReceivedAt: time.Now(), FramePath: "frames/a.jpg", SizeBytes: 1,
		}, models.JobTypeDetect)
		require.NoError(t, err)
	}

	out, err := run(e, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Regexp(t, `pending\s+2`, out)
	assert.Regexp(t, `failed\s+0`, out)
}

func TestReembedAll(t *testing.T) {
	e := testEnv(t)
	svc := identity.NewService(e.core.Store, e.core.Frames, e.core.ML, e.core.Catalog)
	_, err := svc.Create(context.Background(), identity.CreateInput{Name: "Comet", Image: []byte("comet"), Filename: "c.jpg"})
	require.NoError(t, err)

	out, err := run(e, "reembed-all")
	require.NoError(t, err)
	assert.Equal(t, "updated 1 horse(s)\n", out)
}

func TestModels(t *testing.T) {
	rev := "abc123"
	e := &env{listModels: func(context.Context) ([]dto.ModelInfo, error) {
		return []dto.ModelInfo{{ModelID: "siglip", Role: "embedder", Revision: &rev, Device: "cuda", LoadedAt: "2024-01-01T00:00:00Z"}}, nil
	}}
	out, err := run(e, "models")
	require.NoError(t, err)
	assert.Regexp(t, `embedder\s+siglip\s+abc123\s+cuda`, out)

	e.listModels = func(context.Context) ([]dto.ModelInfo, error) { return nil, errors.New("connection refused") }
	_, err = run(e, "models")
	assert.EqualError(t, err, "connection refused")
}
