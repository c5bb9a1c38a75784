package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stableguard/stableguard/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func strPtr(s string) *string { return &s }

func seedIngestion(t *testing.T, s *SQLiteStore, camera string) *models.Job {
	t.Helper()
	job, err := s.CreateIngestion(context.Background(), &models.IngestionEvent{
		CameraID:  camera,
		FramePath: "frames/" + camera + ".jpg",
		SizeBytes: 42,
	}, models.JobTypeDetect)
	require.NoError(t, err)
	return job
}

func TestHorseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h := &models.Horse{Name: "Comet", Description: strPtr("bay gelding"), ReferenceImagePath: "horses/comet.jpg"}
	require.NoError(t, s.CreateHorse(ctx, h))
	assert.NotZero(t, h.ID)

	err := s.CreateHorse(ctx, &models.Horse{Name: "Comet"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetHorse(ctx, h.ID)
	require.NoError(t, err)
	assert.False(t, got.HasEmbedding())
	assert.Equal(t, "bay gelding", *got.Description)

	require.NoError(t, s.UpdateHorseEmbedding(ctx, h.ID, []float32{0.25, -0.5, 1}, "mock"))
	got, err = s.GetHorse(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, got.Embedding)
	assert.Equal(t, "mock", *got.EmbedModelID)

	assert.ErrorIs(t, s.UpdateHorseEmbedding(ctx, 999, []float32{1}, "mock"), ErrNotFound)

	_, err = s.GetHorse(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteHorseDetachesDetections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h := &models.Horse{Name: "Blaze"}
	require.NoError(t, s.CreateHorse(ctx, h))
	d := &models.Detection{HorseID: &h.ID, ImagePath: "frames/x.jpg", Action: "eating", Confidence: 0.8, Kept: true}
	require.NoError(t, s.CreateDetection(ctx, d))

	require.NoError(t, s.DeleteHorse(ctx, h.ID))
	assert.ErrorIs(t, s.DeleteHorse(ctx, h.ID), ErrNotFound)

	got, err := s.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.HorseID)
	assert.Equal(t, "eating", got.Action)
}

func TestLocations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	paddock := &models.Location{Name: "Paddock", CameraID: strPtr("cam-paddock")}
	require.NoError(t, s.CreateLocation(ctx, paddock))
	stall := &models.Location{Name: "Stall 3"}
	require.NoError(t, s.CreateLocation(ctx, stall))

	assert.ErrorIs(t, s.CreateLocation(ctx, &models.Location{Name: "Paddock"}), ErrConflict)

	byCam, err := s.GetLocationByCamera(ctx, "cam-paddock")
	require.NoError(t, err)
	assert.Equal(t, paddock.ID, byCam.ID)

	_, err = s.GetLocationByCamera(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Paddock", all[0].Name)

	require.NoError(t, s.CreateDetection(ctx, &models.Detection{LocationID: &stall.ID, ImagePath: "a.jpg", Action: "standing"}))
	assert.ErrorIs(t, s.DeleteLocation(ctx, stall.ID), ErrConflict)
	require.NoError(t, s.DeleteLocation(ctx, paddock.ID))
	assert.ErrorIs(t, s.DeleteLocation(ctx, paddock.ID), ErrNotFound)
}

func TestListDetectionsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h := &models.Horse{Name: "Storm"}
	require.NoError(t, s.CreateHorse(ctx, h))

	day1 := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 0, 1, 0, 0, time.UTC)
	scores := []models.HorseScore{{HorseID: &h.ID, HorseName: "Storm", Probability: 0.91}}
	for _, d := range []*models.Detection{
		{HorseID: &h.ID, ImagePath: "1.jpg", Timestamp: day1, Action: "eating", HorseScores: scores},
		{HorseID: &h.ID, ImagePath: "2.jpg", Timestamp: day2, Action: "standing"},
		{ImagePath: "3.jpg", Timestamp: day2, Action: "trotting"},
	} {
		require.NoError(t, s.CreateDetection(ctx, d))
	}

	byHorse, err := s.ListDetections(ctx, models.DetectionFilter{HorseID: &h.ID})
	require.NoError(t, err)
	require.Len(t, byHorse, 2)
	assert.Equal(t, "2.jpg", byHorse[0].ImagePath)
	assert.Equal(t, scores, byHorse[1].HorseScores)
	assert.Equal(t, []models.HorseScore{}, byHorse[0].HorseScores)

	onDay, err := s.ListDetections(ctx, models.DetectionFilter{Day: &day2})
	require.NoError(t, err)
	assert.Len(t, onDay, 2)

	limited, err := s.ListDetections(ctx, models.DetectionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCreateIngestionCreatesPendingJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job := seedIngestion(t, s, "barn-1")
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, models.JobTypeDetect, job.Type)
	assert.Equal(t, 0, job.Attempts)

	ev, err := s.GetIngestionEvent(ctx, job.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventReceived, ev.Status)
	assert.Equal(t, "barn-1", ev.CameraID)
	assert.Equal(t, int64(42), ev.SizeBytes)
	assert.Nil(t, ev.LastError)
}

func TestClaimJobOrderAndType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := seedIngestion(t, s, "a")
	second := seedIngestion(t, s, "b")
	other, err := s.CreateJob(ctx, "thumbnail", first.EventID)
	require.NoError(t, err)

	claimed, err := s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, models.JobProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	claimed, err = s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)

	claimed, err = s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = s.ClaimJob(ctx, "thumbnail")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, other.ID, claimed.ID)
}

func TestClaimJobExclusive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	// two handles on one file behave like two worker processes
	a, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	b, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	job := seedIngestion(t, a, "barn-1")

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*models.Job
		empty   int
	)
	for i := 0; i < n; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := store.ClaimJob(ctx, models.JobTypeDetect)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if j != nil {
				claimed = append(claimed, j)
			} else {
				empty++
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
	assert.Equal(t, n-1, empty)

	got, err := a.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestCompleteJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedIngestion(t, s, "barn-1")
	job, err := s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)

	dets := []models.Detection{{ImagePath: "frames/barn-1.jpg", Action: "eating", Confidence: 0.7, Kept: true}}
	require.NoError(t, s.CompleteJob(ctx, job, dets))
	assert.Equal(t, models.JobDone, job.Status)
	require.NotNil(t, dets[0].EventID)
	assert.Equal(t, job.EventID, *dets[0].EventID)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, stored.Status)
	assert.True(t, stored.Terminal())

	ev, err := s.GetIngestionEvent(ctx, job.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventDetected, ev.Status)

	byEvent, err := s.ListDetections(ctx, models.DetectionFilter{EventID: &job.EventID})
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.True(t, byEvent[0].Kept)
}

func TestFailJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedIngestion(t, s, "barn-1")
	job, err := s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)

	require.NoError(t, s.FailJob(ctx, job, "ml service /embed call failed: timeout"))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "ml service /embed call failed: timeout", *stored.LastError)

	ev, err := s.GetIngestionEvent(ctx, job.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, ev.Status)
	assert.Equal(t, stored.LastError, ev.LastError)

	// a failed job stays failed; nothing is requeued
	again, err := s.ClaimJob(ctx, models.JobTypeDetect)
	require.NoError(t, err)
	assert.Nil(t, again)

	counts, err := s.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.JobStatus]int{models.JobFailed: 1}, counts)
}

func TestFailJobWithMissingEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	orphan, err := s.CreateJob(ctx, models.JobTypeDetect, 12345)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, orphan, "missing event"))

	stored, err := s.GetJob(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, stored.Status)
}
