//go:build integration

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stableguard/stableguard/internal/models"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "sg",
				"POSTGRES_PASSWORD": "sg",
				"POSTGRES_DB":       "stableguard",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://sg:sg@%s:%s/stableguard?sslmode=disable", host, port.Port())
	s, err := newPostgresStore(dsn, 10)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()

	t.Run("horse embeddings of any dimension", func(t *testing.T) {
		a := &models.Horse{Name: "Comet", Embedding: []float32{0.1, 0.2, 0.3}}
		require.NoError(t, s.CreateHorse(ctx, a))
		b := &models.Horse{Name: "Dancer"}
		require.NoError(t, s.CreateHorse(ctx, b))
		require.NoError(t, s.UpdateHorseEmbedding(ctx, b.ID, []float32{1, 0, 0, 0, 0}, "v2"))

		assert.ErrorIs(t, s.CreateHorse(ctx, &models.Horse{Name: "Comet"}), ErrConflict)

		horses, err := s.ListHorses(ctx)
		require.NoError(t, err)
		require.Len(t, horses, 2)
		assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, horses[0].Embedding, 1e-6)
		assert.Len(t, horses[1].Embedding, 5)
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		job, err := s.CreateIngestion(ctx, &models.IngestionEvent{CameraID: "barn", FramePath: "f.jpg", SizeBytes: 1}, "detect")
		require.NoError(t, err)

		const n = 12
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []int64
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				j, err := s.ClaimJob(ctx, "detect")
				assert.NoError(t, err)
				if j != nil {
					mu.Lock()
					wins = append(wins, j.ID)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, []int64{job.ID}, wins)

		claimed, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, s.CompleteJob(ctx, claimed, []models.Detection{{ImagePath: "f.jpg", Action: "eating", Confidence: 0.6, Kept: true}}))

		ev, err := s.GetIngestionEvent(ctx, job.EventID)
		require.NoError(t, err)
		assert.Equal(t, models.EventDetected, ev.Status)

		dets, err := s.ListDetections(ctx, models.DetectionFilter{EventID: &job.EventID})
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, []models.HorseScore{}, dets[0].HorseScores)
	})
}
