package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	return newPostgresStore(cfg.DSN(), cfg.MaxConns)
}

func newPostgresStore(dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Horses ---

// The embedding column is read back as text so rows of any dimension scan
// the same way.
const pgHorseColumns = `id, name, description, reference_image_path, embedding::text, embed_model_id, created_at`

func (s *PostgresStore) CreateHorse(ctx context.Context, h *models.Horse) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO horses (name, description, reference_image_path, embedding, embed_model_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		h.Name, h.Description, h.ReferenceImagePath, vectorArg(h.Embedding), h.EmbedModelID,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("create horse: %w", pgErr(err))
	}
	return nil
}

func (s *PostgresStore) GetHorse(ctx context.Context, id int64) (*models.Horse, error) {
	h, err := scanPgHorse(s.pool.QueryRow(ctx, `SELECT `+pgHorseColumns+` FROM horses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("horse %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get horse: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) ListHorses(ctx context.Context) ([]models.Horse, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgHorseColumns+` FROM horses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list horses: %w", err)
	}
	defer rows.Close()

	horses := []models.Horse{}
	for rows.Next() {
		h, err := scanPgHorse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan horse: %w", err)
		}
		horses = append(horses, *h)
	}
	return horses, rows.Err()
}

func (s *PostgresStore) UpdateHorseEmbedding(ctx context.Context, id int64, embedding []float32, modelID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE horses SET embedding = $1, embed_model_id = $2 WHERE id = $3`,
		vectorArg(embedding), modelID, id)
	if err != nil {
		return fmt.Errorf("update horse embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("horse %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteHorse(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE detections SET horse_id = NULL WHERE horse_id = $1`, id); err != nil {
		return fmt.Errorf("detach detections: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM horses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete horse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("horse %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

func scanPgHorse(row pgx.Row) (*models.Horse, error) {
	var (
		h   models.Horse
		emb *string
	)
	if err := row.Scan(&h.ID, &h.Name, &h.Description, &h.ReferenceImagePath, &emb, &h.EmbedModelID, &h.CreatedAt); err != nil {
		return nil, err
	}
	if emb != nil {
		var v pgvector.Vector
		if err := v.Scan(*emb); err == nil {
			h.Embedding = v.Slice()
		}
	}
	return &h, nil
}

// vectorArg maps an absent embedding to SQL NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// --- Locations ---

func (s *PostgresStore) CreateLocation(ctx context.Context, l *models.Location) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO locations (name, description, camera_id) VALUES ($1, $2, $3) RETURNING id`,
		l.Name, l.Description, l.CameraID,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("create location: %w", pgErr(err))
	}
	return nil
}

func (s *PostgresStore) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	l := &models.Location{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, camera_id FROM locations WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CameraID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLocationByCamera(ctx context.Context, cameraID string) (*models.Location, error) {
	l := &models.Location{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, camera_id FROM locations WHERE camera_id = $1`, cameraID,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CameraID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("location for camera %q: %w", cameraID, ErrNotFound)
		}
		return nil, fmt.Errorf("get location by camera: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, camera_id FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	locations := []models.Location{}
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.CameraID); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *PostgresStore) DeleteLocation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", pgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Detections ---

const pgDetectionColumns = `id, event_id, horse_id, location_id, camera_id, image_path, timestamp, action,
	confidence, kept, horse_scores_json, raw_vlm_response, vlm_model_id, embed_model_id, created_at`

type pgQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) CreateDetection(ctx context.Context, d *models.Detection) error {
	return insertPgDetection(ctx, s.pool, d)
}

func (s *PostgresStore) GetDetection(ctx context.Context, id int64) (*models.Detection, error) {
	d, err := scanPgDetection(s.pool.QueryRow(ctx, `SELECT `+pgDetectionColumns+` FROM detections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("detection %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDetections(ctx context.Context, f models.DetectionFilter) ([]models.Detection, error) {
	query := `SELECT ` + pgDetectionColumns + ` FROM detections WHERE 1=1`
	var args []interface{}
	argN := 1
	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argN)
		args = append(args, v)
		argN++
	}
	if f.HorseID != nil {
		add(` AND horse_id = $%d`, *f.HorseID)
	}
	if f.LocationID != nil {
		add(` AND location_id = $%d`, *f.LocationID)
	}
	if f.EventID != nil {
		add(` AND event_id = $%d`, *f.EventID)
	}
	if f.Day != nil {
		start := time.Date(f.Day.Year(), f.Day.Month(), f.Day.Day(), 0, 0, 0, 0, time.UTC)
		add(` AND timestamp >= $%d`, start)
		add(` AND timestamp < $%d`, start.AddDate(0, 0, 1))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if f.Limit > 0 {
		add(` LIMIT $%d`, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	out := []models.Detection{}
	for rows.Next() {
		d, err := scanPgDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func insertPgDetection(ctx context.Context, q pgQueryer, d *models.Detection) error {
	scores, err := encodeScores(d.HorseScores)
	if err != nil {
		return err
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	err = q.QueryRow(ctx,
		`INSERT INTO detections (event_id, horse_id, location_id, camera_id, image_path, timestamp, action,
			confidence, kept, horse_scores_json, raw_vlm_response, vlm_model_id, embed_model_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		d.EventID, d.HorseID, d.LocationID, d.CameraID, d.ImagePath, d.Timestamp, d.Action,
		d.Confidence, d.Kept, string(scores), d.RawResponse, d.VLMModelID, d.EmbedModelID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create detection: %w", pgErr(err))
	}
	return nil
}

func scanPgDetection(row pgx.Row) (*models.Detection, error) {
	var (
		d      models.Detection
		scores []byte
	)
	err := row.Scan(&d.ID, &d.EventID, &d.HorseID, &d.LocationID, &d.CameraID, &d.ImagePath, &d.Timestamp, &d.Action,
		&d.Confidence, &d.Kept, &scores, &d.RawResponse, &d.VLMModelID, &d.EmbedModelID, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.HorseScores = decodeScores(scores)
	return &d, nil
}

// --- Ingestion queue ---

const pgEventColumns = `id, camera_id, captured_at, received_at, frame_path, size_bytes, status, last_error`
const pgJobColumns = `id, type, event_id, status, attempts, created_at, updated_at, last_error`

func (s *PostgresStore) CreateIngestion(ctx context.Context, ev *models.IngestionEvent, jobType string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	ev.Status = models.EventReceived
	err = tx.QueryRow(ctx,
		`INSERT INTO ingestion_events (camera_id, captured_at, received_at, frame_path, size_bytes, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ev.CameraID, ev.CapturedAt, ev.ReceivedAt, ev.FramePath, ev.SizeBytes, string(ev.Status),
	).Scan(&ev.ID)
	if err != nil {
		return nil, fmt.Errorf("create ingestion event: %w", err)
	}

	job, err := insertPgJob(ctx, tx, jobType, ev.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ingestion: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetIngestionEvent(ctx context.Context, id int64) (*models.IngestionEvent, error) {
	var (
		ev     models.IngestionEvent
		status string
	)
	err := s.pool.QueryRow(ctx, `SELECT `+pgEventColumns+` FROM ingestion_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.CameraID, &ev.CapturedAt, &ev.ReceivedAt, &ev.FramePath, &ev.SizeBytes, &status, &ev.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ingestion event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get ingestion event: %w", err)
	}
	ev.Status = models.EventStatus(status)
	return &ev, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, jobType string, eventID int64) (*models.Job, error) {
	return insertPgJob(ctx, s.pool, jobType, eventID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimJob locks the oldest pending row with SKIP LOCKED, so concurrent
// claimers each move on to a different job instead of waiting.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobType string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM jobs WHERE type = $1 AND status = $2 ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
		jobType, string(models.JobPending)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: select: %w", err)
	}

	job, err := scanPgJob(tx.QueryRow(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = now() WHERE id = $2
		 RETURNING `+pgJobColumns,
		string(models.JobProcessing), id))
	if err != nil {
		return nil, fmt.Errorf("claim job: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim job: commit: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, job *models.Job, detections []models.Detection) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range detections {
		detections[i].EventID = &job.EventID
		if err := insertPgDetection(ctx, tx, &detections[i]); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_events SET status = $1, last_error = NULL WHERE id = $2`,
		string(models.EventDetected), job.EventID); err != nil {
		return fmt.Errorf("mark event detected: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = NULL, updated_at = now() WHERE id = $2`,
		string(models.JobDone), job.ID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	job.Status = models.JobDone
	job.LastError = nil
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, job *models.Job, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, updated_at = now() WHERE id = $3`,
		string(models.JobFailed), reason, job.ID); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_events SET status = $1, last_error = $2 WHERE id = $3`,
		string(models.EventFailed), reason, job.EventID); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job failure: %w", err)
	}
	job.Status = models.JobFailed
	job.LastError = &reason
	return nil
}

func (s *PostgresStore) CountJobs(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[models.JobStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func insertPgJob(ctx context.Context, q pgQueryer, jobType string, eventID int64) (*models.Job, error) {
	job, err := scanPgJob(q.QueryRow(ctx,
		`INSERT INTO jobs (type, event_id, status, attempts) VALUES ($1, $2, $3, 0) RETURNING `+pgJobColumns,
		jobType, eventID, string(models.JobPending)))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func scanPgJob(row pgx.Row) (*models.Job, error) {
	var (
		j      models.Job
		status string
	)
	if err := row.Scan(&j.ID, &j.Type, &j.EventID, &status, &j.Attempts, &j.CreatedAt, &j.UpdatedAt, &j.LastError); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

// pgErr maps constraint violations onto the package sentinels.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case "23505", "23503":
		return fmt.Errorf("%w: %s", ErrConflict, pe.Detail)
	}
	return err
}
