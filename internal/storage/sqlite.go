package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stableguard/stableguard/internal/models"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore is the single-node store. One open connection serialises
// writers; ClaimJob additionally takes the write lock up front with
// BEGIN IMMEDIATE so separate worker processes sharing the file cannot
// claim the same job.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Horses ---

const horseColumns = `id, name, description, reference_image_path, embedding, embed_model_id, created_at`

func (s *SQLiteStore) CreateHorse(ctx context.Context, h *models.Horse) error {
	emb, err := encodeEmbedding(h.Embedding)
	if err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO horses (name, description, reference_image_path, embedding, embed_model_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.Name, h.Description, h.ReferenceImagePath, emb, h.EmbedModelID, formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("create horse: %w", sqliteErr(err))
	}
	h.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create horse: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHorse(ctx context.Context, id int64) (*models.Horse, error) {
	h, err := scanSQLiteHorse(s.db.QueryRowContext(ctx,
		`SELECT `+horseColumns+` FROM horses WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("horse %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get horse: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) ListHorses(ctx context.Context) ([]models.Horse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+horseColumns+` FROM horses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list horses: %w", err)
	}
	defer rows.Close()

	horses := []models.Horse{}
	for rows.Next() {
		h, err := scanSQLiteHorse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan horse: %w", err)
		}
		horses = append(horses, *h)
	}
	return horses, rows.Err()
}

func (s *SQLiteStore) UpdateHorseEmbedding(ctx context.Context, id int64, embedding []float32, modelID string) error {
	emb, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE horses SET embedding = ?, embed_model_id = ? WHERE id = ?`, emb, modelID, id)
	if err != nil {
		return fmt.Errorf("update horse embedding: %w", err)
	}
	return requireAffected(res, "horse", id)
}

func (s *SQLiteStore) DeleteHorse(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE detections SET horse_id = NULL WHERE horse_id = ?`, id); err != nil {
		return fmt.Errorf("detach detections: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM horses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete horse: %w", err)
	}
	if err := requireAffected(res, "horse", id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanSQLiteHorse(row interface{ Scan(...any) error }) (*models.Horse, error) {
	var (
		h         models.Horse
		emb       *string
		createdAt string
	)
	if err := row.Scan(&h.ID, &h.Name, &h.Description, &h.ReferenceImagePath, &emb, &h.EmbedModelID, &createdAt); err != nil {
		return nil, err
	}
	h.Embedding = decodeEmbedding(emb)
	h.CreatedAt = parseTime(createdAt)
	return &h, nil
}

// --- Locations ---

func (s *SQLiteStore) CreateLocation(ctx context.Context, l *models.Location) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (name, description, camera_id) VALUES (?, ?, ?)`,
		l.Name, l.Description, l.CameraID)
	if err != nil {
		return fmt.Errorf("create location: %w", sqliteErr(err))
	}
	l.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create location: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	l := &models.Location{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, camera_id FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CameraID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("location %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) GetLocationByCamera(ctx context.Context, cameraID string) (*models.Location, error) {
	l := &models.Location{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, camera_id FROM locations WHERE camera_id = ?`, cameraID,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CameraID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("location for camera %q: %w", cameraID, ErrNotFound)
		}
		return nil, fmt.Errorf("get location by camera: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, camera_id FROM locations ORDER BY id`)
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

func (s *SQLiteStore) DeleteLocation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", sqliteErr(err))
	}
	return requireAffected(res, "location", id)
}

// --- Detections ---

const detectionColumns = `id, event_id, horse_id, location_id, camera_id, image_path, timestamp, action,
	confidence, kept, horse_scores_json, raw_vlm_response, vlm_model_id, embed_model_id, created_at`

func (s *SQLiteStore) CreateDetection(ctx context.Context, d *models.Detection) error {
	return insertSQLiteDetection(ctx, s.db, d)
}

func (s *SQLiteStore) GetDetection(ctx context.Context, id int64) (*models.Detection, error) {
	d, err := scanSQLiteDetection(s.db.QueryRowContext(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("detection %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDetections(ctx context.Context, f models.DetectionFilter) ([]models.Detection, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections WHERE 1=1`
	var args []any
	if f.HorseID != nil {
		query += ` AND horse_id = ?`
		args = append(args, *f.HorseID)
	}
	if f.LocationID != nil {
		query += ` AND location_id = ?`
		args = append(args, *f.LocationID)
	}
	if f.EventID != nil {
		query += ` AND event_id = ?`
		args = append(args, *f.EventID)
	}
	if f.Day != nil {
		start := time.Date(f.Day.Year(), f.Day.Month(), f.Day.Day(), 0, 0, 0, 0, time.UTC)
		query += ` AND timestamp >= ? AND timestamp < ?`
		args = append(args, formatTime(start), formatTime(start.AddDate(0, 0, 1)))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	out := []models.Detection{}
	for rows.Next() {
		d, err := scanSQLiteDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteDetection(ctx context.Context, db sqlExecer, d *models.Detection) error {
	scores, err := encodeScores(d.HorseScores)
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = d.CreatedAt
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO detections (event_id, horse_id, location_id, camera_id, image_path, timestamp, action,
			confidence, kept, horse_scores_json, raw_vlm_response, vlm_model_id, embed_model_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.EventID, d.HorseID, d.LocationID, d.CameraID, d.ImagePath, formatTime(d.Timestamp), d.Action,
		d.Confidence, d.Kept, string(scores), d.RawResponse, d.VLMModelID, d.EmbedModelID, formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create detection: %w", sqliteErr(err))
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

func scanSQLiteDetection(row interface{ Scan(...any) error }) (*models.Detection, error) {
	var (
		d             models.Detection
		ts, createdAt string
		scores        string
	)
	err := row.Scan(&d.ID, &d.EventID, &d.HorseID, &d.LocationID, &d.CameraID, &d.ImagePath, &ts, &d.Action,
		&d.Confidence, &d.Kept, &scores, &d.RawResponse, &d.VLMModelID, &d.EmbedModelID, &createdAt)
	if err != nil {
		return nil, err
	}
	d.Timestamp = parseTime(ts)
	d.CreatedAt = parseTime(createdAt)
	d.HorseScores = decodeScores([]byte(scores))
	return &d, nil
}

// --- Ingestion queue ---

const eventColumns = `id, camera_id, captured_at, received_at, frame_path, size_bytes, status, last_error`
const jobColumns = `id, type, event_id, status, attempts, created_at, updated_at, last_error`

func (s *SQLiteStore) CreateIngestion(ctx context.Context, ev *models.IngestionEvent, jobType string) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	ev.Status = models.EventReceived
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ingestion_events (camera_id, captured_at, received_at, frame_path, size_bytes, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.CameraID, ev.CapturedAt, formatTime(ev.ReceivedAt), ev.FramePath, ev.SizeBytes, ev.Status)
	if err != nil {
		return nil, fmt.Errorf("create ingestion event: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("create ingestion event: %w", err)
	}

	job, err := insertSQLiteJob(ctx, tx, jobType, ev.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingestion: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) GetIngestionEvent(ctx context.Context, id int64) (*models.IngestionEvent, error) {
	var (
		ev         models.IngestionEvent
		receivedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM ingestion_events WHERE id = ?`, id).
		Scan(&ev.ID, &ev.CameraID, &ev.CapturedAt, &receivedAt, &ev.FramePath, &ev.SizeBytes, &ev.Status, &ev.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ingestion event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get ingestion event: %w", err)
	}
	ev.ReceivedAt = parseTime(receivedAt)
	return &ev, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, jobType string, eventID int64) (*models.Job, error) {
	return insertSQLiteJob(ctx, s.db, jobType, eventID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobType string) (*models.Job, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("claim job: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			// context may be done; rollback must still run on this connection
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	var id int64
	err = conn.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE type = ? AND status = ? ORDER BY id LIMIT 1`,
		jobType, models.JobPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: select: %w", err)
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		models.JobProcessing, formatTime(time.Now()), id); err != nil {
		return nil, fmt.Errorf("claim job: update: %w", err)
	}
	job, err := scanSQLiteJob(conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("claim job: reload: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, fmt.Errorf("claim job: commit: %w", err)
	}
	committed = true
	return job, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, job *models.Job, detections []models.Detection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i := range detections {
		detections[i].EventID = &job.EventID
		if err := insertSQLiteDetection(ctx, tx, &detections[i]); err != nil {
			return err
		}
	}
	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE ingestion_events SET status = ?, last_error = NULL WHERE id = ?`,
		models.EventDetected, job.EventID); err != nil {
		return fmt.Errorf("mark event detected: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		models.JobDone, now, job.ID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	job.Status = models.JobDone
	job.LastError = nil
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, job *models.Job, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.JobFailed, reason, formatTime(time.Now()), job.ID); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ingestion_events SET status = ?, last_error = ? WHERE id = ?`,
		models.EventFailed, reason, job.EventID); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job failure: %w", err)
	}
	job.Status = models.JobFailed
	job.LastError = &reason
	return nil
}

func (s *SQLiteStore) CountJobs(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[models.JobStatus]int{}
	for rows.Next() {
		var (
			status models.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func insertSQLiteJob(ctx context.Context, db sqlExecer, jobType string, eventID int64) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		Type:      jobType,
		EventID:   eventID,
		Status:    models.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO jobs (type, event_id, status, attempts, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		job.Type, job.EventID, job.Status, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if job.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func scanSQLiteJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		j                    models.Job
		createdAt, updatedAt string
	)
	if err := row.Scan(&j.ID, &j.Type, &j.EventID, &j.Status, &j.Attempts, &createdAt, &updatedAt, &j.LastError); err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// sqliteErr maps constraint violations onto ErrConflict.
func sqliteErr(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
