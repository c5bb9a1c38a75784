package storage

// PostgresSchema is applied by PostgresStore.Migrate. Every statement is
// idempotent.
const PostgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS horses (
    id                   BIGSERIAL PRIMARY KEY,
    name                 TEXT NOT NULL UNIQUE,
    description          TEXT,
    reference_image_path TEXT NOT NULL DEFAULT '',
    embedding            vector,
    embed_model_id       TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS locations (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    camera_id   TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS ingestion_events (
    id          BIGSERIAL PRIMARY KEY,
    camera_id   TEXT NOT NULL,
    captured_at TEXT,
    received_at TIMESTAMPTZ NOT NULL,
    frame_path  TEXT NOT NULL,
    size_bytes  BIGINT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'received',
    last_error  TEXT
);

CREATE TABLE IF NOT EXISTS jobs (
    id         BIGSERIAL PRIMARY KEY,
    type       TEXT NOT NULL,
    event_id   BIGINT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    attempts   INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON jobs (type, status, id);

CREATE TABLE IF NOT EXISTS detections (
    id                BIGSERIAL PRIMARY KEY,
    event_id          BIGINT REFERENCES ingestion_events(id),
    horse_id          BIGINT REFERENCES horses(id),
    location_id       BIGINT REFERENCES locations(id),
    camera_id         TEXT,
    image_path        TEXT NOT NULL,
    timestamp         TIMESTAMPTZ NOT NULL,
    action            TEXT NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL,
    kept              BOOLEAN NOT NULL DEFAULT true,
    horse_scores_json JSONB NOT NULL DEFAULT '[]',
    raw_vlm_response  TEXT,
    vlm_model_id      TEXT,
    embed_model_id    TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_horse ON detections (horse_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_detections_event ON detections (event_id);
`

// SQLiteSchema stores timestamps as fixed-width UTC text so they sort
// lexically, and embeddings as JSON arrays.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS horses (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    name                 TEXT NOT NULL UNIQUE,
    description          TEXT,
    reference_image_path TEXT NOT NULL DEFAULT '',
    embedding            TEXT,
    embed_model_id       TEXT,
    created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    description TEXT,
    camera_id   TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS ingestion_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    camera_id   TEXT NOT NULL,
    captured_at TEXT,
    received_at TEXT NOT NULL,
    frame_path  TEXT NOT NULL,
    size_bytes  INTEGER NOT NULL,
    status      TEXT NOT NULL DEFAULT 'received',
    last_error  TEXT
);

CREATE TABLE IF NOT EXISTS jobs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    type       TEXT NOT NULL,
    event_id   INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    attempts   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON jobs (type, status, id);

CREATE TABLE IF NOT EXISTS detections (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id          INTEGER REFERENCES ingestion_events(id),
    horse_id          INTEGER REFERENCES horses(id),
    location_id       INTEGER REFERENCES locations(id),
    camera_id         TEXT,
    image_path        TEXT NOT NULL,
    timestamp         TEXT NOT NULL,
    action            TEXT NOT NULL,
    confidence        REAL NOT NULL,
    kept              INTEGER NOT NULL DEFAULT 1,
    horse_scores_json TEXT NOT NULL DEFAULT '[]',
    raw_vlm_response  TEXT,
    vlm_model_id      TEXT,
    embed_model_id    TEXT,
    created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_horse ON detections (horse_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_detections_event ON detections (event_id);
`
