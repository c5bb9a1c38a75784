package models

import "time"

type EventStatus string

const (
	EventReceived EventStatus = "received"
	EventDetected EventStatus = "detected"
	EventFailed   EventStatus = "failed"
)

// IngestionEvent records one uploaded frame.
type IngestionEvent struct {
	ID         int64       `json:"id" db:"id"`
	CameraID   string      `json:"camera_id" db:"camera_id"`
	CapturedAt *string     `json:"captured_at,omitempty" db:"captured_at"` // caller supplied, stored verbatim
	ReceivedAt time.Time   `json:"received_at" db:"received_at"`
	FramePath  string      `json:"frame_path" db:"frame_path"`
	SizeBytes  int64       `json:"size_bytes" db:"size_bytes"`
	Status     EventStatus `json:"status" db:"status"`
	LastError  *string     `json:"last_error,omitempty" db:"last_error"`
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// JobTypeDetect runs the analyzer over an ingested frame.
const JobTypeDetect = "detect"

type Job struct {
	ID        int64     `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	EventID   int64     `json:"event_id" db:"event_id"`
	Status    JobStatus `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	LastError *string   `json:"last_error,omitempty" db:"last_error"`
}

// Terminal reports whether the job reached done or failed.
func (j *Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}
