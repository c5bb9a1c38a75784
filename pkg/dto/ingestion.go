package dto

import "github.com/stableguard/stableguard/internal/models"

// FrameReceipt is returned by POST /ingestion/frame.
type FrameReceipt struct {
	OK         bool    `json:"ok"`
	EventID    int64   `json:"event_id"`
	JobID      int64   `json:"job_id"`
	CameraID   string  `json:"camera_id"`
	Timestamp  *string `json:"timestamp"`
	ReceivedAt string  `json:"received_at"`
	SavedPath  string  `json:"saved_path"`
	SizeBytes  int64   `json:"size_bytes"`
}

type IngestionEventResponse struct {
	ID         int64   `json:"id"`
	CameraID   string  `json:"camera_id"`
	CapturedAt *string `json:"captured_at"`
	ReceivedAt string  `json:"received_at"`
	FramePath  string  `json:"frame_path"`
	SizeBytes  int64   `json:"size_bytes"`
	Status     string  `json:"status"`
	LastError  *string `json:"last_error"`
}

func NewIngestionEventResponse(ev *models.IngestionEvent) IngestionEventResponse {
	return IngestionEventResponse{
		ID:         ev.ID,
		CameraID:   ev.CameraID,
		CapturedAt: ev.CapturedAt,
		ReceivedAt: formatTime(ev.ReceivedAt),
		FramePath:  ev.FramePath,
		SizeBytes:  ev.SizeBytes,
		Status:     string(ev.Status),
		LastError:  ev.LastError,
	}
}

type EventDetectionsResponse struct {
	EventID    int64               `json:"event_id"`
	Detections []DetectionResponse `json:"detections"`
}

type JobResponse struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	EventID   int64   `json:"event_id"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	LastError *string `json:"last_error"`
}

func NewJobResponse(j *models.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		EventID:   j.EventID,
		Status:    string(j.Status),
		Attempts:  j.Attempts,
		CreatedAt: formatTime(j.CreatedAt),
		UpdatedAt: formatTime(j.UpdatedAt),
		LastError: j.LastError,
	}
}
