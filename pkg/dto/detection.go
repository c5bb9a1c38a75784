package dto

import "github.com/stableguard/stableguard/internal/models"

type DetectionResponse struct {
	ID             int64               `json:"id"`
	EventID        *int64              `json:"event_id"`
	HorseID        *int64              `json:"horse_id"`
	LocationID     *int64              `json:"location_id"`
	CameraID       *string             `json:"camera_id"`
	ImagePath      string              `json:"image_path"`
	Timestamp      string              `json:"timestamp"`
	Action         string              `json:"action"`
	Confidence     float64             `json:"confidence"`
	Kept           bool                `json:"kept"`
	RawVLMResponse *string             `json:"raw_vlm_response"`
	HorseScores    []models.HorseScore `json:"horse_scores"`
	VLMModelID     *string             `json:"vlm_model_id"`
	EmbedModelID   *string             `json:"embed_model_id"`
	CreatedAt      string              `json:"created_at"`
}

func NewDetectionResponse(d *models.Detection) DetectionResponse {
	scores := d.HorseScores
	if scores == nil {
		scores = []models.HorseScore{}
	}
	return DetectionResponse{
		ID:             d.ID,
		EventID:        d.EventID,
		HorseID:        d.HorseID,
		LocationID:     d.LocationID,
		CameraID:       d.CameraID,
		ImagePath:      d.ImagePath,
		Timestamp:      formatTime(d.Timestamp),
		Action:         d.Action,
		Confidence:     d.Confidence,
		Kept:           d.Kept,
		RawVLMResponse: d.RawResponse,
		HorseScores:    scores,
		VLMModelID:     d.VLMModelID,
		EmbedModelID:   d.EmbedModelID,
		CreatedAt:      formatTime(d.CreatedAt),
	}
}

// AnalyzeResponse is returned by POST /api/detections/analyze.
type AnalyzeResponse struct {
	DetectionID    int64               `json:"detection_id"`
	HorseID        *int64              `json:"horse_id"`
	HorseName      *string             `json:"horse_name"`
	LocationID     *int64              `json:"location_id"`
	Action         string              `json:"action"`
	Confidence     float64             `json:"confidence"`
	Kept           bool                `json:"kept"`
	Timestamp      string              `json:"timestamp"`
	ImagePath      string              `json:"image_path"`
	RawVLMResponse *string             `json:"raw_vlm_response"`
	HorseScores    []models.HorseScore `json:"horse_scores"`
}

// WSEvent is a WebSocket message for real-time detection delivery.
type WSEvent struct {
	Type      string            `json:"type"` // detection_created
	CameraID  string            `json:"camera_id,omitempty"`
	Detection DetectionResponse `json:"detection"`
}
