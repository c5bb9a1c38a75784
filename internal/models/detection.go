package models

import "time"

// HorseScore is one entry of the candidate snapshot stored with a detection.
// HorseID is nil for entries that only carry a name.
type HorseScore struct {
	HorseID     *int64  `json:"horse_id"`
	HorseName   string  `json:"horse_name"`
	Probability float64 `json:"probability"`
}

type Detection struct {
	ID           int64        `json:"id" db:"id"`
	EventID      *int64       `json:"event_id,omitempty" db:"event_id"`
	HorseID      *int64       `json:"horse_id" db:"horse_id"`
	LocationID   *int64       `json:"location_id" db:"location_id"`
	CameraID     *string      `json:"camera_id,omitempty" db:"camera_id"`
	ImagePath    string       `json:"image_path" db:"image_path"`
	Timestamp    time.Time    `json:"timestamp" db:"timestamp"`
	Action       string       `json:"action" db:"action"`
	Confidence   float64      `json:"confidence" db:"confidence"`
	Kept         bool         `json:"kept" db:"kept"`
	HorseScores  []HorseScore `json:"horse_scores" db:"horse_scores_json"`
	RawResponse  *string      `json:"raw_vlm_response,omitempty" db:"raw_vlm_response"`
	VLMModelID   *string      `json:"vlm_model_id,omitempty" db:"vlm_model_id"`
	EmbedModelID *string      `json:"embed_model_id,omitempty" db:"embed_model_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// DetectionFilter narrows ListDetections. Zero values mean "any".
type DetectionFilter struct {
	HorseID    *int64
	LocationID *int64
	EventID    *int64
	Day        *time.Time // matches detections whose timestamp falls on this UTC day
	Limit      int
}
