package models

import "time"

type Horse struct {
	ID                 int64     `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Description        *string   `json:"description,omitempty" db:"description"`
	ReferenceImagePath string    `json:"reference_image_path" db:"reference_image_path"`
	Embedding          []float32 `json:"-" db:"embedding"`
	EmbedModelID       *string   `json:"embed_model_id,omitempty" db:"embed_model_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// HasEmbedding reports whether a reference embedding is stored.
func (h *Horse) HasEmbedding() bool {
	return len(h.Embedding) > 0
}

type Location struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Description *string `json:"description,omitempty" db:"description"`
	CameraID    *string `json:"camera_id,omitempty" db:"camera_id"`
}
