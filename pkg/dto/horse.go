package dto

import (
	"time"

	"github.com/stableguard/stableguard/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type HorseResponse struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Description        *string `json:"description"`
	ReferenceImagePath string  `json:"reference_image_path"`
	HasEmbedding       bool    `json:"has_embedding"`
	EmbedModelID       *string `json:"embed_model_id"`
	CreatedAt          string  `json:"created_at"`
}

func NewHorseResponse(h *models.Horse) HorseResponse {
	return HorseResponse{
		ID:                 h.ID,
		Name:               h.Name,
		Description:        h.Description,
		ReferenceImagePath: h.ReferenceImagePath,
		HasEmbedding:       h.HasEmbedding(),
		EmbedModelID:       h.EmbedModelID,
		CreatedAt:          formatTime(h.CreatedAt),
	}
}

type HorseDetailResponse struct {
	Horse            HorseResponse       `json:"horse"`
	RecentDetections []DetectionResponse `json:"recent_detections"`
}

// ReembedAllResponse reports a best-effort bulk re-embed.
type ReembedAllResponse struct {
	Updated []HorseResponse `json:"updated"`
	Errors  []string        `json:"errors"`
}

type CreateLocationRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	CameraID    *string `json:"camera_id"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
