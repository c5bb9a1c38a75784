package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/pkg/dto"
)

const recentDetections = 20

type HorseHandler struct {
	svc        *identity.Service
	detections storage.DetectionStore
	resolver   *ScoreResolver
	maxUpload  int64
}

func NewHorseHandler(svc *identity.Service, detections storage.DetectionStore, resolver *ScoreResolver, maxUpload int64) *HorseHandler {
	return &HorseHandler{svc: svc, detections: detections, resolver: resolver, maxUpload: maxUpload}
}

// Create accepts multipart name, optional description and image.
func (h *HorseHandler) Create(c *gin.Context) {
	up, err := readUpload(c, "image", h.maxUpload)
	if err != nil {
		respondError(c, err)
		return
	}
	var desc *string
	if d, ok := c.GetPostForm("description"); ok && d != "" {
		desc = &d
	}

	horse, err := h.svc.Create(c.Request.Context(), identity.CreateInput{
		Name:        c.PostForm("name"),
		Description: desc,
		Image:       up.Data,
		Filename:    up.Filename,
		ContentType: up.ContentType,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewHorseResponse(horse))
}

func (h *HorseHandler) List(c *gin.Context) {
	horses, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]dto.HorseResponse, 0, len(horses))
	for i := range horses {
		resp = append(resp, dto.NewHorseResponse(&horses[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Get returns the horse with its most recent detections.
func (h *HorseHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	horse, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	dets, err := h.detections.ListDetections(c.Request.Context(), models.DetectionFilter{HorseID: &id, Limit: recentDetections})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HorseDetailResponse{
		Horse:            dto.NewHorseResponse(horse),
		RecentDetections: h.resolver.Responses(c.Request.Context(), dets),
	})
}

func (h *HorseHandler) Reembed(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	horse, err := h.svc.Reembed(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewHorseResponse(horse))
}

func (h *HorseHandler) ReembedAll(c *gin.Context) {
	updated, failures, err := h.svc.ReembedAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.ReembedAllResponse{Updated: make([]dto.HorseResponse, 0, len(updated)), Errors: failures}
	for i := range updated {
		resp.Updated = append(resp.Updated, dto.NewHorseResponse(&updated[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HorseHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
