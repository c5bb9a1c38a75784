package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/pkg/dto"
)

type LocationHandler struct {
	store storage.LocationStore
}

func NewLocationHandler(store storage.LocationStore) *LocationHandler {
	return &LocationHandler{store: store}
}

func (h *LocationHandler) Create(c *gin.Context) {
	var req dto.CreateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.CameraID != nil && strings.TrimSpace(*req.CameraID) == "" {
		req.CameraID = nil
	}

	loc := &models.Location{Name: name, Description: req.Description, CameraID: req.CameraID}
	if err := h.store.CreateLocation(c.Request.Context(), loc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loc)
}

func (h *LocationHandler) List(c *gin.Context) {
	locs, err := h.store.ListLocations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, locs)
}

// Delete refuses while detections still reference the location.
func (h *LocationHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteLocation(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
