// Package mlserver is the HTTP front end of the ml-service: it serves the action
// and embedding backends held in a registry, or deterministic mocks.
package mlserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/registry"
	"github.com/stableguard/stableguard/pkg/dto"
)

// ActionBackend is what a registered vlm model must provide.
type ActionBackend interface {
	Classify(ctx context.Context, image []byte) (string, float64, error)
}

// EmbedBackend is what a registered embedder must provide.
type EmbedBackend interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

type Server struct {
	reg    *registry.Registry
	mock   *inference.Mock
	device string
}

// New serves reg. A non-nil mock answers every request instead.
func New(reg *registry.Registry, mock *inference.Mock, device string) *Server {
	return &Server{reg: reg, mock: mock, device: device}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/action", s.Action)
	r.POST("/embed", s.Embed)
	r.GET("/health", s.Health)
	r.GET("/models", s.Models)
	return r
}

func (s *Server) Action(c *gin.Context) {
	img, ok := readImage(c)
	if !ok {
		return
	}
	if s.mock != nil {
		res, _ := s.mock.AnalyzeAction(c.Request.Context(), img)
		c.JSON(http.StatusOK, dto.ActionResponse{
			Action:      res.Action,
			Confidence:  res.Confidence,
			Description: res.Description,
			ModelID:     res.ModelID,
		})
		return
	}

	m, err := s.reg.Get(registry.RoleVLM)
	if err != nil {
		respondModelError(c, err)
		return
	}
	backend, ok := m.Backend.(ActionBackend)
	if !ok {
		respondModelError(c, fmt.Errorf("vlm backend %T cannot classify", m.Backend))
		return
	}
	action, conf, err := backend.Classify(c.Request.Context(), img)
	if err != nil {
		respondModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ActionResponse{
		Action:        action,
		Confidence:    conf,
		Description:   fmt.Sprintf("Horse appears to be %s.", action),
		ModelID:       m.ModelID,
		ModelRevision: m.Revision,
	})
}

func (s *Server) Embed(c *gin.Context) {
	img, ok := readImage(c)
	if !ok {
		return
	}
	if s.mock != nil {
		res, _ := s.mock.GenerateEmbedding(c.Request.Context(), img)
		c.JSON(http.StatusOK, dto.EmbedResponse{Embedding: res.Embedding, Dim: res.Dim, ModelID: res.ModelID})
		return
	}

	m, err := s.reg.Get(registry.RoleEmbedder)
	if err != nil {
		respondModelError(c, err)
		return
	}
	backend, ok := m.Backend.(EmbedBackend)
	if !ok {
		respondModelError(c, fmt.Errorf("embedder backend %T cannot embed", m.Backend))
		return
	}
	vec, err := backend.Embed(c.Request.Context(), img)
	if err != nil {
		respondModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EmbedResponse{
		Embedding:     vec,
		Dim:           len(vec),
		ModelID:       m.ModelID,
		ModelRevision: m.Revision,
	})
}

func (s *Server) Health(c *gin.Context) {
	resp := dto.MLHealthResponse{
		Status:       "ok",
		ModelsLoaded: s.reg.IsLoaded() || s.mock != nil,
		Device:       s.device,
		MockMode:     s.mock != nil,
	}
	if s.mock != nil {
		resp.VLMModelID, resp.EmbedModelID = "mock", "mock"
	} else {
		if m, err := s.reg.Get(registry.RoleVLM); err == nil {
			resp.VLMModelID = m.ModelID
		}
		if m, err := s.reg.Get(registry.RoleEmbedder); err == nil {
			resp.EmbedModelID = m.ModelID
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Models(c *gin.Context) {
	if s.mock != nil {
		c.JSON(http.StatusOK, []dto.ModelInfo{
			{ModelID: "mock", Role: string(registry.RoleVLM), LoadedAt: "n/a", Device: "cpu"},
			{ModelID: "mock", Role: string(registry.RoleEmbedder), LoadedAt: "n/a", Device: "cpu"},
		})
		return
	}
	out := []dto.ModelInfo{}
	for _, m := range s.reg.All() {
		out = append(out, dto.ModelInfo{
			ModelID:  m.ModelID,
			Role:     string(m.Role),
			LoadedAt: m.LoadedAt.UTC().Format(time.RFC3339Nano),
			Revision: m.Revision,
			Device:   m.Device,
		})
	}
	c.JSON(http.StatusOK, out)
}

// readImage reads the multipart "image" field, writing 415 for a declared
// non-image type and 400 for a missing or empty upload.
func readImage(c *gin.Context) ([]byte, bool) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing image upload"})
		return nil, false
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if !allowedTypes[mt] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"detail": fmt.Sprintf("Unsupported media type: %s. Expected JPEG, PNG, or WebP.", ct),
			})
			return nil, false
		}
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable image upload"})
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable image upload"})
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Empty image upload."})
		return nil, false
	}
	return data, true
}

func respondModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrModelNotLoaded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
	case errors.Is(err, inference.ErrUndecodableImage):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	default:
		slog.Error("inference failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Inference error: %v", err)})
	}
}
