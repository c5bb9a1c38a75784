// Package identity manages the registry of known horses and their reference
// embeddings.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
)

var (
	ErrNoReferenceImage      = errors.New("horse has no reference image")
	ErrReferenceImageMissing = errors.New("reference image not found in storage")
)

// EmbeddingError wraps a failed embedding call for a specific horse.
type EmbeddingError struct {
	HorseID int64
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed horse %d: %v", e.HorseID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

type Service struct {
	horses  storage.HorseStore
	frames  storage.FrameStore
	ml      inference.Service
	catalog *Catalog
}

func NewService(horses storage.HorseStore, frames storage.FrameStore, ml inference.Service, catalog *Catalog) *Service {
	return &Service{horses: horses, frames: frames, ml: ml, catalog: catalog}
}

type CreateInput struct {
	Name        string
	Description *string
	Image       []byte
	Filename    string
	ContentType string
}

// Create stores the reference image and the horse. A failed embedding is
// logged and the horse is kept without one; Reembed can fill it in later.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Horse, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", storage.ErrInvalidInput)
	}
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("reference image is empty: %w", storage.ErrInvalidInput)
	}

	key := "horses/" + uuid.New().String() + imageExt(in.Filename)
	if err := s.frames.Put(ctx, key, in.Image, in.ContentType); err != nil {
		return nil, fmt.Errorf("store reference image: %w", err)
	}

	h := &models.Horse{Name: name, Description: in.Description, ReferenceImagePath: key}
	if emb, err := s.ml.GenerateEmbedding(ctx, in.Image); err != nil {
		slog.Warn("embedding failed, horse created without embedding", "name", name, "error", err)
	} else {
		h.Embedding = emb.Embedding
		h.EmbedModelID = &emb.ModelID
	}

	if err := s.horses.CreateHorse(ctx, h); err != nil {
		if delErr := s.frames.Delete(ctx, key); delErr != nil {
			slog.Warn("remove orphaned reference image", "key", key, "error", delErr)
		}
		return nil, err
	}
	s.catalog.Invalidate()
	slog.Info("horse created", "horse_id", h.ID, "name", h.Name, "embedded", h.HasEmbedding())
	return h, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Horse, error) {
	return s.horses.GetHorse(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Horse, error) {
	return s.horses.ListHorses(ctx)
}

// Reembed replaces the stored embedding with one from the current model.
func (s *Service) Reembed(ctx context.Context, id int64) (*models.Horse, error) {
	h, err := s.horses.GetHorse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reembed(ctx, h); err != nil {
		return nil, err
	}
	s.catalog.Invalidate()
	return h, nil
}

// ReembedAll re-embeds every horse it can. Per-horse failures are collected
// rather than aborting the run.
func (s *Service) ReembedAll(ctx context.Context) ([]models.Horse, []string, error) {
	horses, err := s.horses.ListHorses(ctx)
	if err != nil {
		return nil, nil, err
	}

	updated := []models.Horse{}
	failures := []string{}
	for i := range horses {
		if ctx.Err() != nil {
			return updated, failures, ctx.Err()
		}
		h := &horses[i]
		if err := s.reembed(ctx, h); err != nil {
			failures = append(failures, fmt.Sprintf("horse %d (%s): %v", h.ID, h.Name, err))
			continue
		}
		updated = append(updated, *h)
	}
	s.catalog.Invalidate()
	if len(failures) > 0 {
		slog.Warn("re-embed finished with errors", "updated", len(updated), "failed", len(failures))
	} else {
		slog.Info("re-embed finished", "updated", len(updated))
	}
	return updated, failures, nil
}

// Delete detaches the horse's detections, removes it and its image.
func (s *Service) Delete(ctx context.Context, id int64) error {
	h, err := s.horses.GetHorse(ctx, id)
	if err != nil {
		return err
	}
	if err := s.horses.DeleteHorse(ctx, id); err != nil {
		return err
	}
	s.catalog.Invalidate()
	if h.ReferenceImagePath != "" {
		if err := s.frames.Delete(ctx, h.ReferenceImagePath); err != nil {
			slog.Warn("remove reference image", "horse_id", id, "key", h.ReferenceImagePath, "error", err)
		}
	}
	return nil
}

func (s *Service) reembed(ctx context.Context, h *models.Horse) error {
	if h.ReferenceImagePath == "" {
		return fmt.Errorf("horse %d: %w", h.ID, ErrNoReferenceImage)
	}
	img, err := s.frames.Get(ctx, h.ReferenceImagePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("horse %d: %w", h.ID, ErrReferenceImageMissing)
		}
		return err
	}
	emb, err := s.ml.GenerateEmbedding(ctx, img)
	if err != nil {
		return &EmbeddingError{HorseID: h.ID, Err: err}
	}
	if err := s.horses.UpdateHorseEmbedding(ctx, h.ID, emb.Embedding, emb.ModelID); err != nil {
		return err
	}
	h.Embedding = emb.Embedding
	h.EmbedModelID = &emb.ModelID
	return nil
}

func imageExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ".jpg"
	}
	return ext
}
