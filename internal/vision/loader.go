package vision

import (
	"fmt"
	"log/slog"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/registry"
)

// LoadModels initializes onnxruntime and registers the action classifier
// and the embedder. It runs once, before the ml-service starts serving.
func LoadModels(cfg config.ModelsConfig, labels []string, reg *registry.Registry) error {
	if cfg.ORTLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.ORTLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnxruntime: %w", err)
	}

	vlmPath := filepath.Join(cfg.ModelsDir, cfg.VLMFile)
	slog.Info("loading action model", "path", vlmPath, "model_id", cfg.VLMModelID)
	action, err := NewActionClassifier(ActionConfig{
		ModelPath: vlmPath,
		InputSize: cfg.VLMInputSize,
		Labels:    labels,
	})
	if err != nil {
		return fmt.Errorf("load action model %s: %w", cfg.VLMModelID, err)
	}
	if err := reg.Register(registry.RoleVLM, &registry.LoadedModel{
		ModelID:  cfg.VLMModelID,
		Revision: cfg.VLMRevision,
		Device:   cfg.Device,
		Backend:  action,
	}); err != nil {
		action.Close()
		return err
	}

	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbedFile)
	slog.Info("loading embedding model", "path", embPath, "model_id", cfg.EmbedModelID)
	emb, err := NewEmbedder(EmbedderConfig{
		ModelPath: embPath,
		InputSize: cfg.EmbedInputSize,
		Dim:       cfg.EmbedDim,
	})
	if err != nil {
		return fmt.Errorf("load embedding model %s: %w", cfg.EmbedModelID, err)
	}
	if err := reg.Register(registry.RoleEmbedder, &registry.LoadedModel{
		ModelID:  cfg.EmbedModelID,
		Revision: cfg.EmbedRevision,
		Device:   cfg.Device,
		Backend:  emb,
	}); err != nil {
		emb.Close()
		return err
	}
	return nil
}

// DestroyEnvironment releases onnxruntime after the registry is closed.
func DestroyEnvironment() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnxruntime environment", "error", err)
	}
}
