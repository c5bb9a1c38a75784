package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stableguard/stableguard/internal/config"
)

// FrameStore holds uploaded frames and reference images by key. Keys are
// slash separated, e.g. "frames/barn-1_20240101T120000000000Z_ab12cd34.jpg".
type FrameStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// OpenFrames returns the frame store selected by cfg.Backend.
func OpenFrames(ctx context.Context, cfg config.StorageConfig) (FrameStore, error) {
	switch cfg.Backend {
	case "minio":
		s, err := NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "local":
		return NewLocalFrames(cfg.UploadsDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q: %w", cfg.Backend, ErrInvalidInput)
	}
}

// LocalFrames keeps objects as files under a root directory.
type LocalFrames struct {
	root string
}

func NewLocalFrames(root string) (*LocalFrames, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalFrames{root: root}, nil
}

func (s *LocalFrames) Put(_ context.Context, key string, data []byte, _ string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *LocalFrames) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalFrames) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalFrames) Ping(_ context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

// path rejects keys that would escape the root.
func (s *LocalFrames) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q: %w", key, ErrInvalidInput)
	}
	return filepath.Join(s.root, clean), nil
}
