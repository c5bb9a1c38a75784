// Package registry holds the inference backends an ml-service process loaded
// at startup, keyed by role.
//
// A Registry is filled once before serving starts and only read afterwards.
// Register is not safe to call concurrently with Get.
package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type Role string

const (
	RoleVLM      Role = "vlm"
	RoleEmbedder Role = "embedder"
)

var (
	ErrModelNotLoaded    = errors.New("model not loaded")
	ErrAlreadyRegistered = errors.New("model role already registered")
)

// NotLoadedError names the role that was looked up.
type NotLoadedError struct {
	Role Role
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("model for role %q is not loaded", e.Role)
}

func (e *NotLoadedError) Is(target error) bool {
	return target == ErrModelNotLoaded
}

// LoadedModel is an inference backend plus the metadata recorded with its
// outputs. Backend is whatever the role's caller type-asserts to.
type LoadedModel struct {
	Role     Role
	ModelID  string
	Revision *string
	Device   string
	LoadedAt time.Time
	Backend  any
}

type Registry struct {
	models map[Role]*LoadedModel
	order  []Role
	mock   bool
}

func New(mock bool) *Registry {
	return &Registry{models: make(map[Role]*LoadedModel), mock: mock}
}

// Register stores m under role. Each role may be registered once.
func (r *Registry) Register(role Role, m *LoadedModel) error {
	if _, ok := r.models[role]; ok {
		return fmt.Errorf("register %s: %w", role, ErrAlreadyRegistered)
	}
	m.Role = role
	if m.LoadedAt.IsZero() {
		m.LoadedAt = time.Now().UTC()
	}
	r.models[role] = m
	r.order = append(r.order, role)
	slog.Info("model registered", "role", role, "model_id", m.ModelID, "device", m.Device)
	return nil
}

// Get never waits; a missing role is a *NotLoadedError.
func (r *Registry) Get(role Role) (*LoadedModel, error) {
	m, ok := r.models[role]
	if !ok {
		return nil, &NotLoadedError{Role: role}
	}
	return m, nil
}

func (r *Registry) IsLoaded() bool {
	return len(r.models) > 0
}

func (r *Registry) MockMode() bool {
	return r.mock
}

// Healthy is what the health endpoint reports.
func (r *Registry) Healthy() bool {
	return r.IsLoaded() || r.mock
}

// All returns loaded models in registration order.
func (r *Registry) All() []*LoadedModel {
	out := make([]*LoadedModel, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.models[role])
	}
	return out
}

// Close releases backends that hold native resources. Call at process exit.
func (r *Registry) Close() {
	for _, role := range r.order {
		if c, ok := r.models[role].Backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("close model backend", "role", role, "error", err)
			}
		}
	}
}
