package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestRegisterAndGet(t *testing.T) {
	r := New(false)
	assert.False(t, r.IsLoaded())
	assert.False(t, r.Healthy())

	require.NoError(t, r.Register(RoleEmbedder, &LoadedModel{ModelID: "siglip-onnx", Device: "cpu"}))

	m, err := r.Get(RoleEmbedder)
	require.NoError(t, err)
	assert.Equal(t, RoleEmbedder, m.Role)
	assert.Equal(t, "siglip-onnx", m.ModelID)
	assert.False(t, m.LoadedAt.IsZero())
	assert.True(t, r.IsLoaded())
	assert.True(t, r.Healthy())
}

func TestGetMissingRole(t *testing.T) {
	r := New(false)
	require.NoError(t, r.Register(RoleEmbedder, &LoadedModel{ModelID: "e"}))

	_, err := r.Get(RoleVLM)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	var nl *NotLoadedError
	require.True(t, errors.As(err, &nl))
	assert.Equal(t, RoleVLM, nl.Role)
	assert.Contains(t, err.Error(), "vlm")
}

func TestRegisterTwice(t *testing.T) {
	r := New(false)
	require.NoError(t, r.Register(RoleVLM, &LoadedModel{ModelID: "a"}))

	err := r.Register(RoleVLM, &LoadedModel{ModelID: "b"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	m, err := r.Get(RoleVLM)
	require.NoError(t, err)
	assert.Equal(t, "a", m.ModelID)
}

func TestMockModeIsHealthy(t *testing.T) {
	r := New(true)
	assert.False(t, r.IsLoaded())
	assert.True(t, r.Healthy())

	_, err := r.Get(RoleVLM)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestAllOrderAndClose(t *testing.T) {
	r := New(false)
	c := &closer{}
	require.NoError(t, r.Register(RoleVLM, &LoadedModel{ModelID: "v", Backend: c}))
	require.NoError(t, r.Register(RoleEmbedder, &LoadedModel{ModelID: "e"}))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, RoleVLM, all[0].Role)
	assert.Equal(t, RoleEmbedder, all[1].Role)

	r.Close()
	assert.True(t, c.closed)
}
