package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFrames(t *testing.T) {
	ctx := context.Background()
	fs, err := NewLocalFrames(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Ping(ctx))

	require.NoError(t, fs.Put(ctx, "frames/a.jpg", []byte("jpeg"), "image/jpeg"))
	data, err := fs.Get(ctx, "frames/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, fs.Delete(ctx, "frames/a.jpg"))
	require.NoError(t, fs.Delete(ctx, "frames/a.jpg"))
	_, err = fs.Get(ctx, "frames/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalFramesRejectsEscapingKeys(t *testing.T) {
	fs, err := NewLocalFrames(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../etc/passwd", "/abs/path", "frames/../../x"} {
		err := fs.Put(context.Background(), key, []byte("x"), "")
		assert.ErrorIs(t, err, ErrInvalidInput, key)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	enc, err := encodeEmbedding([]float32{1.5, -2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, decodeEmbedding(enc))

	none, err := encodeEmbedding(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Nil(t, decodeEmbedding(none))

	garbage := "not-a-vector"
	assert.Nil(t, decodeEmbedding(&garbage))
}
