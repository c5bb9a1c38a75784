package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestJSONHandlerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "warn", "json"))

	log.Info("dropped")
	log.Warn("kept", "job_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.EqualValues(t, 7, line["job_id"])
}

func TestTextHandler(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, "info", "text")).Info("hello", "camera_id", "barn-1")
	assert.Contains(t, buf.String(), "camera_id=barn-1")
}

func TestCaptureErrorDisabledIsNoop(t *testing.T) {
	flush, err := InitSentry("", "dev", "test")
	require.NoError(t, err)
	flush()
	CaptureError(assert.AnError, "worker", map[string]string{"job_id": "1"})
}
