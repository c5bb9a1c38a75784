package mqtt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/observability"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

func TestListenerAppendsLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewListener(config.MQTTConfig{}, NewRecorder(&buf))
	before := testutil.ToFloat64(observability.MQTTMessages.WithLabelValues("heartbeat"))

	l.handle(nil, message{topic: "stableguard/cam-1/events", payload: []byte(`{"motion":true}`)})
	l.handle(nil, message{topic: "stableguard/cam-1/heartbeat", payload: []byte("ok")})
	l.handle(nil, message{topic: "stableguard/cam-2/events", payload: []byte{0xff, 'x'}})

	assert.Equal(t,
		"stableguard/cam-1/events {\"motion\":true}\n"+
			"stableguard/cam-1/heartbeat ok\n"+
			"stableguard/cam-2/events �x\n",
		buf.String())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.MQTTMessages.WithLabelValues("heartbeat")))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecordWriteError(t *testing.T) {
	err := NewRecorder(brokenWriter{}).Record("stableguard/cam/events", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, "events", messageKind("stableguard/a/events"))
	assert.Equal(t, "heartbeat", messageKind("stableguard/a/heartbeat"))
	assert.Equal(t, "other", messageKind("stableguard/a/status"))
	assert.Equal(t, "other", messageKind("bare"))
}
