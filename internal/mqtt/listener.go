// Package mqtt is a passive listener that appends camera events and
// heartbeats to a log file. It makes no decisions.
package mqtt

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/observability"
)

// Recorder writes one "<topic> <payload>" line per message.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

func (r *Recorder) Record(topic string, payload []byte) error {
	line := topic + " " + strings.ToValidUTF8(string(payload), "�") + "\n"

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.w, line); err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	observability.MQTTMessages.WithLabelValues(messageKind(topic)).Inc()
	return nil
}

// messageKind is the last topic level when it is a known kind.
func messageKind(topic string) string {
	kind := topic[strings.LastIndex(topic, "/")+1:]
	switch kind {
	case "events", "heartbeat":
		return kind
	}
	return "other"
}

type Listener struct {
	cfg    config.MQTTConfig
	rec    *Recorder
	client paho.Client
}

func NewListener(cfg config.MQTTConfig, rec *Recorder) *Listener {
	return &Listener{cfg: cfg, rec: rec}
}

// Start connects and subscribes. Subscriptions are re-issued on every
// reconnect.
func (l *Listener) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(l.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
		})

	l.client = paho.NewClient(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect to %s: timeout", l.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", l.cfg.Broker, err)
	}
	return nil
}

func (l *Listener) subscribe(c paho.Client) {
	slog.Info("mqtt connected", "broker", l.cfg.Broker)
	filters := make(map[string]byte, len(l.cfg.Topics))
	for _, t := range l.cfg.Topics {
		filters[t] = 0
	}
	token := c.SubscribeMultiple(filters, l.handle)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		slog.Error("mqtt subscribe failed", "topics", l.cfg.Topics, "error", token.Error())
		return
	}
	slog.Info("mqtt subscribed", "topics", l.cfg.Topics)
}

func (l *Listener) handle(_ paho.Client, msg paho.Message) {
	if err := l.rec.Record(msg.Topic(), msg.Payload()); err != nil {
		slog.Error("mqtt record failed", "topic", msg.Topic(), "error", err)
		return
	}
	slog.Debug("mqtt message", "topic", msg.Topic(), "bytes", len(msg.Payload()))
}

func (l *Listener) Stop() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}
