package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stableguard",
		Name:      "frames_ingested_total",
		Help:      "Total number of frames accepted by the ingestion endpoint",
	}, []string{"camera_id"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stableguard",
		Name:      "jobs_processed_total",
		Help:      "Jobs that reached a terminal state, by type and outcome",
	}, []string{"type", "status"})

	DetectionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stableguard",
		Name:      "detections_created_total",
		Help:      "Detections persisted, split by whether an identity was matched and kept",
	}, []string{"identified", "kept"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stableguard",
		Name:      "inference_duration_seconds",
		Help:      "Duration of model inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stableguard",
		Name:      "queue_depth",
		Help:      "Number of jobs per status",
	}, []string{"status"})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stableguard",
		Name:      "active_cameras",
		Help:      "Number of camera streams currently being pulled",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stableguard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stableguard",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	MQTTMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stableguard",
		Name:      "mqtt_messages_total",
		Help:      "MQTT messages received by the listener",
	}, []string{"kind"})
)

// InferenceTimer starts timing stage; call the returned func when it ends.
func InferenceTimer(stage string) func() {
	start := time.Now()
	return func() {
		InferenceDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
