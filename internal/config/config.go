package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	NATS          NATSConfig          `yaml:"nats"`
	Storage       StorageConfig       `yaml:"storage"`
	ML            MLConfig            `yaml:"ml"`
	Matching      MatchingConfig      `yaml:"matching"`
	Worker        WorkerConfig        `yaml:"worker"`
	Models        ModelsConfig        `yaml:"models"`
	Ingest        IngestConfig        `yaml:"ingest"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
	// Per-client token bucket on POST /ingestion/frame.
	UploadRatePerSec float64 `yaml:"upload_rate_per_sec"`
	UploadBurst      int     `yaml:"upload_burst"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres or sqlite
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	MaxConns   int    `yaml:"max_conns"`
	SQLitePath string `yaml:"sqlite_path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig is optional. With no URL, workers rely on polling alone and
// the API does not relay detections from other processes.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type StorageConfig struct {
	Backend    string      `yaml:"backend"` // local or minio
	UploadsDir string      `yaml:"uploads_dir"`
	MinIO      MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type MLConfig struct {
	ServiceURL      string        `yaml:"service_url"`
	Mock            bool          `yaml:"mock"`
	Timeout         time.Duration `yaml:"timeout"`
	KnownActions    []string      `yaml:"known_actions"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
}

type MatchingConfig struct {
	Threshold         float64       `yaml:"threshold"`
	Mode              string        `yaml:"mode"` // raw or normalized
	CandidateCacheTTL time.Duration `yaml:"candidate_cache_ttl"`
}

type WorkerConfig struct {
	JobType            string        `yaml:"job_type"`
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	QueueStatsInterval time.Duration `yaml:"queue_stats_interval"`
}

// ModelsConfig drives the ml-service. Swapping a model means editing these
// and restarting the process.
type ModelsConfig struct {
	Port           int    `yaml:"port"`
	ModelsDir      string `yaml:"models_dir"`
	ORTLibraryPath string `yaml:"ort_library_path"`
	Device         string `yaml:"device"`

	VLMModelID   string  `yaml:"vlm_model_id"`
	VLMFile      string  `yaml:"vlm_file"`
	VLMRevision  *string `yaml:"vlm_revision"`
	VLMInputSize int     `yaml:"vlm_input_size"`

	EmbedModelID   string  `yaml:"embed_model_id"`
	EmbedFile      string  `yaml:"embed_file"`
	EmbedRevision  *string `yaml:"embed_revision"`
	EmbedInputSize int     `yaml:"embed_input_size"`
	EmbedDim       int     `yaml:"embed_dim"`
}

type IngestConfig struct {
	Cameras     []CameraConfig `yaml:"cameras"`
	FPS         int            `yaml:"fps"`
	FrameWidth  int            `yaml:"frame_width"`
	MaxFrameMiB int            `yaml:"max_frame_mib"`
}

type CameraConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	FPS int    `yaml:"fps"`
}

type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Topics   []string `yaml:"topics"`
	LogFile  string   `yaml:"log_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory is loaded first; it never overrides
// variables already set. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q: must be postgres or sqlite", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("storage.backend %q: must be local or minio", c.Storage.Backend)
	}
	switch c.Matching.Mode {
	case "raw", "normalized":
	default:
		return fmt.Errorf("matching.mode %q: must be raw or normalized", c.Matching.Mode)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold %v: must be within [0,1]", c.Matching.Threshold)
	}
	if !c.ML.Mock && c.ML.ServiceURL == "" {
		return errors.New("ml.service_url is required unless ml.mock is set")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.UploadRatePerSec == 0 {
		cfg.Server.UploadRatePerSec = 10
	}
	if cfg.Server.UploadBurst == 0 {
		cfg.Server.UploadBurst = 20
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "stableguard.db"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "uploads"
	}
	if cfg.Storage.MinIO.Bucket == "" {
		cfg.Storage.MinIO.Bucket = "stableguard"
	}
	if cfg.ML.Timeout == 0 {
		cfg.ML.Timeout = 120 * time.Second
	}
	if len(cfg.ML.KnownActions) == 0 {
		cfg.ML.KnownActions = []string{"standing", "eating", "lying down", "trotting"}
	}
	if cfg.ML.BreakerFailures == 0 {
		cfg.ML.BreakerFailures = 5
	}
	if cfg.ML.BreakerOpen == 0 {
		cfg.ML.BreakerOpen = 30 * time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.35
	}
	if cfg.Matching.Mode == "" {
		cfg.Matching.Mode = "raw"
	}
	if cfg.Matching.CandidateCacheTTL == 0 {
		cfg.Matching.CandidateCacheTTL = 30 * time.Second
	}
	if cfg.Worker.JobType == "" {
		cfg.Worker.JobType = "detect"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if cfg.Worker.QueueStatsInterval == 0 {
		cfg.Worker.QueueStatsInterval = 15 * time.Second
	}
	if cfg.Models.Port == 0 {
		cfg.Models.Port = 8001
	}
	if cfg.Models.ModelsDir == "" {
		cfg.Models.ModelsDir = "models"
	}
	if cfg.Models.Device == "" {
		cfg.Models.Device = "cpu"
	}
	if cfg.Models.VLMModelID == "" {
		cfg.Models.VLMModelID = "stableguard/horse-action-onnx"
	}
	if cfg.Models.VLMFile == "" {
		cfg.Models.VLMFile = "action.onnx"
	}
	if cfg.Models.VLMInputSize == 0 {
		cfg.Models.VLMInputSize = 224
	}
	if cfg.Models.EmbedModelID == "" {
		cfg.Models.EmbedModelID = "google/siglip-so400m-patch14-384"
	}
	if cfg.Models.EmbedFile == "" {
		cfg.Models.EmbedFile = "embedder.onnx"
	}
	if cfg.Models.EmbedInputSize == 0 {
		cfg.Models.EmbedInputSize = 384
	}
	if cfg.Models.EmbedDim == 0 {
		cfg.Models.EmbedDim = 1152
	}
	if cfg.Ingest.FPS == 0 {
		cfg.Ingest.FPS = 1
	}
	if cfg.Ingest.FrameWidth == 0 {
		cfg.Ingest.FrameWidth = 1280
	}
	if cfg.Ingest.MaxFrameMiB == 0 {
		cfg.Ingest.MaxFrameMiB = 20
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "stableguard-listener"
	}
	if len(cfg.MQTT.Topics) == 0 {
		cfg.MQTT.Topics = []string{"stableguard/+/events", "stableguard/+/heartbeat"}
	}
	if cfg.MQTT.LogFile == "" {
		cfg.MQTT.LogFile = "mqtt_events.log"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Environment == "" {
		cfg.Observability.Environment = "development"
	}
	if cfg.Observability.Release == "" {
		cfg.Observability.Release = "dev"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SG_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("SG_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SG_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("SG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SG_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SG_UPLOADS_DIR"); v != "" {
		cfg.Storage.UploadsDir = v
	}
	if v := os.Getenv("SG_MINIO_ENDPOINT"); v != "" {
		cfg.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("SG_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("SG_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("SG_MINIO_BUCKET"); v != "" {
		cfg.Storage.MinIO.Bucket = v
	}
	if v := os.Getenv("SG_ML_SERVICE_URL"); v != "" {
		cfg.ML.ServiceURL = v
	}
	if v := os.Getenv("SG_ML_MOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ML.Mock = b
		}
	}
	if v := os.Getenv("SG_KNOWN_ACTIONS"); v != "" {
		cfg.ML.KnownActions = splitList(v)
	}
	if v := os.Getenv("SG_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("SG_MATCH_MODE"); v != "" {
		cfg.Matching.Mode = v
	}
	if v := os.Getenv("SG_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("SG_WORKER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.PollInterval = d
		}
	}
	if v := os.Getenv("SG_MODELS_DIR"); v != "" {
		cfg.Models.ModelsDir = v
	}
	if v := os.Getenv("SG_VLM_MODEL_ID"); v != "" {
		cfg.Models.VLMModelID = v
	}
	if v := os.Getenv("SG_EMBED_MODEL_ID"); v != "" {
		cfg.Models.EmbedModelID = v
	}
	if v := os.Getenv("SG_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SG_SENTRY_DSN"); v != "" {
		cfg.Observability.SentryDSN = v
	}
	if v := os.Getenv("SG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
