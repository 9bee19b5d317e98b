package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	MinIO     MinIOConfig     `yaml:"minio"`
	NATS      NATSConfig      `yaml:"nats"`
	Detection DetectionConfig `yaml:"detection"`
	Motion    MotionConfig    `yaml:"motion"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Recording RecordingConfig `yaml:"recording"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"` // empty disables Postgres; in-memory index is used
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint    string `yaml:"endpoint"` // empty disables archival
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	DeleteLocal bool   `yaml:"delete_local"` // remove local file after successful upload
}

type NATSConfig struct {
	URL string `yaml:"url"` // empty disables the event mirror
}

type DetectionConfig struct {
	Backend           string        `yaml:"backend"` // onnx | none
	ModelPath         string        `yaml:"model_path"`
	Labels            []string      `yaml:"labels"`              // model class names, index order
	ClassesOfInterest []string      `yaml:"classes_of_interest"` // labels that qualify as activity
	Threshold         float64       `yaml:"threshold"`
	SampleInterval    int           `yaml:"sample_interval"` // frames between detection calls
	MaxConcurrent     int           `yaml:"max_concurrent"`  // parallel model invocations across cameras
	Timeout           time.Duration `yaml:"timeout"`
	QueueTimeout      time.Duration `yaml:"queue_timeout"` // max wait for a detection slot
}

type MotionConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Sensitivity float64 `yaml:"sensitivity"` // changed-area fraction that counts as motion
	GridSize    int     `yaml:"grid_size"`   // downsample grid for frame differencing
}

type TriggerConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	PostRoll time.Duration `yaml:"post_roll"`
}

type RecordingConfig struct {
	Dir           string        `yaml:"dir"`
	QuotaBytes    int64         `yaml:"quota_bytes"`
	ReserveBytes  int64         `yaml:"reserve_bytes"` // quota headroom required to open a session
	RetentionDays int           `yaml:"retention_days"`
	CleanupEvery  time.Duration `yaml:"cleanup_every"`
}

type BackoffConfig struct {
	Base           time.Duration `yaml:"base"`
	Multiplier     float64       `yaml:"multiplier"`
	Cap            time.Duration `yaml:"cap"`
	MaxConsecutive int           `yaml:"max_consecutive"` // failures before the long-form backoff state
}

type EventsConfig struct {
	SubscriberQueue int `yaml:"subscriber_queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	SetDefaults(cfg)

	return cfg, nil
}

// SetDefaults fills zero-valued fields with working defaults.
func SetDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Detection.Backend == "" {
		cfg.Detection.Backend = "none"
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = 0.5
	}
	if cfg.Detection.SampleInterval == 0 {
		cfg.Detection.SampleInterval = 5
	}
	if cfg.Detection.MaxConcurrent == 0 {
		cfg.Detection.MaxConcurrent = 2
	}
	if cfg.Detection.Timeout == 0 {
		cfg.Detection.Timeout = 5 * time.Second
	}
	if cfg.Detection.QueueTimeout == 0 {
		cfg.Detection.QueueTimeout = 2 * time.Second
	}
	if len(cfg.Detection.ClassesOfInterest) == 0 {
		cfg.Detection.ClassesOfInterest = []string{"person"}
	}
	if cfg.Motion.Sensitivity == 0 {
		cfg.Motion.Sensitivity = 0.02
	}
	if cfg.Motion.GridSize == 0 {
		cfg.Motion.GridSize = 32
	}
	if cfg.Trigger.Cooldown == 0 {
		cfg.Trigger.Cooldown = 10 * time.Second
	}
	if cfg.Trigger.PostRoll == 0 {
		cfg.Trigger.PostRoll = 5 * time.Second
	}
	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = "recordings"
	}
	if cfg.Recording.QuotaBytes == 0 {
		cfg.Recording.QuotaBytes = 10 << 30 // 10 GiB
	}
	if cfg.Recording.ReserveBytes == 0 {
		cfg.Recording.ReserveBytes = 64 << 20
	}
	if cfg.Recording.RetentionDays == 0 {
		cfg.Recording.RetentionDays = 30
	}
	if cfg.Recording.CleanupEvery == 0 {
		cfg.Recording.CleanupEvery = time.Hour
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = 2
	}
	if cfg.Backoff.Cap == 0 {
		cfg.Backoff.Cap = 30 * time.Second
	}
	if cfg.Backoff.MaxConsecutive == 0 {
		cfg.Backoff.MaxConsecutive = 5
	}
	if cfg.Events.SubscriberQueue == 0 {
		cfg.Events.SubscriberQueue = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NVR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NVR_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("NVR_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NVR_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("NVR_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("NVR_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("NVR_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("NVR_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("NVR_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("NVR_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("NVR_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("NVR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NVR_MODEL_PATH"); v != "" {
		cfg.Detection.ModelPath = v
	}
	if v := os.Getenv("NVR_RECORDING_DIR"); v != "" {
		cfg.Recording.Dir = v
	}
	if v := os.Getenv("NVR_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Recording.QuotaBytes = n
		}
	}
}
