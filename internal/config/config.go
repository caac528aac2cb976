// Package config loads the service configuration shared by the API and the
// worker. Three layers, later wins: optional .env file, optional YAML file,
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"montage/internal/util"
)

// Config is the complete configuration for both binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Render   RenderConfig   `yaml:"render"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "24h" (yaml.v3 has no native duration support).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxUploadMB     int64    `yaml:"max_upload_mb"`
}

// PostgresConfig holds the job registry connection.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the render queue connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects and configures the asset store backend.
type StorageConfig struct {
	Provider  string       `yaml:"provider"` // localfs | gdrive
	LocalRoot string       `yaml:"local_root"`
	GDrive    GDriveConfig `yaml:"gdrive"`
}

// GDriveConfig holds the Google Drive backend credentials.
type GDriveConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	FolderID     string `yaml:"folder_id"`
}

// RenderConfig drives the worker's engine invocation and pool sizing.
type RenderConfig struct {
	FFmpegPath      string   `yaml:"ffmpeg_path"`
	FFprobePath     string   `yaml:"ffprobe_path"`
	Concurrency     int      `yaml:"concurrency"`
	QueueName       string   `yaml:"queue_name"`
	WorkRoot        string   `yaml:"work_root"`
	KillGrace       Duration `yaml:"kill_grace"`
	StderrTailLines int      `yaml:"stderr_tail_lines"`
	ProbeTimeout    Duration `yaml:"probe_timeout"`
}

// CleanupConfig drives the retention sweeper.
type CleanupConfig struct {
	Interval     Duration `yaml:"interval"`
	JobRetention Duration `yaml:"job_retention"`
	AssetIdleTTL Duration `yaml:"asset_idle_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the configuration used when no file and no env overrides
// are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			AllowedOrigins:  []string{"*"},
			MaxUploadMB:     512,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Storage: StorageConfig{
			Provider:  "localfs",
			LocalRoot: "./data",
		},
		Render: RenderConfig{
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
			Concurrency:     2,
			QueueName:       "montage:jobs",
			WorkRoot:        "./work",
			KillGrace:       Duration(5 * time.Second),
			StderrTailLines: 50,
			ProbeTimeout:    Duration(30 * time.Second),
		},
		Cleanup: CleanupConfig{
			Interval:     Duration(10 * time.Minute),
			JobRetention: Duration(24 * time.Hour),
			AssetIdleTTL: Duration(6 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables. A .env file in the working
// directory is folded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = util.Env("HTTP_ADDR", c.Server.Addr)
	c.Server.MaxUploadMB = int64(util.IntEnv("MAX_UPLOAD_MB", int(c.Server.MaxUploadMB)))
	if v := util.Env("ALLOWED_ORIGINS", ""); v != "" {
		c.Server.AllowedOrigins = splitCSV(v)
	}

	c.Postgres.URL = util.Env("PG_URL", c.Postgres.URL)

	c.Redis.Addr = util.Env("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = util.Env("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = util.IntEnv("REDIS_DB", c.Redis.DB)

	c.Storage.Provider = util.Env("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.LocalRoot = util.Env("STORAGE_LOCAL_ROOT", c.Storage.LocalRoot)
	c.Storage.GDrive.ClientID = util.Env("GDRIVE_CLIENT_ID", c.Storage.GDrive.ClientID)
	c.Storage.GDrive.ClientSecret = util.Env("GDRIVE_CLIENT_SECRET", c.Storage.GDrive.ClientSecret)
	c.Storage.GDrive.RefreshToken = util.Env("GDRIVE_REFRESH_TOKEN", c.Storage.GDrive.RefreshToken)
	c.Storage.GDrive.FolderID = util.Env("GDRIVE_FOLDER_ID", c.Storage.GDrive.FolderID)

	c.Render.FFmpegPath = util.Env("FFMPEG_PATH", c.Render.FFmpegPath)
	c.Render.FFprobePath = util.Env("FFPROBE_PATH", c.Render.FFprobePath)
	c.Render.Concurrency = util.IntEnv("RENDER_CONCURRENCY", c.Render.Concurrency)
	c.Render.QueueName = util.Env("RENDER_QUEUE", c.Render.QueueName)
	c.Render.WorkRoot = util.Env("RENDER_WORK_ROOT", c.Render.WorkRoot)

	c.Logging.Level = util.Env("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = util.Env("LOG_FORMAT", c.Logging.Format)
	c.Logging.AddSource = util.BoolEnv("LOG_SOURCE", c.Logging.AddSource)
}

// Validate checks the configuration before anything connects.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres url is required (PG_URL)")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required (REDIS_ADDR)")
	}
	switch c.Storage.Provider {
	case "localfs":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage local_root is required for the localfs provider")
		}
	case "gdrive":
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("gdrive client_id, client_secret and refresh_token are required")
		}
	default:
		return fmt.Errorf("unknown storage provider: %q", c.Storage.Provider)
	}
	if c.Render.Concurrency <= 0 {
		return fmt.Errorf("render concurrency must be greater than 0")
	}
	if c.Render.QueueName == "" {
		return fmt.Errorf("render queue_name is required")
	}
	if c.Render.WorkRoot == "" {
		return fmt.Errorf("render work_root is required")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be greater than 0")
	}
	if c.Cleanup.Interval <= 0 || c.Cleanup.JobRetention <= 0 || c.Cleanup.AssetIdleTTL <= 0 {
		return fmt.Errorf("cleanup interval, job_retention and asset_idle_ttl must be positive")
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
