package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by BUGHATCH_BACKEND.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendGit      = "git"
)

type Config struct {
	Backend     string `env:"BUGHATCH_BACKEND" envDefault:"file"`
	DataDir     string `env:"BUGHATCH_DATA_DIR" envDefault:"./data"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	GitAuthor   string `env:"BUGHATCH_GIT_AUTHOR" envDefault:"bughatch"`

	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	UploadDir string `env:"BUGHATCH_UPLOAD_DIR" envDefault:"./data/uploads"`
	// MinIO is used for attachment blobs when an endpoint is set.
	MinioEndpoint  string `env:"BUGHATCH_MINIO_ENDPOINT"`
	MinioAccessKey string `env:"BUGHATCH_MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"BUGHATCH_MINIO_SECRET_KEY"`
	MinioBucket    string `env:"BUGHATCH_MINIO_BUCKET" envDefault:"bughatch-attachments"`
	MinioRegion    string `env:"BUGHATCH_MINIO_REGION" envDefault:"us-east-1"`
	MinioUseSSL    bool   `env:"BUGHATCH_MINIO_USE_SSL" envDefault:"false"`

	// Invitation notices are mailed when an SMTP host is set.
	SMTPHost     string `env:"BUGHATCH_SMTP_HOST"`
	SMTPPort     string `env:"BUGHATCH_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"BUGHATCH_SMTP_USERNAME"`
	SMTPPassword string `env:"BUGHATCH_SMTP_PASSWORD"`
	SMTPFrom     string `env:"BUGHATCH_SMTP_FROM"`
	SMTPFromName string `env:"BUGHATCH_SMTP_FROM_NAME" envDefault:"BugHatch"`
	PublicURL    string `env:"BUGHATCH_PUBLIC_URL" envDefault:"http://localhost:3000"`

	OutboxInterval    time.Duration `env:"BUGHATCH_OUTBOX_INTERVAL" envDefault:"5s"`
	OutboxMaxAttempts int           `env:"BUGHATCH_OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
	OutboxRetention   time.Duration `env:"BUGHATCH_OUTBOX_RETENTION" envDefault:"24h"`

	// Signups with one of these emails become admins.
	AdminEmails []string `env:"BUGHATCH_ADMIN_EMAILS" envSeparator:","`

	ChromePath  string `env:"BUGHATCH_CHROME_PATH"`
	ExportPaper string `env:"BUGHATCH_EXPORT_PAPER" envDefault:"letter"`

	SeedDemo  bool `env:"BUGHATCH_SEED_DEMO" envDefault:"true"`
	ForceSeed bool `env:"BUGHATCH_FORCE_SEED_DEMO" envDefault:"false"`

	OTelEnabled     bool   `env:"BUGHATCH_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint    string `env:"BUGHATCH_OTEL_ENDPOINT"`
	OTelServiceName string `env:"BUGHATCH_OTEL_SERVICE_NAME" envDefault:"bughatch"`

	LogLevel string `env:"BUGHATCH_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendBolt, BackendGit:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("BUGHATCH_DATA_DIR is required for the %s backend", c.Backend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown BUGHATCH_BACKEND %q", c.Backend)
	}
	if c.OutboxInterval <= 0 {
		return fmt.Errorf("BUGHATCH_OUTBOX_INTERVAL must be positive")
	}
	if c.OutboxRetention < 0 {
		return fmt.Errorf("BUGHATCH_OUTBOX_RETENTION must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
