// Package config handles configuration for the server component: defaults,
// an optional JSON file, environment variables (optionally from .env) and
// command-line flags, applied in that order and validated at the end.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings of the movie image service.
//
// An empty DatabaseDSN selects the in-memory record store and an empty
// RedisURL the in-process cache and lock; both are meant for single node
// runs only.
type Config struct {
	DatabaseDSN string `env:"MOVIES_DATABASE_DSN"`

	S3Region       string `env:"MOVIES_S3_REGION" validate:"required"`
	S3Bucket       string `env:"MOVIES_S3_BUCKET" validate:"required"`
	S3Endpoint     string `env:"MOVIES_S3_ENDPOINT" validate:"omitempty,url"`
	S3AccessKey    string `env:"MOVIES_S3_ACCESS_KEY_ID"`
	S3SecretKey    string `env:"MOVIES_S3_SECRET_ACCESS_KEY" validate:"required_with=S3AccessKey"`
	S3UsePathStyle bool   `env:"MOVIES_S3_USE_PATH_STYLE"`

	MediaBaseURL   string `env:"MOVIES_MEDIA_BASE_URL" validate:"omitempty,url"`
	MaxUploadBytes int64  `env:"MOVIES_MAX_UPLOAD_BYTES" validate:"gt=0"`

	RedisURL            string        `env:"MOVIES_REDIS_URL"`
	CacheKeyPrefix      string        `env:"MOVIES_CACHE_KEY_PREFIX" validate:"max=64"`
	ImageCacheTTL       time.Duration `env:"MOVIES_IMAGE_CACHE_TTL" validate:"gt=0"`
	MovieImagesCacheTTL time.Duration `env:"MOVIES_MOVIE_IMAGES_CACHE_TTL" validate:"gt=0"`

	ReconcileInterval time.Duration `env:"MOVIES_RECONCILE_INTERVAL" validate:"gt=0"`
	ReconcileOnce     bool          `env:"MOVIES_RECONCILE_ONCE"`

	MetricsAddr string `env:"MOVIES_METRICS_ADDR"`
	LogLevel    string `env:"MOVIES_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat   string `env:"MOVIES_LOG_FORMAT" validate:"oneof=json text"`
}

// LoadDefaults populates Config with development defaults (a local MinIO and
// in-memory stores).
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = ""
	c.S3Region = "us-east-1"
	c.S3Bucket = "movies"
	c.S3Endpoint = "http://127.0.0.1:9000"
	c.S3UsePathStyle = true
	c.MaxUploadBytes = 10 << 20
	c.CacheKeyPrefix = "movies"
	c.ImageCacheTTL = 24 * time.Hour
	c.MovieImagesCacheTTL = 12 * time.Hour
	c.ReconcileInterval = 24 * time.Hour
	c.MetricsAddr = ":9090"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from defaults, the JSON file named by -c or
// -config, the environment and finally the command-line flags in args.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	loadDotEnv(".env")
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
