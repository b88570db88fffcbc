package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/movies/internal/flagx"
	"github.com/dmitrijs2005/movies/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// strings such as "12h" and integer nanoseconds. Fields left out of the file
// keep their current values.
type JsonConfig struct {
	DatabaseDSN         string         `json:"database_dsn"`
	S3Region            string         `json:"s3_region"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Endpoint          string         `json:"s3_endpoint"`
	S3AccessKey         string         `json:"s3_access_key_id"`
	S3SecretKey         string         `json:"s3_secret_access_key"`
	S3UsePathStyle      *bool          `json:"s3_use_path_style"`
	MediaBaseURL        string         `json:"media_base_url"`
	MaxUploadBytes      int64          `json:"max_upload_bytes"`
	RedisURL            string         `json:"redis_url"`
	CacheKeyPrefix      string         `json:"cache_key_prefix"`
	ImageCacheTTL       timex.Duration `json:"image_cache_ttl"`
	MovieImagesCacheTTL timex.Duration `json:"movie_images_cache_ttl"`
	ReconcileInterval   timex.Duration `json:"reconcile_interval"`
	MetricsAddr         string         `json:"metrics_addr"`
	LogLevel            string         `json:"log_level"`
	LogFormat           string         `json:"log_format"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays the file named by -c/-config, if any, onto config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Endpoint, c.S3Endpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	if c.S3UsePathStyle != nil {
		config.S3UsePathStyle = *c.S3UsePathStyle
	}
	setString(&config.MediaBaseURL, c.MediaBaseURL)
	if c.MaxUploadBytes != 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.CacheKeyPrefix, c.CacheKeyPrefix)
	if !c.ImageCacheTTL.IsZero() {
		config.ImageCacheTTL = c.ImageCacheTTL.Duration
	}
	if !c.MovieImagesCacheTTL.IsZero() {
		config.MovieImagesCacheTTL = c.MovieImagesCacheTTL.Duration
	}
	if !c.ReconcileInterval.IsZero() {
		config.ReconcileInterval = c.ReconcileInterval.Duration
	}
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	return nil
}
