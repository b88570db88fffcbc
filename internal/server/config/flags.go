package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/movies/internal/flagx"
)

var knownFlags = []string{
	"-d", "-g", "-b", "-e", "-u", "-p", "-m", "-r", "-i", "-l",
	"-metrics", "-reconcile-once",
}

// parseFlags overlays command-line flags onto config.
//
//	-d string        PostgreSQL DSN (empty: in-memory store)
//	-g string        S3 region
//	-b string        S3 bucket
//	-e string        S3 endpoint
//	-u string        S3 access key id
//	-p string        S3 secret access key
//	-m string        media delivery base URL
//	-r string        Redis URL (empty: in-process cache)
//	-i duration      orphan reconcile interval
//	-l string        log level
//	-metrics string  metrics listen address (empty: disabled)
//	-reconcile-once  run one orphan sweep and exit
//
// Arguments not listed here are ignored so other components can share the
// command line.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("movies", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 endpoint")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key id")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret access key")
	fs.StringVar(&config.MediaBaseURL, "m", config.MediaBaseURL, "media delivery base URL")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "Redis URL")
	fs.DurationVar(&config.ReconcileInterval, "i", config.ReconcileInterval, "orphan reconcile interval")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.MetricsAddr, "metrics", config.MetricsAddr, "metrics listen address")
	fs.BoolVar(&config.ReconcileOnce, "reconcile-once", config.ReconcileOnce, "run one orphan sweep and exit")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
