package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// loadDotEnv exports variables from the given files without overriding the
// ones already set in the environment. Missing files are skipped.
func loadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

// parseEnv overlays MOVIES_* variables. Unset variables leave fields as they are.
func parseEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	return nil
}
