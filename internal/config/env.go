package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment holds settings that are only read from the environment.
type Environment struct {
	// ConfigPath replaces config discovery when set.
	ConfigPath string `env:"TOOLGUARD_CONFIG"`
	// Host is the socket address of a running server.
	Host string `env:"TOOLGUARD_HOST"`
}

// ReadEnvironment parses the TOOLGUARD_* process settings.
func ReadEnvironment() (Environment, error) {
	return env.ParseAs[Environment]()
}

// ApplyEnv overrides opts with any TOOLGUARD_* variables that are set.
func ApplyEnv(opts *Options) error {
	return env.Parse(opts)
}

// LoadDotEnv loads variables from path into the process environment without
// overriding ones already set. An empty path loads ".env" if it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
