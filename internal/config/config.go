// Package config loads schemasync settings from defaults, a YAML file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SCHEMASYNC_"

// Defaults
const (
	DefaultConfigFile  = "schemasync.yaml"
	DefaultEnvFile     = ".env"
	DefaultVault       = "schema.vault"
	DefaultLockFile    = ".schemasync.lock"
	DefaultLockTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

// ErrNoConnection is returned when no connection descriptor is configured
var ErrNoConnection = errors.New("no connection configured")

// Config holds the resolved settings
type Config struct {
	Connection  string        `koanf:"connection"`
	Vault       string        `koanf:"vault"`
	InfoTables  string        `koanf:"info_tables"`
	LockFile    string        `koanf:"lock_file"`
	LockTimeout time.Duration `koanf:"lock_timeout"`
	ChunkSize   int           `koanf:"chunk_size"`
	LogLevel    string        `koanf:"log_level"`
	LogFormat   string        `koanf:"log_format"`
}

// Load resolves the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// An empty path falls back to DefaultConfigFile when it exists.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"vault":        DefaultVault,
		"lock_file":    DefaultLockFile,
		"lock_timeout": DefaultLockTimeout.String(),
		"log_level":    DefaultLogLevel,
		"log_format":   DefaultLogFormat,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// SCHEMASYNC_LOCK_TIMEOUT -> lock_timeout
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings a run needs
func (c *Config) Validate() error {
	if c.Connection == "" {
		return ErrNoConnection
	}
	if c.Vault == "" {
		return errors.New("vault path is required")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("invalid lock timeout: %s", c.LockTimeout)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	}
	return nil
}
