package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("connection", "", "")
	flags.String("vault", "", "")
	flags.String("log-level", "", "")
	flags.Duration("lock-timeout", 0, "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultVault, cfg.Vault)
	assert.Equal(t, DefaultLockFile, cfg.LockFile)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Empty(t, cfg.Connection)
	assert.ErrorIs(t, cfg.Validate(), ErrNoConnection)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
connection: "sqlite:file.db"
vault: from-file.vault
info_tables: "^countries$"
lock_timeout: 5s
chunk_size: 100
log_level: warn
`)

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "sqlite:file.db", cfg.Connection)
		assert.Equal(t, "from-file.vault", cfg.Vault)
		assert.Equal(t, "^countries$", cfg.InfoTables)
		assert.Equal(t, 5*time.Second, cfg.LockTimeout)
		assert.Equal(t, 100, cfg.ChunkSize)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("SCHEMASYNC_VAULT", "from-env.vault")
		t.Setenv("SCHEMASYNC_LOG_LEVEL", "debug")

		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "from-env.vault", cfg.Vault)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "sqlite:file.db", cfg.Connection)
	})

	t.Run("flags override env", func(t *testing.T) {
		t.Setenv("SCHEMASYNC_VAULT", "from-env.vault")

		cfg, err := Load(path, testFlags(t, "--vault", "from-flag.vault", "--lock-timeout", "1m"))
		require.NoError(t, err)
		assert.Equal(t, "from-flag.vault", cfg.Vault)
		assert.Equal(t, time.Minute, cfg.LockTimeout)
		// Unset flags keep lower layers
		assert.Equal(t, "warn", cfg.LogLevel)
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Connection: "sqlite:a.db", Vault: "v"}},
		{name: "no connection", cfg: Config{Vault: "v"}, wantErr: true},
		{name: "no vault", cfg: Config{Connection: "sqlite:a.db"}, wantErr: true},
		{name: "negative timeout", cfg: Config{Connection: "sqlite:a.db", Vault: "v", LockTimeout: -time.Second}, wantErr: true},
		{name: "negative chunk", cfg: Config{Connection: "sqlite:a.db", Vault: "v", ChunkSize: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
