package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SISVENDAS_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Contains(t, cfg.Database.Path, "erp.db")
	require.Contains(t, cfg.Backup.Dir, "backups")
	require.Equal(t, 10, cfg.Backup.MaxBackups)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Retry.InitialInterval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
path = "/tmp/custom.db"

[backup]
dir = "/tmp/backups"
max_backups = 3

[retry]
max_attempts = 7
initial_interval = "250ms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("SISVENDAS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	require.Equal(t, "/tmp/backups", cfg.Backup.Dir)
	require.Equal(t, 3, cfg.Backup.MaxBackups)
	require.Equal(t, 7, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SISVENDAS_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	t.Setenv("SISVENDAS_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("SISVENDAS_BACKUP_MAX_BACKUPS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/env.db", cfg.Database.Path)
	require.Equal(t, 4, cfg.Backup.MaxBackups)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("SISVENDAS_CONFIG", path)

	want := Config{
		Database: DatabaseConfig{Path: "/data/erp.db"},
		Backup:   BackupConfig{Dir: "/data/backups", MaxBackups: 6},
		Retry:    RetryConfig{MaxAttempts: 2, InitialInterval: 50 * time.Millisecond},
	}
	require.NoError(t, Save(want))
	require.FileExists(t, path)

	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}
