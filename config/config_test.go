package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultHasFixedThresholds(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.Equal(t, []int{0, 5, 10, 25, 50, 100, 250}, cfg.Clustering.Thresholds)
	require.Equal(t, -1.75, cfg.Clustering.ZScoreClusterReject)
	require.Equal(t, -1.0, cfg.Clustering.ZScoreMemberReject)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: \"postgres://x\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://x", cfg.Database.DSN)
	// Unspecified fields keep their embedded defaults.
	require.Equal(t, []int{0, 5, 10, 25, 50, 100, 250}, cfg.Clustering.Thresholds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
