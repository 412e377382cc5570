package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/regiontree/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "regiontree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, config.DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, config.DefaultIndexShards, cfg.Index.Shards)
	assert.Equal(t, config.DefaultIndexHibernationThreshold, cfg.Index.HibernationThreshold)
	assert.False(t, cfg.Index.AllowOverlap)
	assert.Equal(t, config.DefaultStressOps, cfg.Stress.Ops)
	assert.Equal(t, config.DefaultStressKeySpace, cfg.Stress.KeySpace)
	assert.Equal(t, int64(config.DefaultStressSeed), cfg.Stress.Seed)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, slog.LevelInfo, cfg.Logging.SlogLevel())
	assert.False(t, cfg.Logging.JSON())
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  level: debug
  format: json
index:
  shards: 8
  allow_overlap: true
  cache_entries: 512
stress:
  ops: 5000
  seed: 42
telemetry:
  metrics_addr: ":9464"
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	assert.True(t, cfg.Logging.JSON())
	assert.Equal(t, 8, cfg.Index.Shards)
	assert.True(t, cfg.Index.AllowOverlap)
	assert.Equal(t, int64(512), cfg.Index.CacheEntries)
	assert.Equal(t, 5000, cfg.Stress.Ops)
	assert.Equal(t, int64(42), cfg.Stress.Seed)
	assert.Equal(t, config.DefaultStressVerifyEvery, cfg.Stress.VerifyEvery)
	assert.Equal(t, ":9464", cfg.Telemetry.MetricsAddr)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("REGIONTREE_INDEX_SHARDS", "16")
	t.Setenv("REGIONTREE_STRESS_KEY_SPACE", "128")
	t.Setenv("REGIONTREE_TELEMETRY_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Index.Shards)
	assert.Equal(t, 128, cfg.Stress.KeySpace)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bad_level", "logging:\n  level: loud\n", config.ErrInvalidLogLevel},
		{"bad_format", "logging:\n  format: xml\n", config.ErrInvalidLogFormat},
		{"zero_shards", "index:\n  shards: 0\n", config.ErrInvalidShards},
		{"negative_threshold", "index:\n  hibernation_threshold: -1\n", config.ErrInvalidThreshold},
		{"negative_cache", "index:\n  cache_entries: -5\n", config.ErrInvalidCache},
		{"zero_ops", "stress:\n  ops: 0\n", config.ErrInvalidStressOps},
		{"zero_key_space", "stress:\n  key_space: 0\n", config.ErrInvalidKeySpace},
		{"negative_verify", "stress:\n  verify_every: -1\n", config.ErrInvalidVerifyEvery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}
