package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"MATCHBOOK_PORT=9100\n"+
			"MATCHBOOK_LOG_LEVEL=debug\n"+
			"MATCHBOOK_KAFKA_BROKERS=k1:9092, k2:9092\n",
	), 0o600))

	// The environment wins over the file.
	t.Setenv("MATCHBOOK_PORT", "9200")
	t.Setenv("MATCHBOOK_LOG_PRETTY", "true")
	t.Cleanup(func() {
		os.Unsetenv("MATCHBOOK_LOG_LEVEL")
		os.Unsetenv("MATCHBOOK_KAFKA_BROKERS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, zerolog.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "matchbook.trades", cfg.Kafka.Topic)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("MATCHBOOK_WORKERS", "zero")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
