package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONFIG_FILE", "MONGODB_URI", "MONGODB_DATABASE", "DATABASE_URL",
		"REDIS_HOST", "REDIS_PORT", "REDIS_ENABLED", "OPENAI_API_KEY",
		"OPENAI_BASE_URL", "KAFKA_BROKERS", "KAFKA_ENABLED",
		"PROMPTLAB_STORE_DRIVER", "PROMPTLAB_IDS_PAD_WIDTH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestConfigLoader_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.ConnectionString)
	assert.Equal(t, "chat_app", cfg.MongoDB.DatabaseName)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 1000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 5, cfg.OpenAI.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.OpenAI.BreakerCooldown)
	assert.Equal(t, 3, cfg.IDs.PadWidth)
	assert.Equal(t, 5, cfg.IDs.CodeLength)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestConfigLoader_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://db.internal:27017")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("PROMPTLAB_STORE_DRIVER", "sqlite")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db.internal:27017", cfg.MongoDB.ConnectionString)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestConfigLoader_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("store:\n  driver: postgres\nmongodb:\n  database_name: legacy\nids:\n  pad_width: 4\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "legacy", cfg.MongoDB.DatabaseName)
	assert.Equal(t, 4, cfg.IDs.PadWidth)
}

func TestConfigLoader_RejectsUnknownDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTLAB_STORE_DRIVER", "cassandra")

	_, err := NewConfigLoader().Load()
	assert.Error(t, err)
}

func TestLoadAppConfigKeepsLoadedConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROMPTLAB_STORE_DRIVER", "memory")

	cfg, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Same(t, cfg, GetAppConfig())
	assert.Equal(t, "memory", cfg.Store.Driver)
}
