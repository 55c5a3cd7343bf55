package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PPLX_API_KEY", "pplx-123")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pplx-123", cfg.APIKey.Key)
	assert.Equal(t, "sonar", cfg.Model.Name)
	assert.Equal(t, 1000, cfg.Chunker.Size)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 2000, cfg.Data.HeaderMaxRows)
	assert.Equal(t, 6000, cfg.Data.ItemMaxRows)
	assert.Equal(t, 3, cfg.Session.WindowSize)
	assert.Equal(t, "sliding", cfg.Session.Policy)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 150, cfg.Server.WriteTimeoutSecs)
	assert.Equal(t, ',', cfg.Delimiter())
}

func TestLoad_OriginalLayoutAndEnvExpansion(t *testing.T) {
	t.Setenv("NFRAG_TEST_KEY", "secret")
	path := writeConfig(t, `
api_key:
  key: ${NFRAG_TEST_KEY}
model:
  name: sonar-pro
data:
  delimiter: ";"
  encoding: iso-8859-1
session:
  policy: pinned
  store: redis
vector_store:
  type: badger
pricing:
  sonar-pro:
    input_per_1k: 0.003
    output_per_1k: 0.015
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "secret", cfg.APIKey.Key)
	assert.Equal(t, "sonar-pro", cfg.Model.Name)
	assert.Equal(t, ';', cfg.Delimiter())
	assert.Equal(t, "iso-8859-1", cfg.Data.Encoding)
	assert.Equal(t, "pinned", cfg.Session.Policy)
	require.NotNil(t, cfg.Session.Redis)
	assert.Equal(t, "localhost:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, 150, cfg.Session.Redis.LockTTLSecs)
	require.NotNil(t, cfg.VectorStore.Badger)
	assert.Equal(t, "data/index", cfg.VectorStore.Badger.Dir)
	assert.Equal(t, PriceConfig{InputPer1K: 0.003, OutputPer1K: 0.015}, cfg.Pricing["sonar-pro"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "api_key: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }},
		{"openai without config", func(c *AppConfig) { c.Embedder.Type = "openai" }},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "faiss" }},
		{"qdrant without url", func(c *AppConfig) { c.VectorStore.Type = "qdrant" }},
		{"pgvector without dsn", func(c *AppConfig) { c.VectorStore.Type = "pgvector" }},
		{"overlap too large", func(c *AppConfig) { c.Chunker.Overlap = c.Chunker.Size }},
		{"long delimiter", func(c *AppConfig) { c.Data.Delimiter = ";;" }},
		{"zero window", func(c *AppConfig) { c.Session.WindowSize = -1 }},
		{"unknown policy", func(c *AppConfig) { c.Session.Policy = "forever" }},
		{"unknown session store", func(c *AppConfig) { c.Session.Store = "memcached" }},
		{"bad port", func(c *AppConfig) { c.Server.Port = 70000 }},
		{"bad top k", func(c *AppConfig) { c.Retrieval.TopK = -2 }},
		{"capacity below -1", func(c *AppConfig) { c.Session.Capacity = -2 }},
		{"short redis lock ttl", func(c *AppConfig) {
			c.Session.Store = "redis"
			c.Session.Redis = &RedisConfig{Addr: "localhost:6379", LockTTLSecs: 10}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_SessionCapacity(t *testing.T) {
	cfg, err := Load(writeConfig(t, "session:\n  capacity: -1\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, -1, cfg.Session.Capacity)
	assert.Equal(t, 0, cfg.SessionCapacity())

	cfg, err = Load(writeConfig(t, "session:\n  capacity: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.SessionCapacity())

	cfg, err = Load(writeConfig(t, "session:\n  capacity: 50\n"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.SessionCapacity())
}

func TestLoad_RedisLockTTLDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  timeout_secs: 20\nsession:\n  store: redis\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 70, cfg.Session.Redis.LockTTLSecs)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Session.Policy = "pinned"
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "${PPLX_API_KEY}")

	t.Setenv("PPLX_API_KEY", "k")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pinned", loaded.Session.Policy)
	assert.Equal(t, "k", loaded.APIKey.Key)
}
