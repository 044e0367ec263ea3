package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL", "TRANSLATION_BASE_URL", "TRANSLATION_MODEL", "DOCLING_URL", "MONGO_URI", "DATABASE_DIR"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "database", cfg.Storage.DatabaseDir)
	assert.Equal(t, 100, cfg.Extract.MinContentLength)
	assert.Equal(t, 15, cfg.Fetch.MaxHops)
	assert.False(t, cfg.Embedding.Enabled())
}

func TestLoadConfigYAML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.yaml", `
storage:
  database_dir: /tmp/db
fetch:
  delay_ms: 250
  respect_robots: false
embedding:
  base_url: http://localhost:11434/v1
  model: nomic-embed-text
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/db", cfg.Storage.DatabaseDir)
	assert.Equal(t, "cache", cfg.Storage.CacheDir)
	assert.Equal(t, 250, cfg.Fetch.DelayMS)
	assert.False(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, "drift_spider/1.0", cfg.Fetch.UserAgent)
	assert.True(t, cfg.Embedding.Enabled())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigTOML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.toml", `
[storage]
database_dir = "dbs"

[fetch]
timeout_sec = 5
follow_patterns = ["/docs/"]

[docling]
url = "http://localhost:5001"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dbs", cfg.Storage.DatabaseDir)
	assert.Equal(t, 5, cfg.Fetch.TimeoutSec)
	assert.Equal(t, []string{"/docs/"}, cfg.Fetch.FollowPatterns)
	assert.Equal(t, "http://localhost:5001", cfg.Docling.URL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-small")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.True(t, cfg.Embedding.Enabled())
}

func TestLoadConfigInvalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad docling url", "docling:\n  url: not a url\n"},
		{"zero timeout", "fetch:\n  timeout_sec: 0\n"},
		{"mongo without database", "db:\n  connection: mongodb://localhost\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.yaml", tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigTranslation(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Translation.Enabled())
	assert.Equal(t, "sv", cfg.Translation.From)
	assert.Equal(t, "en", cfg.Translation.To)

	path := writeFile(t, "config.yaml", `
translation:
  model: gpt-4o-mini
  to: de
`)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Translation.Enabled())
	assert.Equal(t, "sk-test", cfg.Translation.APIKey)
	assert.Equal(t, "sv", cfg.Translation.From)
	assert.Equal(t, "de", cfg.Translation.To)
	assert.Equal(t, 500, cfg.Translation.DelayMS)

	bad := writeFile(t, "config.yaml", "translation:\n  to: \"\"\n")
	_, err = LoadConfig(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
