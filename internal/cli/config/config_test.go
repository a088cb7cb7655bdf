package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/api", cfg.API.Prefix)
	assert.Equal(t, "/api", cfg.API.LinkEndpoint())
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  request_timeout: 2s
api:
  prefix: /v1
  endpoint: https://example.com/v1
  model_names:
    User: people
database:
  driver: sqlite3
  url: file:test.db
cache:
  backend: redis
  ttl: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Address())
	assert.Equal(t, "https://example.com/v1", cfg.API.LinkEndpoint())
	assert.Equal(t, map[string]string{"user": "people"}, cfg.API.ModelNames)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RESTFUL_SERVER_PORT", "7070")
	t.Setenv("RESTFUL_DATABASE_DRIVER", "postgres")
	t.Setenv("RESTFUL_DATABASE_URL", "postgres://localhost/app")
	t.Setenv("RESTFUL_LOG_LEVEL", "debug")

	cfg, err := Load(writeFile(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/app", cfg.Database.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"tls pair", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "tls_key"},
		{"prefix slash", func(c *Config) { c.API.Prefix = "api" }, "api.prefix"},
		{"prefix trailing", func(c *Config) { c.API.Prefix = "/api/" }, "api.prefix"},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"url", func(c *Config) { c.Database.Driver = "pgx" }, "database.url"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "disk" }, "cache.backend"},
		{"rate limit", func(c *Config) { c.RateLimit.Backend = "memory"; c.RateLimit.Limit = 0 }, "rate_limit.limit"},
		{"debug address", func(c *Config) { c.Debug.Address = "0.0.0.0:8080" }, "debug.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Server.Port = 4000
	cfg.Database.Driver = "sqlite3"
	cfg.Database.URL = "file:app.db"

	require.NoError(t, Write(path, cfg))
	assert.Error(t, Write(path, cfg), "existing files are kept")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, loaded.Server.Port)
	assert.Equal(t, "file:app.db", loaded.Database.URL)
	assert.Equal(t, cfg.Server.ReadTimeout, loaded.Server.ReadTimeout)
}
