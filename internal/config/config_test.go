package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cms.yaml", `
server:
  addr: ":9090"
  read_timeout: 5s
logging:
  level: debug
  format: text
modules:
  autoinstall: [news, premium]
  settings:
    premium:
      currency: USD
`)
	chdir(t, dir)
	t.Setenv("CMS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset values keep defaults")
	assert.Equal(t, "warn", cfg.Logging.Level, "environment overrides the file")
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"news", "premium"}, cfg.Modules.AutoInstall)
	assert.Equal(t, "USD", cfg.ModuleSettings("premium")["currency"])
	assert.Empty(t, cfg.ModuleSettings("news"))
	assert.True(t, cfg.Memory())
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("does-not-exist.yaml")
	require.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "CMS_HTTP_ADDR=:7070\n")
	chdir(t, dir)
	t.Cleanup(func() { os.Unsetenv("CMS_HTTP_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"negative burst", func(c *Config) { c.RateLimit.Burst = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
