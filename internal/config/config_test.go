package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  timezone: Africa/Nairobi
http:
  addr: ":9090"
  cors_origins: ["http://localhost:5173"]
auth:
  jwt_secret: "0123456789abcdef0123"
  token_ttl: 2h
  staff:
    - username: desk
      name: Front Desk
      password_hash: aGFzaA==
      salt: c2FsdA==
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "Africa/Nairobi", cfg.Location().String())
	require.Len(t, cfg.StaffAccounts(), 1)
	assert.Equal(t, "Front Desk", cfg.StaffAccounts()[0].Name)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("GYMDESK_HTTP_ADDR", ":7070")
	t.Setenv("GYMDESK_LOG_LEVEL", "debug")
	t.Setenv("GYMDESK_AUTH_ADMIN_USERNAME", "owner")
	t.Setenv("GYMDESK_AUTH_ADMIN_PASSWORD_HASH", "aGFzaA==")
	t.Setenv("GYMDESK_AUTH_ADMIN_SALT", "c2FsdA==")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.StaffAccounts(), 2)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"no staff", func(c *Config) { c.Auth.Staff = nil }},
		{"incomplete staff", func(c *Config) { c.Auth.Staff[0].Salt = "" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "app: [unclosed"))
	assert.Error(t, err)
}
