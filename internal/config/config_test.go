package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := load(afero.NewMemMapFs(), "", env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ".", cfg.Workspace.Dir)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Persistence.Debounce)
	assert.Equal(t, BackendAnthropic, cfg.AI.Backend)
	assert.Equal(t, StoreFile, cfg.Persistence.Store)
	assert.Equal(t, 10, cfg.Database.ConnectAttempts)
	assert.ElementsMatch(t,
		[]string{"server.port", "workspace.dir", "auth.token_ttl", "ai.backend", "persistence.store"},
		cfg.Defaulted)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/agentify.yaml", []byte(`
server:
  port: "9000"
  write_timeout: 2m
  allowed_origins: ["https://ide.example.com"]
database:
  url: postgres://file/db
auth:
  jwt_secret: from-file
  token_ttl: 1h
ai:
  backend: Runtime
  runtime_url: http://runtime:8000
persistence:
  debounce: 250ms
log:
  debug: true
`), 0o644))

	cfg, err := load(fs, "/etc/agentify.yaml", env(map[string]string{
		"JWT_SECRET":    "from-env",
		"WORKSPACE_DIR": "/workspace",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://ide.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret, "environment wins over the file")
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, BackendRuntime, cfg.AI.Backend)
	assert.Equal(t, StorePostgres, cfg.Persistence.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.Persistence.Debounce)
	assert.Equal(t, "/workspace", cfg.Workspace.Dir)
	assert.True(t, cfg.Log.Debug)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.yaml", []byte("servr:\n  port: 1\n"), 0o644))

	_, err := load(fs, "c.yaml", env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_EmptyFileIsAllowed(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.yaml", nil, 0o644))

	_, err := load(fs, "c.yaml", env(nil))
	assert.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(afero.NewMemMapFs(), "nope.yaml", env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidEnvironmentValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"debug", map[string]string{"AGENTIFY_DEBUG": "sometimes"}, "AGENTIFY_DEBUG"},
		{"debounce", map[string]string{"AGENTIFY_SAVE_DEBOUNCE": "soon"}, "AGENTIFY_SAVE_DEBOUNCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(afero.NewMemMapFs(), "", env(tt.vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_BackendInference(t *testing.T) {
	cfg, err := load(afero.NewMemMapFs(), "", env(map[string]string{
		"AGENT_RUNTIME_URL": "http://runtime:8000",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendRuntime, cfg.AI.Backend)

	cfg, err = load(afero.NewMemMapFs(), "", env(map[string]string{
		"AGENT_RUNTIME_URL": "http://runtime:8000",
		"ANTHROPIC_API_KEY": "sk-test",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendAnthropic, cfg.AI.Backend)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load(afero.NewMemMapFs(), "", env(map[string]string{
			"JWT_SECRET":        "secret",
			"ANTHROPIC_API_KEY": "sk-test",
		}))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET is required"},
		{"missing api key", func(c *Config) { c.AI.AnthropicAPIKey = "" }, "ANTHROPIC_API_KEY"},
		{"runtime without url", func(c *Config) { c.AI.Backend = BackendRuntime }, "AGENT_RUNTIME_URL"},
		{"unknown backend", func(c *Config) { c.AI.Backend = "oracle" }, `unknown ai backend "oracle"`},
		{"postgres without url", func(c *Config) { c.Persistence.Store = StorePostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Persistence.Store = "tape" }, `unknown snapshot store "tape"`},
		{"negative debounce", func(c *Config) { c.Persistence.Debounce = -time.Second }, "debounce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
