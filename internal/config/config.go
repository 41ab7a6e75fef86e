// Package config loads wizard service settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file to load.
const EnvConfigPath = "AGENTIFY_CONFIG"

// AI backends.
const (
	BackendAnthropic = "anthropic"
	BackendRuntime   = "runtime"
)

// Snapshot stores.
const (
	StorePostgres = "postgres"
	StoreFile     = "file"
	StoreMemory   = "memory"
)

// Config holds every setting the API server and CLI need.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	AI          AIConfig          `yaml:"ai"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Log         LogConfig         `yaml:"log"`

	// Defaulted lists the settings that fell back to a built-in value.
	Defaulted []string `yaml:"-"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type AIConfig struct {
	Backend         string `yaml:"backend"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
	MaxTokens       int64  `yaml:"max_tokens"`
	RuntimeURL      string `yaml:"runtime_url"`
}

type WorkspaceConfig struct {
	Dir string `yaml:"dir"`
	// Templates is an optional directory of orchestration templates copied into the workspace.
	Templates string `yaml:"templates"`
}

type PersistenceConfig struct {
	Store    string        `yaml:"store"`
	Debounce time.Duration `yaml:"debounce"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Load reads the file named by AGENTIFY_CONFIG (if any) and applies the environment.
func Load(fs afero.Fs) (*Config, error) {
	return load(fs, os.Getenv(EnvConfigPath), os.LookupEnv)
}

func load(fs afero.Fs, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("DATABASE_URL", &c.Database.URL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("ANTHROPIC_API_KEY", &c.AI.AnthropicAPIKey)
	str("ANTHROPIC_MODEL", &c.AI.Model)
	str("AGENT_RUNTIME_URL", &c.AI.RuntimeURL)
	str("AGENTIFY_AI_BACKEND", &c.AI.Backend)
	str("WORKSPACE_DIR", &c.Workspace.Dir)
	str("AGENTIFY_TEMPLATES_DIR", &c.Workspace.Templates)
	str("AGENTIFY_SNAPSHOT_STORE", &c.Persistence.Store)

	if v, ok := lookup("AGENTIFY_DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTIFY_DEBUG %q: %w", v, err)
		}
		c.Log.Debug = debug
	}
	if v, ok := lookup("AGENTIFY_SAVE_DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTIFY_SAVE_DEBOUNCE %q: %w", v, err)
		}
		c.Persistence.Debounce = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := func(name string, unset bool, apply func()) {
		if unset {
			apply()
			c.Defaulted = append(c.Defaulted, name)
		}
	}
	def("server.port", c.Server.Port == "", func() { c.Server.Port = "8080" })
	def("workspace.dir", c.Workspace.Dir == "", func() { c.Workspace.Dir = "." })
	def("auth.token_ttl", c.Auth.TokenTTL == 0, func() { c.Auth.TokenTTL = 24 * time.Hour })

	// Timeouts and retry knobs are not worth a warning.
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = 10
	}
	if c.Database.ConnectDelay == 0 {
		c.Database.ConnectDelay = 3 * time.Second
	}
	if c.Persistence.Debounce == 0 {
		c.Persistence.Debounce = 500 * time.Millisecond
	}

	def("ai.backend", c.AI.Backend == "", func() {
		if c.AI.AnthropicAPIKey == "" && c.AI.RuntimeURL != "" {
			c.AI.Backend = BackendRuntime
		} else {
			c.AI.Backend = BackendAnthropic
		}
	})
	def("persistence.store", c.Persistence.Store == "", func() {
		if c.Database.URL != "" {
			c.Persistence.Store = StorePostgres
		} else {
			c.Persistence.Store = StoreFile
		}
	})
	c.AI.Backend = strings.ToLower(c.AI.Backend)
	c.Persistence.Store = strings.ToLower(c.Persistence.Store)
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.AI.Backend {
	case BackendAnthropic:
		if c.AI.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic backend"))
		}
	case BackendRuntime:
		if c.AI.RuntimeURL == "" {
			errs = append(errs, errors.New("AGENT_RUNTIME_URL is required for the runtime backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ai backend %q", c.AI.Backend))
	}
	switch c.Persistence.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres snapshot store"))
		}
	case StoreFile, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot store %q", c.Persistence.Store))
	}
	if c.Persistence.Debounce < 0 {
		errs = append(errs, errors.New("persistence.debounce must not be negative"))
	}
	return errors.Join(errs...)
}
