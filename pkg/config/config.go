// Package config loads the devgate configuration from a YAML file overlaid
// with DEVGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/parsecraft/devgate/pkg/logging"
)

// Auth modes accepted by AuthConfig.Mode.
const (
	AuthNone     = "none"
	AuthPassword = "password"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	TLS       TLSConfig       `yaml:"tls" envconfig:"TLS"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Editor    EditorConfig    `yaml:"editor" envconfig:"EDITOR"`
	Proxy     ProxyConfig     `yaml:"proxy" envconfig:"PROXY"`
	Static    StaticConfig    `yaml:"static" envconfig:"STATIC"`
	LocalDir  string          `yaml:"local_dir" envconfig:"LOCAL_DIR"`
	Plugins   PluginConfig    `yaml:"plugins" envconfig:"PLUGINS"`
	Update    UpdateConfig    `yaml:"update" envconfig:"UPDATE"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" envconfig:"HEARTBEAT"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	Logging   logging.Config  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains listener configuration
type ServerConfig struct {
	Host    string `yaml:"host" envconfig:"HOST"`
	Port    int    `yaml:"port" envconfig:"PORT"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

// TLSConfig points at the certificate material for the listener.
// Both fields empty means the listener serves plain HTTP and the
// HTTPS-redirect gate stays inactive.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" envconfig:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" envconfig:"KEY_FILE"`
}

// Enabled reports whether TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// AuthConfig selects the authentication mode for gated routes.
type AuthConfig struct {
	// Mode is "none" or "password". The login router is mounted only in
	// password mode.
	Mode string `yaml:"mode" envconfig:"MODE"`
	// PasswordHash is the bcrypt hash checked by the login router.
	PasswordHash string `yaml:"password_hash" envconfig:"PASSWORD_HASH"`
	// SessionSecret signs the session cookie JWT. Required in password mode.
	SessionSecret string `yaml:"session_secret" envconfig:"SESSION_SECRET"`
	// SessionExpiryHours bounds the lifetime of an issued session cookie.
	SessionExpiryHours int `yaml:"session_expiry_hours" envconfig:"SESSION_EXPIRY_HOURS"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig throttles login attempts per remote address.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// EditorConfig locates the editor front-end served at / and /vscode.
type EditorConfig struct {
	// Root is the directory holding the compiled front-end assets.
	Root string `yaml:"root" envconfig:"ROOT"`
	// BackendAddr is the address the editor WebSocket bridges to.
	BackendAddr string `yaml:"backend_addr" envconfig:"BACKEND_ADDR"`
}

// ProxyConfig configures the domain- and path-based reverse proxies.
type ProxyConfig struct {
	// Domains lists proxy domain suffixes; a request whose host is
	// <port>.<domain> is forwarded to 127.0.0.1:<port>.
	Domains []string `yaml:"domains" envconfig:"DOMAINS"`
}

// StaticConfig locates long-lived hashed assets served under /static.
type StaticConfig struct {
	Root string `yaml:"root" envconfig:"ROOT"`
}

// PluginConfig lists where plugin manifests are discovered.
type PluginConfig struct {
	// Paths are explicit plugin directories, each holding a plugin.yaml.
	Paths []string `yaml:"paths" envconfig:"PATHS"`
	// SearchDirs are scanned one level deep for plugin directories.
	SearchDirs []string `yaml:"search_dirs" envconfig:"SEARCH_DIRS"`
}

// UpdateConfig configures the /update release check.
type UpdateConfig struct {
	// URL returns the latest release as JSON; empty disables the check.
	URL string `yaml:"url" envconfig:"URL"`
	// IntervalHours is how long a fetched result is cached.
	IntervalHours int `yaml:"interval_hours" envconfig:"INTERVAL_HOURS"`
}

// HeartbeatConfig selects where activity timestamps are persisted.
type HeartbeatConfig struct {
	// Store is "file" or "redis".
	Store string `yaml:"store" envconfig:"STORE"`
	// File is the heartbeat file path for the file store.
	File string `yaml:"file" envconfig:"FILE"`
	// IdleSeconds is how long after the last beat the server counts as idle.
	IdleSeconds int         `yaml:"idle_seconds" envconfig:"IDLE_SECONDS"`
	Redis       RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address  string `yaml:"address" envconfig:"ADDRESS"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
	Key      string `yaml:"key" envconfig:"KEY"`
}

// CORSConfig is applied to the plugin API namespace.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - defaults and env vars apply
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("DEVGATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Server.BaseURL == "" {
		scheme := "http"
		if cfg.TLS.Enabled() {
			scheme = "https"
		}
		cfg.Server.BaseURL = fmt.Sprintf("%s://%s:%d", scheme, cfg.Server.Host, cfg.Server.Port)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthConfig{
			Mode:               AuthNone,
			SessionExpiryHours: 24,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				MaxAttempts:    14,
				WindowSeconds:  60,
				LockoutSeconds: 600,
			},
		},
		Update: UpdateConfig{
			IntervalHours: 24,
		},
		Heartbeat: HeartbeatConfig{
			Store:       "file",
			File:        "devgate-heartbeat",
			IdleSeconds: 60,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Key:     "devgate:heartbeat",
			},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Auth.Mode {
	case AuthNone:
	case AuthPassword:
		if c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth password_hash is required in password mode")
		}
		if c.Auth.SessionSecret == "" {
			return fmt.Errorf("auth session_secret is required in password mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be none or password)", c.Auth.Mode)
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}

	switch c.Heartbeat.Store {
	case "file", "redis":
	default:
		return fmt.Errorf("invalid heartbeat store: %s (must be file or redis)", c.Heartbeat.Store)
	}

	for _, d := range c.Proxy.Domains {
		if strings.Contains(d, "://") {
			return fmt.Errorf("proxy domain %q must be a bare host suffix", d)
		}
	}

	return nil
}

// Address returns the listener address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
