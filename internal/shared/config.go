package shared

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override, e.g. GENX_API_BASE_URL.
const EnvPrefix = "GENX_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API      APIConfig      `toml:"api" env:", prefix=API_"`
	OAuth    OAuthConfig    `toml:"oauth" env:", prefix=OAUTH_"`
	Database DatabaseConfig `toml:"database" env:", prefix=DATABASE_"`
	Session  SessionConfig  `toml:"session" env:", prefix=SESSION_"`
	Storage  StorageConfig  `toml:"storage" env:", prefix=STORAGE_"`
	Tracker  TrackerConfig  `toml:"tracker" env:", prefix=TRACKER_"`
	Push     PushConfig     `toml:"push" env:", prefix=PUSH_"`
	Server   ServerConfig   `toml:"server" env:", prefix=SERVER_"`
}

// APIConfig contains generation backend endpoints and request defaults.
type APIConfig struct {
	BaseURL        string  `toml:"base_url" env:"BASE_URL"`
	AuthURL        string  `toml:"auth_url" env:"AUTH_URL"` // same-origin route holding the refresh cookie
	WSURL          string  `toml:"ws_url" env:"WS_URL"`
	Provider       string  `toml:"provider" env:"PROVIDER"`
	Model          string  `toml:"model" env:"MODEL"`
	RateLimit      float64 `toml:"rate_limit" env:"RATE_LIMIT"`
	TimeoutSeconds int     `toml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

// OAuthConfig contains the login round trip settings.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `toml:"client_secret" env:"CLIENT_SECRET"`
	AuthorizeURL string   `toml:"authorize_url" env:"AUTHORIZE_URL"`
	TokenURL     string   `toml:"token_url" env:"TOKEN_URL"`
	RedirectURI  string   `toml:"redirect_uri" env:"REDIRECT_URI"`
	Scopes       []string `toml:"scopes" env:"SCOPES"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"PATH"`
	MaxOpenConns int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// SessionConfig selects where the access token mirror lives.
type SessionConfig struct {
	Backend       string `toml:"backend" env:"BACKEND"` // sqlite or redis
	RedisAddress  string `toml:"redis_address" env:"REDIS_ADDRESS"`
	RedisPassword string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" env:"REDIS_DB"`
	Profile       string `toml:"profile" env:"PROFILE"`
}

// StorageConfig controls how result storage keys become displayable URLs.
type StorageConfig struct {
	PublicBaseURL  string `toml:"public_base_url" env:"PUBLIC_BASE_URL"`
	Endpoint       string `toml:"endpoint" env:"ENDPOINT"`
	AccessKey      string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey      string `toml:"secret_key" env:"SECRET_KEY"`
	Bucket         string `toml:"bucket" env:"BUCKET"`
	Region         string `toml:"region" env:"REGION"`
	UseSSL         bool   `toml:"use_ssl" env:"USE_SSL"`
	PresignSeconds int    `toml:"presign_seconds" env:"PRESIGN_SECONDS"`
}

// TrackerConfig contains the pull cadence for task progress.
type TrackerConfig struct {
	FastPollMillis    int `toml:"fast_poll_ms" env:"FAST_POLL_MS"`
	SlowPollMillis    int `toml:"slow_poll_ms" env:"SLOW_POLL_MS"`
	FastWindowSeconds int `toml:"fast_window_seconds" env:"FAST_WINDOW_SECONDS"`
}

// PushConfig contains the push channel reconnect policy.
type PushConfig struct {
	MaxReconnectAttempts int `toml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	InitialDelayMillis   int `toml:"initial_delay_ms" env:"INITIAL_DELAY_MS"`
	MaxDelayMillis       int `toml:"max_delay_ms" env:"MAX_DELAY_MS"`
}

// ServerConfig contains the local OAuth callback server settings.
type ServerConfig struct {
	Host string `toml:"host" env:"HOST"`
	Port int    `toml:"port" env:"PORT"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalidInput, path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides config values with GENX_ prefixed variables found by l.
//
// A nil [envconfig.Lookuper] reads the process environment.
func ApplyEnv(ctx context.Context, config *Config, l envconfig.Lookuper) error {
	if l == nil {
		l = envconfig.OsLookuper()
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           config,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, l),
		DefaultOverwrite: true,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return config.Validate()
}

// Validate checks the values the core depends on.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url is required", ErrInvalidConfig)
	}
	if c.API.WSURL != "" && !strings.HasPrefix(c.API.WSURL, "ws://") && !strings.HasPrefix(c.API.WSURL, "wss://") {
		return fmt.Errorf("%w: api.ws_url must use ws:// or wss://", ErrInvalidConfig)
	}
	switch c.Session.Backend {
	case "", "sqlite", "redis":
	default:
		return fmt.Errorf("%w: unknown session backend %q", ErrInvalidConfig, c.Session.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 0 and 65535", ErrInvalidConfig)
	}
	return nil
}

// Timeout returns the HTTP client timeout for API calls.
func (a APIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PresignExpiry returns how long presigned result URLs stay valid.
func (s StorageConfig) PresignExpiry() time.Duration {
	if s.PresignSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.PresignSeconds) * time.Second
}
