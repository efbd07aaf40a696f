// Package config loads and validates server config from the environment and
// an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const BackendMemory = "memory"

type Config struct {
	Port         int    `mapstructure:"PORT"`
	APIPrefix    string `mapstructure:"API_PREFIX"`
	GinMode      string `mapstructure:"GIN_MODE"`
	TLSCertFile  string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile   string `mapstructure:"TLS_KEY_FILE"`
	MasterSecret string `mapstructure:"MASTER_SECRET"`
	// CORSOrigins is a comma-separated allow list.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	SessionDir           string        `mapstructure:"SESSION_DIR"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	EnforceSessionExpiry bool          `mapstructure:"ENFORCE_SESSION_EXPIRY"`
	JanitorInterval      time.Duration `mapstructure:"JANITOR_INTERVAL"`

	// RemoteAPIID and RemoteAPIHash are the application credentials for
	// the remote service; the memory backend ignores them.
	RemoteAPIID   string `mapstructure:"REMOTE_API_ID"`
	RemoteAPIHash string `mapstructure:"REMOTE_API_HASH"`
	RemoteBackend string `mapstructure:"REMOTE_BACKEND"`
	// DevCode is the verification code the memory backend accepts for any
	// phone it has not seen before.
	DevCode string `mapstructure:"DEV_CODE"`
	// DevFeedInterval makes the memory backend publish a synthetic post to
	// every channel this often. Zero disables it.
	DevFeedInterval time.Duration `mapstructure:"DEV_FEED_INTERVAL"`

	SendCodeRateLimit  int           `mapstructure:"SEND_CODE_RATE_LIMIT"`
	SendCodeRateWindow time.Duration `mapstructure:"SEND_CODE_RATE_WINDOW"`

	WSPingInterval   time.Duration `mapstructure:"WS_PING_INTERVAL"`
	WSPongWait       time.Duration `mapstructure:"WS_PONG_WAIT"`
	WSWriteTimeout   time.Duration `mapstructure:"WS_WRITE_TIMEOUT"`
	WSMaxMessageSize int64         `mapstructure:"WS_MAX_MESSAGE_SIZE"`
	EventQueueSize   int           `mapstructure:"EVENT_QUEUE_SIZE"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine
	v.AutomaticEnv()
	return LoadFrom(v)
}

// LoadFrom applies defaults to v and builds a validated Config from it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8000)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("TLS_CERT_FILE", "")
	v.SetDefault("TLS_KEY_FILE", "")
	v.SetDefault("MASTER_SECRET", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_DIR", "sessions")
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("ENFORCE_SESSION_EXPIRY", true)
	v.SetDefault("JANITOR_INTERVAL", "5m")
	v.SetDefault("REMOTE_API_ID", "")
	v.SetDefault("REMOTE_API_HASH", "")
	v.SetDefault("REMOTE_BACKEND", BackendMemory)
	v.SetDefault("DEV_CODE", "12345")
	v.SetDefault("DEV_FEED_INTERVAL", "0s")
	v.SetDefault("SEND_CODE_RATE_LIMIT", 10)
	v.SetDefault("SEND_CODE_RATE_WINDOW", "1m")
	v.SetDefault("WS_PING_INTERVAL", "54s")
	v.SetDefault("WS_PONG_WAIT", "60s")
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 1<<20)
	v.SetDefault("EVENT_QUEUE_SIZE", 256)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: invalid PORT")
	}
	if c.MasterSecret == "" {
		return errors.New("config: MASTER_SECRET is required")
	}
	if c.SessionDir == "" {
		return errors.New("config: SESSION_DIR must be set")
	}
	if c.RemoteBackend != BackendMemory {
		return fmt.Errorf("config: unsupported REMOTE_BACKEND %q", c.RemoteBackend)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.SendCodeRateLimit <= 0 {
		return errors.New("config: SEND_CODE_RATE_LIMIT must be positive")
	}
	for name, d := range map[string]time.Duration{
		"SESSION_TTL":           c.SessionTTL,
		"JANITOR_INTERVAL":      c.JanitorInterval,
		"SEND_CODE_RATE_WINDOW": c.SendCodeRateWindow,
		"WS_PING_INTERVAL":      c.WSPingInterval,
		"WS_PONG_WAIT":          c.WSPongWait,
		"WS_WRITE_TIMEOUT":      c.WSWriteTimeout,
		"SHUTDOWN_TIMEOUT":      c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.DevFeedInterval < 0 {
		return errors.New("config: DEV_FEED_INTERVAL must not be negative")
	}
	if c.WSPingInterval >= c.WSPongWait {
		return errors.New("config: WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}
	if c.WSMaxMessageSize <= 0 {
		return errors.New("config: WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.EventQueueSize <= 0 {
		return errors.New("config: EVENT_QUEUE_SIZE must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// CORSOriginList splits CORSOrigins on commas, dropping blanks.
func (c *Config) CORSOriginList() []string {
	if c == nil || c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
