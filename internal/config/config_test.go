package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, values map[string]any) (*Config, error) {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return LoadFrom(v)
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]any{"MASTER_SECRET": "x"})
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "sessions", cfg.SessionDir)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.EnforceSessionExpiry)
	assert.Equal(t, BackendMemory, cfg.RemoteBackend)
	assert.Equal(t, 10, cfg.SendCodeRateLimit)
	assert.Equal(t, time.Minute, cfg.SendCodeRateWindow)
	assert.Equal(t, 54*time.Second, cfg.WSPingInterval)
	assert.Equal(t, 60*time.Second, cfg.WSPongWait)
	assert.Equal(t, int64(1<<20), cfg.WSMaxMessageSize)
	assert.Equal(t, 256, cfg.EventQueueSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.DevFeedInterval)
	assert.False(t, cfg.TLSEnabled())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOriginList())
}

func TestLoadFrom_MissingSecret(t *testing.T) {
	_, err := load(t, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASTER_SECRET")
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := load(t, map[string]any{
		"MASTER_SECRET":          "x",
		"PORT":                   "1234",
		"SESSION_TTL":            "2h",
		"ENFORCE_SESSION_EXPIRY": "false",
		"CORS_ORIGINS":           "https://a.example, ,https://b.example",
	})
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.EnforceSessionExpiry)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]map[string]any{
		"port":         {"PORT": "70000"},
		"backend":      {"REMOTE_BACKEND": "carrier-pigeon"},
		"ttl":          {"SESSION_TTL": "0s"},
		"ping":         {"WS_PING_INTERVAL": "2m"},
		"tls half set": {"TLS_CERT_FILE": "cert.pem"},
		"rate limit":   {"SEND_CODE_RATE_LIMIT": 0},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			values["MASTER_SECRET"] = "x"
			_, err := load(t, values)
			assert.Error(t, err)
		})
	}
}
