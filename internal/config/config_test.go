package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndParsesDurations(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	path := writeConfig(t, `
app:
  env: development
jwt:
  jwt_secret: ${TEST_JWT_SECRET}
gateway:
  mode: http
  base_url: https://provider.test/v1
  http_timeout: 15s
session:
  poll_interval: 500ms
  max_attempts: 6
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWT.JWTSecret)
	assert.Equal(t, GatewayHTTP, cfg.Gateway.Mode)
	assert.Equal(t, 15*time.Second, cfg.Gateway.HTTPTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, 6, cfg.Session.MaxAttempts)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: production\n"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, GatewaySimulated, cfg.Gateway.Mode)
	assert.Equal(t, 2*time.Second, cfg.Gateway.RequestDelay)
	assert.Equal(t, 10*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 4, cfg.Session.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Session.LockTTL)
	assert.Equal(t, "payments.outcomes", cfg.Kafka.Topic)
	assert.Equal(t, "payments.outcomes.dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, 100, cfg.RateLimit.Limit)
	assert.Zero(t, cfg.Gateway.HTTPTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown gateway mode", body: "gateway:\n  mode: carrier-pigeon\n"},
		{name: "http mode without base url", body: "gateway:\n  mode: http\n"},
		{name: "negative attempts", body: "session:\n  max_attempts: -1\n"},
		{name: "bad duration", body: "session:\n  poll_interval: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "configs/config.yaml", Path())

	t.Setenv("CONFIG_PATH", "/etc/payments.yaml")
	assert.Equal(t, "/etc/payments.yaml", Path())
}
