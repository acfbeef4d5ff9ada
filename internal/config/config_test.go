package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, 30*time.Second, cfg.Chat.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.Chat.PresenceTimeout)
	assert.Equal(t, 256, cfg.Chat.SendBuffer)
	assert.Equal(t, int64(50<<20), cfg.Upload.MaxSize)
	assert.Equal(t, 18, cfg.Payment.Decimals)
	assert.Equal(t, "1", cfg.Payment.Amount)
	assert.Len(t, cfg.Payment.RPCURLs, 3)
	assert.Equal(t, "database", cfg.Registry.Backend)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	yaml := []byte(`
server:
  port: 9000
  trusted_proxies: ["10.0.0.0/8", "127.0.0.1"]
database:
  driver: postgres
  name: relay
chat:
  presence_timeout: 90s
payment:
  amount: "2.5"
telegram:
  chat_id: -100123
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("CHAT_SWEEP_INTERVAL", "10s")
	t.Setenv("PAYMENT_RPC_URLS", "https://a.example,https://b.example")
	t.Setenv("REGISTRY_BACKEND", "redis")

	// Act
	cfg, err := Load(dir)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "relay", cfg.Database.Name)
	assert.Equal(t, 90*time.Second, cfg.Chat.PresenceTimeout)
	assert.Equal(t, 10*time.Second, cfg.Chat.SweepInterval)
	assert.Equal(t, "2.5", cfg.Payment.Amount)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Payment.RPCURLs)
	assert.Equal(t, "redis", cfg.Registry.Backend)
}

func TestValidate(t *testing.T) {
	base, err := Load(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"unknown registry", func(c *Config) { c.Registry.Backend = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.Upload.Backend = "s3" }},
		{"zero sweep", func(c *Config) { c.Chat.SweepInterval = 0 }},
		{"no rpc", func(c *Config) { c.Payment.RPCURLs = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
