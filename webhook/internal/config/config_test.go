package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3002, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultMint, cfg.Token.Mint)
	assert.Equal(t, DefaultTreasury, cfg.Token.Treasury)
	assert.Equal(t, uint8(9), cfg.Token.Decimals)
	assert.InDelta(t, 0.20, cfg.Token.UnitPriceUSD, 1e-9)
	assert.Equal(t, "cli", cfg.Executor.Mode)
	assert.True(t, cfg.Executor.Fallback)
	assert.Len(t, cfg.Executor.CLIPaths, 3)
	assert.InDelta(t, 220.0, cfg.Oracle.FallbackRate, 1e-9)
	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.Equal(t, "firebase", cfg.Sink.Backend)
	assert.Equal(t, "memory", cfg.Dedup.Backend)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, "file", cfg.DLQ.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.AuthEnabled())

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.secret")
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9000
  trusted_proxies: ["10.0.0.0/8"]
webhook:
  secret: file-secret
  debug: true
executor:
  mode: sdk
dedup:
  backend: redis
redis:
  url: redis://localhost:6379/0
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "file-secret", cfg.Webhook.Secret)
	assert.True(t, cfg.Webhook.Debug)
	assert.Equal(t, "sdk", cfg.Executor.Mode)
	assert.Equal(t, "redis", cfg.Dedup.Backend)
	assert.True(t, cfg.AuthEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VRE_TOKEN_UNIT_PRICE_USD", "0.25")
	t.Setenv("VRE_EXECUTOR_MODE", "sdk")
	t.Setenv("WEBHOOK_SECRET", "legacy-secret")
	t.Setenv("PORT", "4000")
	t.Setenv("SOLANA_PRIVATE_KEY", "[1,2,3]")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 0.25, cfg.Token.UnitPriceUSD, 1e-9)
	assert.Equal(t, "sdk", cfg.Executor.Mode)
	assert.Equal(t, "legacy-secret", cfg.Webhook.Secret)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "[1,2,3]", cfg.Solana.SignerKey)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("VRE_WEBHOOK_SECRET", "new-secret")
	t.Setenv("WEBHOOK_SECRET", "legacy-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new-secret", cfg.Webhook.Secret)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Webhook.Secret = "s3cret"
		return cfg
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mint", func(c *Config) { c.Token.Mint = "not-a-key" }, "token.mint"},
		{"bad treasury", func(c *Config) { c.Token.Treasury = "" }, "token.treasury"},
		{"zero price", func(c *Config) { c.Token.UnitPriceUSD = 0 }, "unit_price_usd"},
		{"bad executor", func(c *Config) { c.Executor.Mode = "js" }, "executor.mode"},
		{"bad sink", func(c *Config) { c.Sink.Backend = "s3" }, "sink.backend"},
		{"redis without url", func(c *Config) { c.Lock.Backend = "redis" }, "redis.url"},
		{"postgres without dsn", func(c *Config) { c.Dedup.Backend = "postgres" }, "postgres.dsn"},
		{"jetstream without nats", func(c *Config) { c.DLQ.Backend = "jetstream" }, "nats.url"},
		{"no secret", func(c *Config) { c.Webhook.Secret = "" }, "webhook.secret"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"proxy.local"} }, "server.trusted_proxies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DebugAllowsMissingSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Webhook.Debug = true

	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.AuthEnabled())
}

func TestUnitPrice(t *testing.T) {
	cfg := &Config{Token: TokenConfig{UnitPriceUSD: 0.2}}
	assert.True(t, cfg.UnitPrice().Equal(decimal.RequireFromString("0.2")))
}
