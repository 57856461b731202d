package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-guard/internal/risk"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk-guard.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("BYBIT_API_KEY", "test-key")
	t.Setenv("BYBIT_API_SECRET", "test-secret")
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	setCredentials(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, risk.DefaultConfig(), cfg.Risk)
	assert.True(t, cfg.Risk.Breaker.RequireManualReset)

	assert.Equal(t, "bybit", cfg.Exchange.Name)
	assert.Equal(t, "test-key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, "test-secret", cfg.Exchange.Bybit.APISecret)
	assert.True(t, cfg.Exchange.Bybit.Demo)

	assert.Equal(t, "data/journal.db", cfg.Journal.Path)
	assert.Equal(t, "data/breaker.json", cfg.State.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, ":9090", cfg.Monitoring.ListenAddr)
	assert.Nil(t, cfg.Notifications)
}

// Partial files override only the keys they name. Everything else, including
// the manual-reset requirement and the built-in leverage schedule, keeps its
// default.
func TestLoad_FileOverlaysDefaults(t *testing.T) {
	setCredentials(t)
	path := writeConfigFile(t, `{
		"risk": {
			"circuit_breaker": {"daily_loss_limit_pct": 0.05},
			"limits": {"max_open_positions": 2},
			"leverage_tiers": {"by_symbol": {"XRPUSDT": 10}}
		},
		"logging": {"level": "debug"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Risk.Breaker.DailyLossLimitPct)
	assert.True(t, cfg.Risk.Breaker.RequireManualReset, "omitting the key must not disable manual reset")

	assert.Equal(t, 2, cfg.Risk.Limits.MaxOpenPositions)
	assert.Equal(t, 0.20, cfg.Risk.Limits.MaxSinglePositionPct)
	assert.Equal(t, 0.80, cfg.Risk.Limits.MaxTotalExposurePct)

	assert.Equal(t, 10.0, cfg.Risk.Tiers.BySymbol["XRPUSDT"])
	assert.Equal(t, 40.0, cfg.Risk.Tiers.BySymbol["BTCUSDT"], "file entries merge into the schedule, not replace it")

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "logs/risk-guard.log", cfg.Logging.FilePath)
	assert.Equal(t, 0.60, cfg.Risk.MinConfidence)
}

func TestLoad_ExplicitManualResetOff(t *testing.T) {
	setCredentials(t)
	path := writeConfigFile(t, `{
		"risk": {"circuit_breaker": {"require_manual_reset": false}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Risk.Breaker.RequireManualReset)
	assert.Equal(t, 0.07, cfg.Risk.Breaker.DailyLossLimitPct)
}

func TestLoad_FileCredentialsWinOverEnv(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")
	path := writeConfigFile(t, `{
		"exchange": {
			"name": "bybit",
			"bybit": {"api_key": "file-key", "api_secret": "file-secret", "demo": false, "testnet": true}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, "file-secret", cfg.Exchange.Bybit.APISecret)
	assert.False(t, cfg.Exchange.Bybit.Demo)
	assert.True(t, cfg.Exchange.Bybit.Testnet)
}

func TestLoad_TelegramEnvFallback(t *testing.T) {
	setCredentials(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("TELEGRAM_CHAT_ID", "tg-chat")
	path := writeConfigFile(t, `{"notifications": {"enabled": true}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Notifications)
	assert.Equal(t, "tg-token", cfg.Notifications.TelegramToken)
	assert.Equal(t, "tg-chat", cfg.Notifications.TelegramChat)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BYBIT_API_KEY")
}

func TestLoad_MissingFile(t *testing.T) {
	setCredentials(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedFile(t *testing.T) {
	setCredentials(t)
	path := writeConfigFile(t, `{"risk": {`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare name", "live", filepath.Join("configs", "live.json")},
		{"bare name with extension", "live.json", filepath.Join("configs", "live.json")},
		{"explicit path", "custom/risk.json", "custom/risk.json"},
		{"explicit path without extension", "custom/risk", "custom/risk.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolvePath(tt.in))
		})
	}
}

func TestValidate_Rejections(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Exchange.Bybit.APIKey = "k"
		cfg.Exchange.Bybit.APISecret = "s"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown exchange",
			mutate:  func(c *Config) { c.Exchange.Name = "binance" },
			wantErr: "unsupported exchange",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Risk.MinConfidence = 1.2 },
			wantErr: "min_confidence",
		},
		{
			name:    "inverted stop bounds",
			mutate:  func(c *Config) { c.Risk.MinStopLossPct = 0.2 },
			wantErr: "stop loss bounds",
		},
		{
			name:    "zero position slots",
			mutate:  func(c *Config) { c.Risk.Limits.MaxOpenPositions = 0 },
			wantErr: "max_open_positions",
		},
		{
			name:    "single position above total exposure",
			mutate:  func(c *Config) { c.Risk.Limits.MaxSinglePositionPct = 0.9 },
			wantErr: "position limits",
		},
		{
			name:    "loss limit above half the account",
			mutate:  func(c *Config) { c.Risk.Breaker.DailyLossLimitPct = 0.6 },
			wantErr: "daily_loss_limit_pct",
		},
		{
			name:    "leverage floor above default",
			mutate:  func(c *Config) { c.Risk.Tiers.Min = 50 },
			wantErr: "leverage tiers",
		},
		{
			name:    "zero monitor interval",
			mutate:  func(c *Config) { c.Risk.Protection.MonitorInterval = 0 },
			wantErr: "monitor intervals",
		},
		{
			name:    "catastrophic threshold out of range",
			mutate:  func(c *Config) { c.Risk.Protection.CatastrophicLossPct = 1.5 },
			wantErr: "catastrophic_loss_pct",
		},
		{
			name:    "kelly fraction above one",
			mutate:  func(c *Config) { c.Risk.Sizing.FractionalKelly = 1.5 },
			wantErr: "fractional_kelly",
		},
		{
			name:    "correlation threshold out of range",
			mutate:  func(c *Config) { c.Risk.Correlation.Threshold = 0 },
			wantErr: "correlation threshold",
		},
		{
			name:    "monitoring without address",
			mutate:  func(c *Config) { c.Monitoring.ListenAddr = "" },
			wantErr: "listen_addr",
		},
		{
			name:    "notifications without telegram settings",
			mutate:  func(c *Config) { c.Notifications = &NotificationConfig{Enabled: true} },
			wantErr: "telegram",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
