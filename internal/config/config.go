// Package config loads the risk-guard configuration: a JSON file layered
// over built-in defaults, with exchange credentials supplied by the
// environment. Absent keys keep their defaults, so safety settings such as
// the manual-reset requirement cannot be weakened by leaving them out of the
// file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/risk"
)

// Config is the complete risk-guard configuration.
type Config struct {
	Risk          risk.Config         `json:"risk"`
	Exchange      exchange.Config     `json:"exchange"`
	Journal       JournalConfig       `json:"journal"`
	State         StateConfig         `json:"state"`
	Logging       LoggingConfig       `json:"logging"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// JournalConfig selects the audit journal backing file. An empty path
// disables journaling.
type JournalConfig struct {
	Path string `json:"path"`
}

// StateConfig selects where the circuit breaker snapshot is persisted. An
// empty path disables persistence, and with it trip survival across
// restarts.
type StateConfig struct {
	Path string `json:"path"`
}

// LoggingConfig mirrors the logger options with JSON tags.
type LoggingConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Options converts to the logger's option struct.
func (l LoggingConfig) Options() logger.Options {
	return logger.Options{
		Level:      l.Level,
		FilePath:   l.FilePath,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// MonitoringConfig controls the metrics and health HTTP endpoint.
type MonitoringConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

// NotificationConfig holds alert channel settings.
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// Default returns the built-in configuration: demo trading, manual breaker
// reset and full persistence.
func Default() Config {
	return Config{
		Risk: risk.DefaultConfig(),
		Exchange: exchange.Config{
			Name:  "bybit",
			Bybit: &exchange.BybitConfig{Demo: true},
		},
		Journal: JournalConfig{Path: "data/journal.db"},
		State:   StateConfig{Path: "data/breaker.json"},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "logs/risk-guard.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
	}
}

// Load builds the configuration from the optional file at path, overlays
// credentials from the environment and validates the result. An empty path
// runs on defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		resolved := resolvePath(path)
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", resolved, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolvePath keeps the short-name convenience: a bare name is looked up
// under configs/ and gets a .json extension.
func resolvePath(path string) string {
	if !strings.ContainsAny(path, "/\\") {
		path = filepath.Join("configs", path)
	}
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}
	return path
}

// applyEnv fills credentials from the environment. Values already present in
// the file win, so a checked-in config can pin a demo key for testing.
func (c *Config) applyEnv() {
	if c.Exchange.Bybit == nil {
		c.Exchange.Bybit = &exchange.BybitConfig{Demo: true}
	}
	if c.Exchange.Bybit.APIKey == "" {
		c.Exchange.Bybit.APIKey = os.Getenv("BYBIT_API_KEY")
	}
	if c.Exchange.Bybit.APISecret == "" {
		c.Exchange.Bybit.APISecret = os.Getenv("BYBIT_API_SECRET")
	}

	if c.Notifications != nil && c.Notifications.Enabled {
		if c.Notifications.TelegramToken == "" {
			c.Notifications.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
		}
		if c.Notifications.TelegramChat == "" {
			c.Notifications.TelegramChat = os.Getenv("TELEGRAM_CHAT_ID")
		}
	}
}

func (c *Config) validate() error {
	if !strings.EqualFold(c.Exchange.Name, "bybit") {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}
	if c.Exchange.Bybit == nil || c.Exchange.Bybit.APIKey == "" || c.Exchange.Bybit.APISecret == "" {
		return fmt.Errorf("bybit credentials are required (set BYBIT_API_KEY and BYBIT_API_SECRET)")
	}

	r := c.Risk
	if r.MinConfidence <= 0 || r.MinConfidence >= 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1")
	}
	if r.MinStopLossPct <= 0 || r.MaxStopLossPct <= 0 || r.MinStopLossPct >= r.MaxStopLossPct {
		return fmt.Errorf("stop loss bounds must satisfy 0 < min < max")
	}
	if r.Limits.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1")
	}
	if r.Limits.MaxSinglePositionPct <= 0 || r.Limits.MaxSinglePositionPct > r.Limits.MaxTotalExposurePct {
		return fmt.Errorf("position limits must satisfy 0 < single <= total")
	}
	if r.Breaker.DailyLossLimitPct <= 0 || r.Breaker.DailyLossLimitPct > 0.5 {
		return fmt.Errorf("daily_loss_limit_pct must be between 0 and 0.5")
	}
	if r.Tiers.Min <= 0 || r.Tiers.Default <= 0 || r.Tiers.Min > r.Tiers.Default {
		return fmt.Errorf("leverage tiers must satisfy 0 < min <= default")
	}
	if r.Protection.MonitorInterval <= 0 || r.Protection.EmergencyInterval <= 0 {
		return fmt.Errorf("protection monitor intervals must be positive")
	}
	if r.Protection.CatastrophicLossPct <= 0 || r.Protection.CatastrophicLossPct >= 1 {
		return fmt.Errorf("catastrophic_loss_pct must be between 0 and 1")
	}
	if r.Sizing.FractionalKelly <= 0 || r.Sizing.FractionalKelly > 1 {
		return fmt.Errorf("fractional_kelly must be between 0 and 1")
	}
	if r.Correlation.Threshold <= 0 || r.Correlation.Threshold >= 1 {
		return fmt.Errorf("correlation threshold must be between 0 and 1")
	}

	if c.Monitoring.Enabled && c.Monitoring.ListenAddr == "" {
		return fmt.Errorf("monitoring listen_addr is required when monitoring is enabled")
	}
	if c.Notifications != nil && c.Notifications.Enabled {
		if c.Notifications.TelegramToken == "" || c.Notifications.TelegramChat == "" {
			return fmt.Errorf("telegram token and chat id are required when notifications are enabled")
		}
	}
	return nil
}
