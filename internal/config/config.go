// Package config provides configuration management for the scenario trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"scenario-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Store         StoreConfig        `mapstructure:"store"`
	Feed          FeedConfig         `mapstructure:"feed"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	UI            UIConfig           `mapstructure:"ui"`
}

// EngineConfig holds the settings read by the trigger engine.
type EngineConfig struct {
	AutoExecuteOnTrigger bool    `mapstructure:"auto_execute_on_trigger" json:"auto_execute_on_trigger"`
	AutoExitOnTarget     bool    `mapstructure:"auto_exit_on_target" json:"auto_exit_on_target"`
	AutoExitOnStop       bool    `mapstructure:"auto_exit_on_stop" json:"auto_exit_on_stop"`
	DefaultPositionSize  float64 `mapstructure:"default_position_size" json:"default_position_size"`
	Leverage             float64 `mapstructure:"leverage" json:"leverage"`
	Workers              int     `mapstructure:"workers" json:"workers"`
	QueueSize            int     `mapstructure:"queue_size" json:"queue_size"`
	// RefreshInterval bounds how often plans and open positions are re-read
	// from the store. Zero re-reads on every tick.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" json:"refresh_interval"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory, sqlite3, postgres
	DSN         string `mapstructure:"dsn"`
	WriteBuffer int    `mapstructure:"write_buffer"`
}

// FeedConfig holds quote feed configuration.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	Symbols        []string      `mapstructure:"symbols"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"` // info, warning, critical
	QueueSize   int            `mapstructure:"queue_size"`
	Terminal    TerminalConfig `mapstructure:"terminal"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" json:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/scenario-trader"
	}
	return filepath.Join(home, ".config", "scenario-trader")
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AutoExecuteOnTrigger: true,
		AutoExitOnTarget:     true,
		AutoExitOnStop:       true,
		DefaultPositionSize:  1000,
		Leverage:             1,
		Workers:              4,
		QueueSize:            1024,
		RefreshInterval:      time.Second,
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env next to the config, then the working directory; both optional
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if cfg.Store.Driver == "sqlite3" && cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(configDir, "trader.db")
	}
	if cfg.Logging.Path == "" {
		cfg.Logging.Path = filepath.Join(configDir, "logs", "trader.log")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultEngineConfig()
	v.SetDefault("engine.auto_execute_on_trigger", d.AutoExecuteOnTrigger)
	v.SetDefault("engine.auto_exit_on_target", d.AutoExitOnTarget)
	v.SetDefault("engine.auto_exit_on_stop", d.AutoExitOnStop)
	v.SetDefault("engine.default_position_size", d.DefaultPositionSize)
	v.SetDefault("engine.leverage", d.Leverage)
	v.SetDefault("engine.workers", d.Workers)
	v.SetDefault("engine.queue_size", d.QueueSize)
	v.SetDefault("engine.refresh_interval", d.RefreshInterval)

	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.write_buffer", 256)

	v.SetDefault("feed.reconnect_delay", "1s")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.min_severity", "info")
	v.SetDefault("notifications.queue_size", 128)
	v.SetDefault("notifications.terminal.enabled", true)
	v.SetDefault("notifications.terminal.bell", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "02-Jan-2006")
	v.SetDefault("ui.time_format", "15:04:05")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and fall back to defaults
		if _, err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADER_AUTO_EXECUTE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.AutoExecuteOnTrigger = b
		}
	}
	if v := os.Getenv("TRADER_LEVERAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.Leverage = f
		}
	}
	if v := os.Getenv("TRADER_POSITION_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.DefaultPositionSize = f
		}
	}
	if v := os.Getenv("TRADER_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TRADER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("TRADER_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}

	// Telegram credentials
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notifications.Telegram.ChatID = id
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "memory", "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: invalid store driver: %s (must be memory, sqlite3 or postgres)", errors.ErrConfigInvalid, c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("%w: postgres store requires a dsn", errors.ErrConfigInvalid)
	}

	switch c.Notifications.MinSeverity {
	case "", "info", "warning", "critical":
	default:
		return fmt.Errorf("%w: invalid min_severity: %s", errors.ErrConfigInvalid, c.Notifications.MinSeverity)
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return fmt.Errorf("%w: telegram notifications require bot_token", errors.ErrConfigInvalid)
	}

	return nil
}

// Validate validates the engine settings.
func (e EngineConfig) Validate() error {
	if e.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be at least 1", errors.ErrConfigInvalid)
	}
	if e.DefaultPositionSize <= 0 {
		return fmt.Errorf("%w: default_position_size must be positive", errors.ErrConfigInvalid)
	}
	if e.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative", errors.ErrConfigInvalid)
	}
	if e.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh_interval must be non-negative", errors.ErrConfigInvalid)
	}
	return nil
}

// Settings is the live engine configuration. A settings UI writes it, the
// engine reads a consistent copy at the start of every tick.
type Settings struct {
	mu     sync.RWMutex
	engine EngineConfig
}

// NewSettings creates a settings holder with initial values.
func NewSettings(engine EngineConfig) *Settings {
	return &Settings{engine: engine}
}

// Engine returns a copy of the current engine settings.
func (s *Settings) Engine() EngineConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Update applies fn to a copy of the settings and stores it if valid.
func (s *Settings) Update(fn func(*EngineConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.engine
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.engine = next
	return nil
}
