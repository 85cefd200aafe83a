// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Pacing  PacingConfig  `mapstructure:"pacing" yaml:"pacing"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Market  MarketConfig  `mapstructure:"market" yaml:"market"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // console or json
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the Chrome instance the session manager launches.
type BrowserConfig struct {
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	UserDataDir    string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ExtraArgs      []string `mapstructure:"extra_args" yaml:"extra_args"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// SessionConfig controls durable session state handling.
type SessionConfig struct {
	CookieDir       string `mapstructure:"cookie_dir" yaml:"cookie_dir"`
	Profile         string `mapstructure:"profile" yaml:"profile"`
	SnapshotCookies bool   `mapstructure:"snapshot_cookies" yaml:"snapshot_cookies"`
}

// PacingConfig sets the minimum spacing between actions of each category.
// Values below the shipped defaults are rejected by Validate; widening them
// is always allowed.
type PacingConfig struct {
	SearchInterval  time.Duration `mapstructure:"search_interval" yaml:"search_interval"`
	PublishInterval time.Duration `mapstructure:"publish_interval" yaml:"publish_interval"`
	MessageInterval time.Duration `mapstructure:"message_interval" yaml:"message_interval"`
}

// Floor values for the pacing intervals.
const (
	MinSearchInterval  = 3 * time.Second
	MinPublishInterval = 30 * time.Second
	MinMessageInterval = 5 * time.Second
)

// NetworkConfig holds timeouts for page interaction.
type NetworkConfig struct {
	OperationTimeout  time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// MarketConfig pins the remote marketplace surface.
type MarketConfig struct {
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`
	IMPath      string `mapstructure:"im_path" yaml:"im_path"`
	SearchPath  string `mapstructure:"search_path" yaml:"search_path"`
	LoginMarker string `mapstructure:"login_marker" yaml:"login_marker"`
}

// ServerConfig controls the local tool HTTP surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stallwire")
	v.SetDefault("logger.log_file", "stallwire.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)

	// -- Session --
	v.SetDefault("session.cookie_dir", "cookies")
	v.SetDefault("session.profile", "default")
	v.SetDefault("session.snapshot_cookies", true)

	// -- Pacing --
	v.SetDefault("pacing.search_interval", MinSearchInterval)
	v.SetDefault("pacing.publish_interval", MinPublishInterval)
	v.SetDefault("pacing.message_interval", MinMessageInterval)

	// -- Network --
	v.SetDefault("network.operation_timeout", "45s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.retry_delay", "1500ms")

	// -- Market --
	v.SetDefault("market.base_url", "https://www.goofish.com")
	v.SetDefault("market.im_path", "/im")
	v.SetDefault("market.search_path", "/search")
	v.SetDefault("market.login_marker", "passport")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8490")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Session.Profile == "" {
		return fmt.Errorf("session.profile must not be empty")
	}
	if c.Market.BaseURL == "" {
		return fmt.Errorf("market.base_url must not be empty")
	}
	if c.Pacing.SearchInterval < MinSearchInterval {
		return fmt.Errorf("pacing.search_interval must be at least %s", MinSearchInterval)
	}
	if c.Pacing.PublishInterval < MinPublishInterval {
		return fmt.Errorf("pacing.publish_interval must be at least %s", MinPublishInterval)
	}
	if c.Pacing.MessageInterval < MinMessageInterval {
		return fmt.Errorf("pacing.message_interval must be at least %s", MinMessageInterval)
	}
	if c.Network.OperationTimeout <= 0 {
		return fmt.Errorf("network.operation_timeout must be a positive duration")
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	return nil
}
