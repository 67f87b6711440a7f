package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market   MarketConfig   `mapstructure:"market"`
	GEX      GEXConfig      `mapstructure:"gex"`
	Schwab   SchwabConfig   `mapstructure:"schwab"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig describes the underlying and the fetch cadence
type MarketConfig struct {
	Symbol          string        `mapstructure:"symbol"`       // brokerage ticker, e.g. "$SPX"
	YahooSymbol     string        `mapstructure:"yahoo_symbol"` // free-tier ticker, e.g. "^SPX"
	DataSource      string        `mapstructure:"data_source"`  // "schwab" or "yahoo"
	StrikeIncrement float64       `mapstructure:"strike_increment"`
	StrikesAboveATM int           `mapstructure:"strikes_above_atm"`
	StrikesBelowATM int           `mapstructure:"strikes_below_atm"`
	MaxDTE          int           `mapstructure:"max_dte"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// GEXConfig shapes the exposure surface
type GEXConfig struct {
	AggregateDTE       int     `mapstructure:"aggregate_dte"`
	ExpiryColumns      int     `mapstructure:"expiry_columns"`
	ContractMultiplier float64 `mapstructure:"contract_multiplier"`
}

// SchwabConfig holds brokerage API credentials and transport settings
type SchwabConfig struct {
	AppKey             string        `mapstructure:"app_key"`
	AppSecret          string        `mapstructure:"app_secret"`
	RefreshToken       string        `mapstructure:"refresh_token"`
	Timeout            time.Duration `mapstructure:"timeout"`
	StrikeCount        int           `mapstructure:"strike_count"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

// SecretsConfig locates the remote credential bundle used to seed the
// token cache on headless hosts. All fields empty disables the bridge.
type SecretsConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Key             string `mapstructure:"key"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ServerConfig holds the dashboard HTTP server settings
type ServerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	ListenAddr string        `mapstructure:"listen_addr"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	TokenCachePath string `mapstructure:"token_cache_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. GEXTOOL_SCHWAB_APP_KEY
	v.SetEnvPrefix("GEXTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Market defaults: SPX on 5-point strikes
	v.SetDefault("market.symbol", "$SPX")
	v.SetDefault("market.yahoo_symbol", "^SPX")
	v.SetDefault("market.data_source", "yahoo")
	v.SetDefault("market.strike_increment", 5.0)
	v.SetDefault("market.strikes_above_atm", 20)
	v.SetDefault("market.strikes_below_atm", 20)
	v.SetDefault("market.max_dte", 65)
	v.SetDefault("market.refresh_interval", "30s")

	// GEX defaults
	v.SetDefault("gex.aggregate_dte", 30)
	v.SetDefault("gex.expiry_columns", 5)
	v.SetDefault("gex.contract_multiplier", 100.0)

	// Schwab defaults (credentials have no defaults on purpose)
	v.SetDefault("schwab.timeout", "10s")
	v.SetDefault("schwab.strike_count", 45)
	v.SetDefault("schwab.rate_limit_per_minute", 120)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.cache_ttl", "30s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults: empty path falls back to a per-user temp dir
	v.SetDefault("storage.token_cache_path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Market config
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if c.Market.DataSource != "schwab" && c.Market.DataSource != "yahoo" {
		return fmt.Errorf("market.data_source must be one of: schwab, yahoo")
	}
	if c.Market.DataSource == "yahoo" && c.Market.YahooSymbol == "" {
		return fmt.Errorf("market.yahoo_symbol is required when data_source is yahoo")
	}
	if c.Market.StrikeIncrement <= 0 {
		return fmt.Errorf("market.strike_increment must be positive")
	}
	if c.Market.StrikesAboveATM < 1 {
		return fmt.Errorf("market.strikes_above_atm must be at least 1")
	}
	if c.Market.StrikesBelowATM < 1 {
		return fmt.Errorf("market.strikes_below_atm must be at least 1")
	}
	if c.Market.MaxDTE < 1 {
		return fmt.Errorf("market.max_dte must be at least 1")
	}
	if c.Market.RefreshInterval < 5*time.Second {
		return fmt.Errorf("market.refresh_interval must be at least 5 seconds")
	}

	// Validate GEX config
	if c.GEX.AggregateDTE < 0 {
		return fmt.Errorf("gex.aggregate_dte must not be negative")
	}
	if c.GEX.AggregateDTE > c.Market.MaxDTE {
		return fmt.Errorf("gex.aggregate_dte must not exceed market.max_dte")
	}
	if c.GEX.ExpiryColumns < 1 {
		return fmt.Errorf("gex.expiry_columns must be at least 1")
	}
	if c.GEX.ContractMultiplier <= 0 {
		return fmt.Errorf("gex.contract_multiplier must be positive")
	}

	// Validate Schwab config only when the brokerage source is selected
	if c.Market.DataSource == "schwab" {
		if c.Schwab.AppKey == "" || c.Schwab.AppSecret == "" {
			return fmt.Errorf("schwab.app_key and schwab.app_secret are required when data_source is schwab")
		}
		if c.Schwab.Timeout < 1*time.Second {
			return fmt.Errorf("schwab.timeout must be at least 1 second")
		}
		if c.Schwab.StrikeCount < 1 {
			return fmt.Errorf("schwab.strike_count must be at least 1")
		}
		if c.Schwab.RateLimitPerMinute < 1 {
			return fmt.Errorf("schwab.rate_limit_per_minute must be at least 1")
		}
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}
	if c.Server.CacheTTL < 1*time.Second {
		return fmt.Errorf("server.cache_ttl must be at least 1 second")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
