package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Modbus      ModbusConfig      `mapstructure:"modbus"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Weighing    WeighingConfig    `mapstructure:"weighing"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Console     ConsoleConfig     `mapstructure:"console"`
}

// ModbusConfig holds the PLC connection and register map
type ModbusConfig struct {
	Address            string        `mapstructure:"address"` // host:port of the PLC
	UnitID             uint8         `mapstructure:"unit_id"`
	Scale1Register     uint16        `mapstructure:"scale1_register"`
	Scale2Register     uint16        `mapstructure:"scale2_register"`
	Scale1TareRegister uint16        `mapstructure:"scale1_tare_register"`
	Scale2TareRegister uint16        `mapstructure:"scale2_tare_register"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// AcquisitionConfig holds polling and stability configuration
type AcquisitionConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff"`
	ReconnectAfter     int           `mapstructure:"reconnect_after"` // consecutive all-scale failures
	StabilityWindow    int           `mapstructure:"stability_window"`
	StabilityMinSample int           `mapstructure:"stability_min_samples"`
	StabilityTolerance string        `mapstructure:"stability_tolerance"` // kg, decimal string
}

// WeighingConfig holds verification tolerances, all in kg as decimal strings
type WeighingConfig struct {
	BowlTolerance         string `mapstructure:"bowl_tolerance"`
	TransferBase          string `mapstructure:"transfer_base"`
	TransferPerIngredient string `mapstructure:"transfer_per_ingredient"`
	AllowOutOfBand        bool   `mapstructure:"allow_out_of_band"` // accept net weights outside the band for audit
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath           string `mapstructure:"db_path"`
	MaxActiveBatches int    `mapstructure:"max_active_batches"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConsoleConfig controls the operator console on stdin
type ConsoleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Operator string `mapstructure:"operator"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("WEIGHSTATION")
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
	// Modbus defaults
	v.SetDefault("modbus.address", "192.168.1.100:502")
	v.SetDefault("modbus.unit_id", 1)
	v.SetDefault("modbus.scale1_register", 0)
	v.SetDefault("modbus.scale2_register", 2)
	v.SetDefault("modbus.scale1_tare_register", 100)
	v.SetDefault("modbus.scale2_tare_register", 101)
	v.SetDefault("modbus.timeout", "5s")

	// Acquisition defaults
	v.SetDefault("acquisition.poll_interval", "500ms")
	v.SetDefault("acquisition.error_backoff", "1s")
	v.SetDefault("acquisition.reconnect_after", 5)
	v.SetDefault("acquisition.stability_window", 5)
	v.SetDefault("acquisition.stability_min_samples", 3)
	v.SetDefault("acquisition.stability_tolerance", "0.005")

	// Weighing defaults
	v.SetDefault("weighing.bowl_tolerance", "0.050")
	v.SetDefault("weighing.transfer_base", "0.050")
	v.SetDefault("weighing.transfer_per_ingredient", "0.015")
	v.SetDefault("weighing.allow_out_of_band", false)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/weighstation.db")
	v.SetDefault("storage.max_active_batches", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Console defaults
	v.SetDefault("console.enabled", true)
	v.SetDefault("console.operator", "Operator")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Modbus config
	if c.Modbus.Address == "" {
		return fmt.Errorf("modbus.address is required")
	}
	if c.Modbus.Scale1Register == c.Modbus.Scale2Register {
		return fmt.Errorf("modbus.scale1_register and modbus.scale2_register must differ")
	}
	if diff := int(c.Modbus.Scale1Register) - int(c.Modbus.Scale2Register); diff == 1 || diff == -1 {
		return fmt.Errorf("modbus scale registers overlap: each weight spans 2 registers")
	}
	if c.Modbus.Scale1TareRegister == c.Modbus.Scale2TareRegister {
		return fmt.Errorf("modbus.scale1_tare_register and modbus.scale2_tare_register must differ")
	}
	if c.Modbus.Timeout < 100*time.Millisecond {
		return fmt.Errorf("modbus.timeout must be at least 100ms")
	}

	// Validate Acquisition config
	if c.Acquisition.PollInterval < 50*time.Millisecond {
		return fmt.Errorf("acquisition.poll_interval must be at least 50ms")
	}
	if c.Acquisition.ErrorBackoff < c.Acquisition.PollInterval {
		return fmt.Errorf("acquisition.error_backoff must not be shorter than poll_interval")
	}
	if c.Acquisition.ReconnectAfter < 1 {
		return fmt.Errorf("acquisition.reconnect_after must be at least 1")
	}
	if c.Acquisition.StabilityWindow < 2 {
		return fmt.Errorf("acquisition.stability_window must be at least 2")
	}
	if c.Acquisition.StabilityMinSample < 2 || c.Acquisition.StabilityMinSample > c.Acquisition.StabilityWindow {
		return fmt.Errorf("acquisition.stability_min_samples must be between 2 and stability_window")
	}
	if err := checkKg("acquisition.stability_tolerance", c.Acquisition.StabilityTolerance); err != nil {
		return err
	}

	// Validate Weighing config
	if err := checkKg("weighing.bowl_tolerance", c.Weighing.BowlTolerance); err != nil {
		return err
	}
	if err := checkKg("weighing.transfer_base", c.Weighing.TransferBase); err != nil {
		return err
	}
	if err := checkKg("weighing.transfer_per_ingredient", c.Weighing.TransferPerIngredient); err != nil {
		return err
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.MaxActiveBatches < 1 {
		return fmt.Errorf("storage.max_active_batches must be at least 1")
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

// checkKg requires a non-negative decimal kilogram value.
func checkKg(key, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%s must be a decimal number: %w", key, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%s must not be negative", key)
	}
	return nil
}

// StabilityTolerance returns the parsed stability tolerance. Call after Validate.
func (c *Config) StabilityTolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Acquisition.StabilityTolerance)
}

// BowlTolerance returns the parsed bowl verification tolerance. Call after Validate.
func (c *Config) BowlTolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Weighing.BowlTolerance)
}

// TransferTolerance returns the parsed base and per-ingredient transfer tolerance.
// Call after Validate.
func (c *Config) TransferTolerance() (base, perIngredient decimal.Decimal) {
	return decimal.RequireFromString(c.Weighing.TransferBase),
		decimal.RequireFromString(c.Weighing.TransferPerIngredient)
}
