package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
modbus:
  address: "10.0.0.5:502"
  unit_id: 3
  scale1_register: 10
  scale2_register: 20
  timeout: 2s

acquisition:
  poll_interval: 250ms
  error_backoff: 1s
  stability_tolerance: 0.010

weighing:
  bowl_tolerance: "0.040"
  allow_out_of_band: true

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Modbus.Address != "10.0.0.5:502" {
		t.Errorf("Unexpected address: %s", cfg.Modbus.Address)
	}
	if cfg.Modbus.UnitID != 3 {
		t.Errorf("Unexpected unit id: %d", cfg.Modbus.UnitID)
	}
	if cfg.Modbus.Scale2Register != 20 {
		t.Errorf("Unexpected scale2 register: %d", cfg.Modbus.Scale2Register)
	}
	if cfg.Modbus.Timeout != 2*time.Second {
		t.Errorf("Unexpected timeout: %v", cfg.Modbus.Timeout)
	}
	if !cfg.Weighing.AllowOutOfBand {
		t.Error("allow_out_of_band not loaded")
	}
	if cfg.Acquisition.PollInterval != 250*time.Millisecond {
		t.Errorf("Unexpected poll interval: %v", cfg.Acquisition.PollInterval)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if got := cfg.StabilityTolerance().String(); got != "0.01" {
		t.Errorf("Unexpected stability tolerance: %s", got)
	}
	if got := cfg.BowlTolerance().String(); got != "0.04" {
		t.Errorf("Unexpected bowl tolerance: %s", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.Acquisition.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval default = %v, want 500ms", cfg.Acquisition.PollInterval)
	}
	if cfg.Acquisition.ErrorBackoff != time.Second {
		t.Errorf("error backoff default = %v, want 1s", cfg.Acquisition.ErrorBackoff)
	}
	if cfg.Weighing.AllowOutOfBand {
		t.Error("allow_out_of_band should default to false")
	}
	if cfg.Modbus.Timeout != 5*time.Second {
		t.Errorf("modbus timeout default = %v, want 5s", cfg.Modbus.Timeout)
	}
	if cfg.Modbus.Scale1TareRegister != 100 || cfg.Modbus.Scale2TareRegister != 101 {
		t.Errorf("tare registers = %d/%d, want 100/101", cfg.Modbus.Scale1TareRegister, cfg.Modbus.Scale2TareRegister)
	}
	if cfg.Acquisition.StabilityWindow != 5 || cfg.Acquisition.StabilityMinSample != 3 {
		t.Errorf("stability window = %d/%d, want 5/3", cfg.Acquisition.StabilityWindow, cfg.Acquisition.StabilityMinSample)
	}
	base, step := cfg.TransferTolerance()
	if base.String() != "0.05" || step.String() != "0.015" {
		t.Errorf("transfer tolerance = %s/%s, want 0.05/0.015", base, step)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, "modbus:\n  address: \"10.0.0.1:502\"\n")
	t.Setenv("WEIGHSTATION_MODBUS_ADDRESS", "10.0.0.9:502")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Modbus.Address != "10.0.0.9:502" {
		t.Errorf("Unexpected address: %s", cfg.Modbus.Address)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Modbus: ModbusConfig{
				Address:            "127.0.0.1:502",
				Scale1Register:     0,
				Scale2Register:     2,
				Scale1TareRegister: 100,
				Scale2TareRegister: 101,
				Timeout:            5 * time.Second,
			},
			Acquisition: AcquisitionConfig{
				PollInterval:       500 * time.Millisecond,
				ErrorBackoff:       time.Second,
				ReconnectAfter:     5,
				StabilityWindow:    5,
				StabilityMinSample: 3,
				StabilityTolerance: "0.005",
			},
			Weighing: WeighingConfig{
				BowlTolerance:         "0.050",
				TransferBase:          "0.050",
				TransferPerIngredient: "0.015",
			},
			Storage: StorageConfig{MaxActiveBatches: 5},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing address", func(c *Config) { c.Modbus.Address = "" }, true},
		{"same scale registers", func(c *Config) { c.Modbus.Scale2Register = 0 }, true},
		{"overlapping scale registers", func(c *Config) { c.Modbus.Scale2Register = 1 }, true},
		{"same tare registers", func(c *Config) { c.Modbus.Scale2TareRegister = 100 }, true},
		{"tiny timeout", func(c *Config) { c.Modbus.Timeout = time.Millisecond }, true},
		{"fast poll", func(c *Config) { c.Acquisition.PollInterval = 10 * time.Millisecond }, true},
		{"backoff shorter than poll", func(c *Config) { c.Acquisition.ErrorBackoff = 100 * time.Millisecond }, true},
		{"min samples above window", func(c *Config) { c.Acquisition.StabilityMinSample = 6 }, true},
		{"bad stability tolerance", func(c *Config) { c.Acquisition.StabilityTolerance = "abc" }, true},
		{"negative bowl tolerance", func(c *Config) { c.Weighing.BowlTolerance = "-0.01" }, true},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }, true},
		{"telegram without chat", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "t" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"no active batches", func(c *Config) { c.Storage.MaxActiveBatches = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
