package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
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
server:
  listen_addr: ":9090"

simulation:
  timezone: "UTC"
  history_days: 7
  anomaly_rate: 0.1

emitter:
  high_interval: 1s

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  max_events: 1000
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Simulation.HistoryDays != 7 {
		t.Errorf("Unexpected history days: %d", cfg.Simulation.HistoryDays)
	}
	if cfg.Simulation.AnomalyRate != 0.1 {
		t.Errorf("Unexpected anomaly rate: %f", cfg.Simulation.AnomalyRate)
	}
	if cfg.Emitter.HighInterval != time.Second {
		t.Errorf("Unexpected high interval: %v", cfg.Emitter.HighInterval)
	}
	if cfg.Emitter.MediumInterval != 10*time.Second {
		t.Errorf("Default medium interval not applied: %v", cfg.Emitter.MediumInterval)
	}
	if cfg.Simulation.HistoryInterval != 12*time.Hour {
		t.Errorf("Default history interval not applied: %v", cfg.Simulation.HistoryInterval)
	}
	if cfg.Delivery.CatchupLimit != 500 {
		t.Errorf("Default catchup limit not applied: %d", cfg.Delivery.CatchupLimit)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Simulation.HistoryDays != 30 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STREAMSIM_SIMULATION_HISTORY_DAYS", "3")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Simulation.HistoryDays != 3 {
		t.Errorf("env override not applied: %d", cfg.Simulation.HistoryDays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = "1"
		}},
		{"anomaly rate above one", func(c *Config) { c.Simulation.AnomalyRate = 1.5 }},
		{"zero history days", func(c *Config) { c.Simulation.HistoryDays = 0 }},
		{"tiny history interval", func(c *Config) { c.Simulation.HistoryInterval = time.Second }},
		{"unknown timezone", func(c *Config) { c.Simulation.Timezone = "Mars/Olympus" }},
		{"fast emitter", func(c *Config) { c.Emitter.HighInterval = time.Millisecond }},
		{"no clients", func(c *Config) { c.Delivery.MaxClients = 0 }},
		{"zero max events", func(c *Config) { c.Storage.MaxEvents = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestValidateDisabledEmitterSkipsIntervals(t *testing.T) {
	cfg := validConfig(t)
	cfg.Emitter.Enabled = false
	cfg.Emitter.HighInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled emitter should not validate intervals: %v", err)
	}
}
