package config

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	if cfg.Policy != "noop" {
		t.Errorf("default policy = %q, want noop", cfg.Policy)
	}
	if cfg.UnplugThreshold != 4 {
		t.Errorf("default unplug threshold = %d, want 4", cfg.UnplugThreshold)
	}
	if cfg.UnplugDelay != 3*time.Millisecond {
		t.Errorf("default unplug delay = %v, want 3ms", cfg.UnplugDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLKSCHED_POLICY", "deadline")
	t.Setenv("BLKSCHED_UNPLUG_THRESHOLD", "16")
	t.Setenv("BLKSCHED_UNPLUG_DELAY", "5ms")
	t.Setenv("BLKSCHED_DEVICE_REORDER", "true")

	cfg := New()
	if cfg.Policy != "deadline" {
		t.Errorf("policy = %q, want deadline", cfg.Policy)
	}
	if cfg.UnplugThreshold != 16 {
		t.Errorf("unplug threshold = %d, want 16", cfg.UnplugThreshold)
	}
	if cfg.UnplugDelay != 5*time.Millisecond {
		t.Errorf("unplug delay = %v, want 5ms", cfg.UnplugDelay)
	}
	if !cfg.DeviceReorder {
		t.Error("device reorder should be enabled")
	}
}

func TestEnvOverrideBadValue(t *testing.T) {
	t.Setenv("BLKSCHED_QUEUE_DEPTH", "not-a-number")

	cfg := New()
	if cfg.QueueDepth != 128 {
		t.Errorf("bad env value should fall back to default, got %d", cfg.QueueDepth)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty policy", func(c *Config) { c.Policy = "" }, true},
		{"zero depth", func(c *Config) { c.QueueDepth = 0 }, true},
		{"zero threshold", func(c *Config) { c.UnplugThreshold = 0 }, true},
		{"negative delay", func(c *Config) { c.UnplugDelay = -time.Second }, true},
		{"zero switch retries", func(c *Config) { c.SwitchMaxRetries = 0 }, true},
		{"error rate too high", func(c *Config) { c.DeviceErrorRate = 1.5 }, true},
		{"delay disabled", func(c *Config) { c.UnplugDelay = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
