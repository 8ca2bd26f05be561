package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scene = "scene.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing scene", func(c *Config) { c.Scene = "" }, false},
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }, false},
		{"negative tick rate", func(c *Config) { c.TickRate = -10 }, false},
		{"excessive tick rate", func(c *Config) { c.TickRate = 5000 }, false},
		{"nats without url", func(c *Config) {
			c.Transport.Kind = "nats"
			c.Transport.URL = ""
		}, false},
		{"nats with url", func(c *Config) {
			c.Transport.Kind = "nats"
			c.Transport.URL = "nats://localhost:4222"
		}, true},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "zmq" }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Scene = "scene.json"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scene = "robots.json"
	cfg.TickRate = 100
	cfg.Transport = TransportConfig{Kind: "nats", URL: "nats://127.0.0.1:4222"}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Scene != cfg.Scene || got.TickRate != cfg.TickRate {
		t.Errorf("round trip mismatch: got %+v want %+v", got, cfg)
	}
	if got.Transport != cfg.Transport {
		t.Errorf("transport mismatch: got %+v want %+v", got.Transport, cfg.Transport)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, &Config{Scene: "scene.json"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DataDir != DefaultDataDir {
		t.Errorf("data dir = %q, want default %q", got.DataDir, DefaultDataDir)
	}
}

func TestPresetReturnsCopy(t *testing.T) {
	a, ok := Preset("local")
	if !ok {
		t.Fatal("missing local preset")
	}
	a.TickRate = 999
	b, _ := Preset("local")
	if b.TickRate == 999 {
		t.Error("preset mutation leaked into shared map")
	}
}

func TestPresetsValid(t *testing.T) {
	for name := range Presets {
		cfg, _ := Preset(name)
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
		}
	}
}
