package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Push.FreshnessWindow != 30*time.Second {
		t.Errorf("freshness window = %v", cfg.Push.FreshnessWindow)
	}
	if cfg.Poll.MoveThresholdMeters != 20 {
		t.Errorf("move threshold = %v", cfg.Poll.MoveThresholdMeters)
	}
	if cfg.Quota.FlushInterval != 30*time.Second || cfg.Quota.StatusInterval != 15*time.Second {
		t.Errorf("quota intervals = %v / %v", cfg.Quota.FlushInterval, cfg.Quota.StatusInterval)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("default config must fail validation without fleet.url")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetview.yaml")
	content := `
fleet:
  url: https://fleet.example.com
  token: fv_test
push:
  broker_url: tcp://localhost:1883
  freshness_window: 45s
filter:
  deployment_id: festival-east
state:
  backend: file
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fleet.URL != "https://fleet.example.com" {
		t.Errorf("fleet url = %s", cfg.Fleet.URL)
	}
	if cfg.Push.FreshnessWindow != 45*time.Second {
		t.Errorf("freshness window = %v", cfg.Push.FreshnessWindow)
	}
	if cfg.Filter.DeploymentID != "festival-east" {
		t.Errorf("deployment = %s", cfg.Filter.DeploymentID)
	}
	// Unset fields keep defaults.
	if cfg.Poll.MoveThresholdMeters != 20 {
		t.Errorf("move threshold default lost: %v", cfg.Poll.MoveThresholdMeters)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FLEETVIEW_FLEET_URL", "https://env.example.com")
	t.Setenv("FLEETVIEW_FILTER_EVENT_ID", "ev-7")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Fleet.URL != "https://env.example.com" {
		t.Errorf("fleet url = %s", cfg.Fleet.URL)
	}
	if cfg.Filter.EventID != "ev-7" {
		t.Errorf("event id = %s", cfg.Filter.EventID)
	}
}
