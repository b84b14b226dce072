// Package config handles dashboard engine configuration loading and
// validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (FLEETVIEW_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	fleet:
//	  url: https://fleet.gridpoint.energy
//	  token: fv_xxx
//
//	push:
//	  broker_url: tcp://broker.site.local:1883
//	  topic_pattern: fleet/+/systems
//
//	filter:
//	  deployment_id: festival-east
//
//	quota:
//	  flush_interval: 30s
//	  status_interval: 15s
//
//	state:
//	  backend: auto
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/kvstore"
)

// Config is the complete dashboard engine configuration.
type Config struct {
	Fleet  FleetConfig    `yaml:"fleet"`
	Push   PushConfig     `yaml:"push"`
	Filter FilterConfig   `yaml:"filter"`
	Poll   PollConfig     `yaml:"poll"`
	Quota  QuotaConfig    `yaml:"quota"`
	State  kvstore.Config `yaml:"state"`
	Health HealthConfig   `yaml:"health"`
}

// FleetConfig defines how to reach the fleet API.
type FleetConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	// RateLimit is client-side requests per minute (default: 120).
	RateLimit int `yaml:"rate_limit,omitempty"`
}

// PushConfig defines the realtime push channel. An empty broker URL
// disables the channel; the dashboard runs snapshot-only.
type PushConfig struct {
	BrokerURL    string `yaml:"broker_url,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	TopicPattern string `yaml:"topic_pattern,omitempty"`

	FreshnessWindow time.Duration `yaml:"freshness_window"`
}

// FilterConfig narrows the snapshot to one deployment and/or event.
type FilterConfig struct {
	DeploymentID string `yaml:"deployment_id,omitempty"`
	EventID      string `yaml:"event_id,omitempty"`
}

// PollConfig tunes the adaptive snapshot poller.
type PollConfig struct {
	MoveThresholdMeters float64 `yaml:"move_threshold_meters"`
	// EventStalenessWindow bounds event correlation.
	EventStalenessWindow time.Duration `yaml:"event_staleness_window"`
}

// QuotaConfig tunes the tile usage guardrail.
type QuotaConfig struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// HealthConfig defines session health reporting.
type HealthConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			RequestTimeout: 30 * time.Second,
			RateLimit:      120,
		},
		Push: PushConfig{
			TopicPattern:    "fleet/+/systems",
			FreshnessWindow: 30 * time.Second,
		},
		Poll: PollConfig{
			MoveThresholdMeters:  20,
			EventStalenessWindow: 300 * time.Second,
		},
		Quota: QuotaConfig{
			FlushInterval:  30 * time.Second,
			StatusInterval: 15 * time.Second,
		},
		State: kvstore.Config{
			Backend: "auto",
		},
		Health: HealthConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Fleet.URL == "" {
		return fmt.Errorf("fleet.url is required")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the FLEETVIEW_ prefix:
// - FLEETVIEW_FLEET_URL
// - FLEETVIEW_FLEET_TOKEN
// - FLEETVIEW_PUSH_BROKER_URL
// - FLEETVIEW_PUSH_TOPIC_PATTERN
// - FLEETVIEW_FILTER_DEPLOYMENT_ID
// - FLEETVIEW_FILTER_EVENT_ID
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FLEETVIEW_FLEET_URL"); v != "" {
		c.Fleet.URL = v
	}
	if v := os.Getenv("FLEETVIEW_FLEET_TOKEN"); v != "" {
		c.Fleet.Token = v
	}
	if v := os.Getenv("FLEETVIEW_PUSH_BROKER_URL"); v != "" {
		c.Push.BrokerURL = v
	}
	if v := os.Getenv("FLEETVIEW_PUSH_TOPIC_PATTERN"); v != "" {
		c.Push.TopicPattern = v
	}
	if v := os.Getenv("FLEETVIEW_FILTER_DEPLOYMENT_ID"); v != "" {
		c.Filter.DeploymentID = v
	}
	if v := os.Getenv("FLEETVIEW_FILTER_EVENT_ID"); v != "" {
		c.Filter.EventID = v
	}
}
