package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.AdminListen == "" {
		cfg.AdminListen = ":9090"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWeightedRoundRobin
	}

	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 15
	}
	if cfg.HealthCheck.Timeout == 0 {
		cfg.HealthCheck.Timeout = 10
	}
	if cfg.HealthCheck.FailThreshold == 0 {
		cfg.HealthCheck.FailThreshold = 3
	}
	if cfg.HealthCheck.FailTimeout == 0 {
		cfg.HealthCheck.FailTimeout = 30
	}
	if cfg.HealthCheck.DownProbe == "" {
		cfg.HealthCheck.DownProbe = DownProbeNormal
	}

	if cfg.Proxy.ConnectTimeout == 0 {
		cfg.Proxy.ConnectTimeout = 5
	}
	if cfg.Proxy.ResponseTimeout == 0 {
		cfg.Proxy.ResponseTimeout = 60
	}
	if cfg.Proxy.MaxRetries == 0 {
		cfg.Proxy.MaxRetries = 2
	}

	if cfg.RetryBudgetPercent == 0 {
		cfg.RetryBudgetPercent = 20
	}

	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RPS) * 2
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
