package config

import (
	"fmt"
	"net"
	"time"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// Config represents the proxy configuration
type Config struct {
	Listen             string          `yaml:"listen"`               // Proxy listen address
	AdminListen        string          `yaml:"admin_listen"`         // Metrics/status listen address
	Strategy           string          `yaml:"strategy"`             // Selection strategy
	Backends           []BackendConfig `yaml:"backends"`             // Upstream targets
	HealthCheck        HealthCheck     `yaml:"health_check"`         // Prober configuration
	Proxy              Proxy           `yaml:"proxy"`                // Dispatcher configuration
	RetryBudgetPercent int             `yaml:"retry_budget_percent"` // Failover budget as % of request rate
	RateLimit          RateLimit       `yaml:"rate_limit"`           // Inbound rate limiting
	Log                Log             `yaml:"log"`                  // Logger configuration
}

// BackendConfig represents a single upstream target
type BackendConfig struct {
	Address  string `yaml:"address"`             // host:port
	Weight   int    `yaml:"weight,omitempty"`    // Dispatch weight, default 1
	Role     string `yaml:"role,omitempty"`      // primary (default) or backup
	MaxConns int64  `yaml:"max_conns,omitempty"` // Concurrent request cap, 0 = unlimited
}

// HealthCheck defines prober parameters
type HealthCheck struct {
	Path             string `yaml:"path"`              // Probe path; empty = TCP connect only
	Interval         int    `yaml:"interval"`          // Seconds between probe cycles
	Timeout          int    `yaml:"timeout"`           // Per-probe timeout in seconds
	AcceptableStatus []int  `yaml:"acceptable_status"` // Statuses counted as success; empty = any 2xx
	FailThreshold    int    `yaml:"fail_threshold"`    // Consecutive failures before Down
	FailTimeout      int    `yaml:"fail_timeout"`      // Seconds before a Down backend is retried
	DownProbe        string `yaml:"down_probe"`        // normal | after-timeout
}

// Proxy defines dispatcher timeouts and retry bounds
type Proxy struct {
	ConnectTimeout  int `yaml:"connect_timeout"`  // Backend dial timeout in seconds
	ResponseTimeout int `yaml:"response_timeout"` // Response header timeout in seconds
	MaxRetries      int `yaml:"max_retries"`      // Failover attempts after the first
}

// RateLimit defines optional inbound request throttling
type RateLimit struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Log defines logger output
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DownProbe policies: probe Down backends every cycle, or only once their
// fail_timeout has elapsed.
const (
	DownProbeNormal       = "normal"
	DownProbeAfterTimeout = "after-timeout"
)

// Strategy names recognized by the dispatcher
const (
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyRoundRobin         = "round-robin"
	StrategyLeastConnections   = "least-connections"
)

// BuildBackends converts the configured backend list into registry backends.
func (c *Config) BuildBackends() []*registry.Backend {
	failTimeout := time.Duration(c.HealthCheck.FailTimeout) * time.Second

	backends := make([]*registry.Backend, 0, len(c.Backends))
	for _, bc := range c.Backends {
		role := registry.RolePrimary
		if bc.Role == "backup" {
			role = registry.RoleBackup
		}

		weight := bc.Weight
		if weight == 0 {
			weight = 1 // Default weight
		}

		backends = append(backends, registry.NewBackend(
			bc.Address, weight, role, bc.MaxConns,
			c.HealthCheck.FailThreshold, failTimeout))
	}
	return backends
}

// Validate checks the configuration for errors that must refuse startup.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}

	hasPrimary := false
	for i, bc := range c.Backends {
		if bc.Address == "" {
			return fmt.Errorf("backend %d: address is required", i)
		}
		if _, _, err := net.SplitHostPort(bc.Address); err != nil {
			return fmt.Errorf("backend %d: address %q is not host:port: %w", i, bc.Address, err)
		}
		// Zero falls back to the default weight of 1 in BuildBackends.
		if bc.Weight < 0 {
			return fmt.Errorf("backend %d: weight must not be negative, got %d", i, bc.Weight)
		}
		if bc.MaxConns < 0 {
			return fmt.Errorf("backend %d: max_conns must not be negative, got %d", i, bc.MaxConns)
		}
		switch bc.Role {
		case "", "primary":
			hasPrimary = true
		case "backup":
		default:
			return fmt.Errorf("backend %d: role must be primary or backup, got %q", i, bc.Role)
		}
	}
	if !hasPrimary {
		return fmt.Errorf("at least one primary backend is required")
	}

	switch c.Strategy {
	case StrategyWeightedRoundRobin, StrategyRoundRobin, StrategyLeastConnections:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	switch c.HealthCheck.DownProbe {
	case DownProbeNormal, DownProbeAfterTimeout:
	default:
		return fmt.Errorf("down_probe must be %q or %q, got %q",
			DownProbeNormal, DownProbeAfterTimeout, c.HealthCheck.DownProbe)
	}

	if c.HealthCheck.FailThreshold < 1 {
		return fmt.Errorf("fail_threshold must be at least 1, got %d", c.HealthCheck.FailThreshold)
	}
	if c.HealthCheck.Interval < 1 || c.HealthCheck.Timeout < 1 {
		return fmt.Errorf("health check interval and timeout must be positive")
	}
	for _, s := range c.HealthCheck.AcceptableStatus {
		if s < 100 || s > 599 {
			return fmt.Errorf("acceptable_status contains invalid HTTP status %d", s)
		}
	}

	if c.Proxy.ConnectTimeout < 1 || c.Proxy.ResponseTimeout < 1 {
		return fmt.Errorf("proxy timeouts must be positive")
	}
	if c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.Proxy.MaxRetries)
	}

	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive when rate limiting is enabled")
	}

	return nil
}
