package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadValidConfig tests loading a complete configuration
func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":8085"
strategy: weighted-round-robin
backends:
  - address: "10.0.0.1:4005"
    weight: 2
    role: primary
    max_conns: 5
  - address: "10.0.0.2:4005"
    role: backup
health_check:
  path: /healthz
  interval: 5
  timeout: 3
  acceptable_status: [200, 404]
  fail_threshold: 3
  fail_timeout: 30
proxy:
  connect_timeout: 5
  response_timeout: 60
  max_retries: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":8085" {
		t.Errorf("Expected listen :8085, got %s", cfg.Listen)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.Backends[0].MaxConns != 5 {
		t.Errorf("Expected max_conns 5, got %d", cfg.Backends[0].MaxConns)
	}
	if len(cfg.HealthCheck.AcceptableStatus) != 2 || cfg.HealthCheck.AcceptableStatus[1] != 404 {
		t.Errorf("Unexpected acceptable_status %v", cfg.HealthCheck.AcceptableStatus)
	}
}

// TestLoadDefaults tests that omitted options get their defaults
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
backends:
  - address: "10.0.0.1:4005"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("Default listen should be :8080, got %s", cfg.Listen)
	}
	if cfg.AdminListen != ":9090" {
		t.Errorf("Default admin_listen should be :9090, got %s", cfg.AdminListen)
	}
	if cfg.Strategy != StrategyWeightedRoundRobin {
		t.Errorf("Default strategy should be weighted-round-robin, got %s", cfg.Strategy)
	}
	if cfg.HealthCheck.Interval != 15 || cfg.HealthCheck.Timeout != 10 {
		t.Errorf("Default health check timings wrong: %+v", cfg.HealthCheck)
	}
	if cfg.HealthCheck.FailThreshold != 3 || cfg.HealthCheck.FailTimeout != 30 {
		t.Errorf("Default health check thresholds wrong: %+v", cfg.HealthCheck)
	}
	if cfg.HealthCheck.DownProbe != DownProbeNormal {
		t.Errorf("Default down_probe should be normal, got %s", cfg.HealthCheck.DownProbe)
	}
	if cfg.Proxy.ConnectTimeout != 5 || cfg.Proxy.ResponseTimeout != 60 || cfg.Proxy.MaxRetries != 2 {
		t.Errorf("Default proxy settings wrong: %+v", cfg.Proxy)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Default log settings wrong: %+v", cfg.Log)
	}
}

// TestLoadRejectsInvalid tests startup-fatal configuration errors
func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty pool",
			yaml:    `listen: ":8080"`,
			wantErr: "no backends",
		},
		{
			name: "negative weight",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
    weight: -1
`,
			wantErr: "weight",
		},
		{
			name: "bad address",
			yaml: `
backends:
  - address: "not-a-hostport"
`,
			wantErr: "host:port",
		},
		{
			name: "bad role",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
    role: standby
`,
			wantErr: "role",
		},
		{
			name: "no primary",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
    role: backup
`,
			wantErr: "primary",
		},
		{
			name: "bad strategy",
			yaml: `
strategy: random
backends:
  - address: "10.0.0.1:4005"
`,
			wantErr: "strategy",
		},
		{
			name: "bad down_probe",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
health_check:
  down_probe: sometimes
`,
			wantErr: "down_probe",
		},
		{
			name: "bad status code",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
health_check:
  acceptable_status: [2000]
`,
			wantErr: "acceptable_status",
		},
		{
			name: "rate limit without rps",
			yaml: `
backends:
  - address: "10.0.0.1:4005"
rate_limit:
  enabled: true
`,
			wantErr: "rps",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("Load should have failed")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Error %q should mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

// TestLoadMissingFile tests the error for a nonexistent path
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

// TestBuildBackends tests conversion into registry backends
func TestBuildBackends(t *testing.T) {
	path := writeConfig(t, `
backends:
  - address: "10.0.0.1:4005"
    weight: 3
  - address: "10.0.0.2:4005"
    role: backup
health_check:
  fail_threshold: 4
  fail_timeout: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	backends := cfg.BuildBackends()
	if len(backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(backends))
	}

	if backends[0].Role != registry.RolePrimary || backends[0].Weight != 3 {
		t.Errorf("First backend should be primary weight 3, got %v weight %d",
			backends[0].Role, backends[0].Weight)
	}
	if backends[1].Role != registry.RoleBackup || backends[1].Weight != 1 {
		t.Errorf("Second backend should be backup with default weight 1, got %v weight %d",
			backends[1].Role, backends[1].Weight)
	}
	if backends[0].FailThreshold != 4 {
		t.Errorf("FailThreshold should come from health_check, got %d", backends[0].FailThreshold)
	}
	if backends[0].FailTimeout.Seconds() != 20 {
		t.Errorf("FailTimeout should be 20s, got %v", backends[0].FailTimeout)
	}
}
