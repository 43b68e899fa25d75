// Package prober actively checks backend health and feeds the registry.
// Probing is decoupled from request serving: dispatch never blocks on
// health-check I/O.
package prober

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodefluxio/fremisn-proxy/internal/config"
	"github.com/nodefluxio/fremisn-proxy/internal/metrics"
	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// Prober runs the periodic health-check loop against every pool backend
type Prober struct {
	pool      *registry.Pool
	cfg       config.HealthCheck
	client    *http.Client
	dialer    *net.Dialer
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates a prober for the given pool
func New(pool *registry.Pool, cfg config.HealthCheck, collector *metrics.Collector, logger *zap.Logger) *Prober {
	timeout := time.Duration(cfg.Timeout) * time.Second
	return &Prober{
		pool: pool,
		cfg:  cfg,
		client: &http.Client{
			Timeout: timeout,
			// A probe must observe the backend as new connections see it
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		dialer:    &net.Dialer{Timeout: timeout},
		collector: collector,
		logger:    logger,
	}
}

// Start runs the probe loop until ctx is cancelled. One cycle fires on
// startup so dispatch does not wait a full interval for initial state.
func (p *Prober) Start(ctx context.Context) {
	interval := time.Duration(p.cfg.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("prober started",
		zap.Int("interval_seconds", p.cfg.Interval),
		zap.Int("timeout_seconds", p.cfg.Timeout),
		zap.String("path", p.cfg.Path),
		zap.String("down_probe", p.cfg.DownProbe))

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle probes every backend concurrently. Each probe is independent:
// one slow or failing backend never delays detection for the others.
func (p *Prober) runCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range p.pool.Backends() {
		if p.skipDown(b) {
			continue
		}

		wg.Add(1)
		go func(b *registry.Backend) {
			defer wg.Done()
			p.probe(ctx, b)
		}(b)
	}
	wg.Wait()
}

// skipDown applies the configured Down-backend cadence: under after-timeout
// a Down backend is left alone until its fail_timeout has elapsed.
func (p *Prober) skipDown(b *registry.Backend) bool {
	if p.cfg.DownProbe != config.DownProbeAfterTimeout {
		return false
	}
	return b.State() == registry.Down && !p.pool.IsEligibleForRetry(b.Address)
}

// probe runs one health check against one backend and reports the result
func (p *Prober) probe(ctx context.Context, b *registry.Backend) {
	start := time.Now()
	err := p.check(ctx, b)
	elapsed := time.Since(start)

	p.collector.ProbeDuration.WithLabelValues(b.Address).Observe(elapsed.Seconds())

	if err != nil {
		p.collector.ProbesTotal.WithLabelValues(b.Address, "failure").Inc()
		p.logger.Warn("probe failed",
			zap.String("backend", b.Address),
			zap.Duration("latency", elapsed),
			zap.Error(err))
		p.pool.ReportFailure(b.Address)
		return
	}

	p.collector.ProbesTotal.WithLabelValues(b.Address, "success").Inc()
	p.pool.ReportSuccess(b.Address)
}

// check issues the configured probe: HTTP GET when a path is set, plain TCP
// connect otherwise. Timeouts, refused connections, DNS failures and
// unacceptable statuses all classify as failure.
func (p *Prober) check(ctx context.Context, b *registry.Backend) error {
	if p.cfg.Path == "" {
		conn, err := p.dialer.DialContext(ctx, "tcp", b.Address)
		if err != nil {
			return err
		}
		return conn.Close()
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, b.URL.String()+p.cfg.Path, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !p.statusAcceptable(resp.StatusCode) {
		return fmt.Errorf("unacceptable status code: %d", resp.StatusCode)
	}
	return nil
}

// statusAcceptable classifies a probe response status. With no configured
// set, any 2xx passes. The set exists so deployments whose backends lack a
// dedicated health route can accept 404 explicitly.
func (p *Prober) statusAcceptable(code int) bool {
	if len(p.cfg.AcceptableStatus) == 0 {
		return code >= 200 && code < 300
	}
	for _, s := range p.cfg.AcceptableStatus {
		if code == s {
			return true
		}
	}
	return false
}
