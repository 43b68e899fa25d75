package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownBackend is reported when a health update names an address that is
// not in the pool. Pool membership is static between reloads, so this points
// at a configuration problem rather than a runtime condition.
var ErrUnknownBackend = errors.New("unknown backend address")

// Pool is the single source of truth for backend configuration and live
// health state. All mutation goes through its operations; callers hold a
// shared handle, never a private copy.
type Pool struct {
	mux      sync.RWMutex
	backends []*Backend // configuration order, preserved across reloads
	byAddr   map[string]*Backend
	logger   *zap.Logger
}

// NewPool creates an empty pool
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{
		byAddr: make(map[string]*Backend),
		logger: logger,
	}
}

// Add appends a backend to the pool
func (p *Pool) Add(b *Backend) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.backends = append(p.backends, b)
	p.byAddr[b.Address] = b
}

// Backends returns all backends in configuration order (copy of slice)
func (p *Pool) Backends() []*Backend {
	p.mux.RLock()
	defer p.mux.RUnlock()

	backends := make([]*Backend, len(p.backends))
	copy(backends, p.backends)
	return backends
}

// ListHealthy returns the Up backends of the given tier in configuration
// order. The snapshot is consistent: a backend whose Down transition has
// committed is never reported Up.
func (p *Pool) ListHealthy(role Role) []*Backend {
	p.mux.RLock()
	defer p.mux.RUnlock()

	var healthy []*Backend
	for _, b := range p.backends {
		if b.Role == role && b.Healthy() {
			healthy = append(healthy, b)
		}
	}
	return healthy
}

// ReportSuccess resets the failure counter for the backend and recovers it
// if it was Down. Idempotent. Unknown addresses are logged, not propagated.
func (p *Pool) ReportSuccess(address string) {
	b := p.lookup(address)
	if b == nil {
		p.logger.Error("health report for unknown backend",
			zap.String("address", address),
			zap.Error(ErrUnknownBackend))
		return
	}

	if b.recordSuccess() {
		p.logger.Info("backend recovered",
			zap.String("address", address),
			zap.String("role", b.Role.String()))
	}
}

// ReportFailure increments the failure counter for the backend and marks it
// Down once FailThreshold consecutive failures accumulate.
func (p *Pool) ReportFailure(address string) {
	b := p.lookup(address)
	if b == nil {
		p.logger.Error("health report for unknown backend",
			zap.String("address", address),
			zap.Error(ErrUnknownBackend))
		return
	}

	if b.recordFailure() {
		p.logger.Warn("backend marked down",
			zap.String("address", address),
			zap.String("role", b.Role.String()),
			zap.Int("consecutive_failures", b.ConsecutiveFailures()))
	}
}

// IsEligibleForRetry reports whether a Down backend has waited out its
// FailTimeout and may be probed again.
func (p *Pool) IsEligibleForRetry(address string) bool {
	b := p.lookup(address)
	if b == nil {
		return false
	}
	return b.eligibleForRetry(time.Now())
}

// Size returns the total number of backends
func (p *Pool) Size() int {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return len(p.backends)
}

// Replace swaps in a new backend set while preserving health state for
// addresses that survive the reload. New addresses start Up.
func (p *Pool) Replace(newBackends []*Backend) {
	p.mux.Lock()
	defer p.mux.Unlock()

	for _, nb := range newBackends {
		if old, ok := p.byAddr[nb.Address]; ok {
			nb.copyHealthFrom(old)
		}
	}

	p.backends = newBackends
	p.byAddr = make(map[string]*Backend, len(newBackends))
	for _, b := range newBackends {
		p.byAddr[b.Address] = b
	}
}

func (p *Pool) lookup(address string) *Backend {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.byAddr[address]
}
