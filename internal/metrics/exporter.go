package metrics

import (
	"context"
	"time"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
	"github.com/nodefluxio/fremisn-proxy/internal/retry"
)

// Exporter periodically mirrors pool state into gauge metrics
type Exporter struct {
	collector *Collector
	pool      *registry.Pool
	budget    *retry.Budget
}

// NewExporter creates a new metrics exporter
func NewExporter(collector *Collector, pool *registry.Pool, budget *retry.Budget) *Exporter {
	return &Exporter{
		collector: collector,
		pool:      pool,
		budget:    budget,
	}
}

// Start begins the export loop until ctx is cancelled
func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.export()
		}
	}
}

// export updates all gauge metrics
func (e *Exporter) export() {
	for _, b := range e.pool.Backends() {
		up := 0.0
		if b.Healthy() {
			up = 1.0
		}
		e.collector.BackendUp.WithLabelValues(b.Address, b.Role.String()).Set(up)
		e.collector.InflightRequests.WithLabelValues(b.Address).Set(float64(b.Inflight()))
	}

	if e.budget != nil {
		e.collector.RetryBudgetTokens.Set(float64(e.budget.Available()))
	}
}
