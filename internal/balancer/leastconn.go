package balancer

import (
	"math"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// LeastConnections selects the candidate with the fewest in-flight requests
type LeastConnections struct{}

// NewLeastConnections creates a new least-connections strategy
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

// Select picks the backend with minimum in-flight requests
func (lc *LeastConnections) Select(candidates []*registry.Backend) *registry.Backend {
	if len(candidates) == 0 {
		return nil
	}

	var selected *registry.Backend
	minInflight := int64(math.MaxInt64)

	for _, b := range candidates {
		inflight := b.Inflight()
		if inflight < minInflight {
			minInflight = inflight
			selected = b
		}
	}

	return selected
}

// Name returns the strategy name
func (lc *LeastConnections) Name() string {
	return "least-connections"
}
