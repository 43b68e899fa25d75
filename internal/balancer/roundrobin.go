package balancer

import (
	"sync/atomic"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// RoundRobin distributes requests evenly across candidates, ignoring weights
type RoundRobin struct {
	counter uint64 // Atomic cursor
}

// NewRoundRobin creates a new round-robin strategy
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select picks the next backend in round-robin order
func (rr *RoundRobin) Select(candidates []*registry.Backend) *registry.Backend {
	if len(candidates) == 0 {
		return nil
	}

	count := atomic.AddUint64(&rr.counter, 1)
	return candidates[int((count-1)%uint64(len(candidates)))]
}

// Name returns the strategy name
func (rr *RoundRobin) Name() string {
	return "round-robin"
}
