package balancer

import (
	"sync"

	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// weightedEntry tracks the moving current weight for one backend
type weightedEntry struct {
	weight        int
	currentWeight int
}

// WeightedRoundRobin distributes requests using smooth weighted round robin
// (the Nginx algorithm): each call adds Weight to every candidate's current
// weight, picks the highest, and subtracts the total from the winner. Over
// any window the selection count converges exactly on the weight ratios.
//
// Candidates are walked in slice order and ties keep the earlier backend, so
// selection is deterministic for a fixed candidate order.
type WeightedRoundRobin struct {
	mux     sync.Mutex
	entries map[string]*weightedEntry
}

// NewWeightedRoundRobin creates a new weighted round-robin strategy
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{
		entries: make(map[string]*weightedEntry),
	}
}

// Select picks a backend using smooth weighted round-robin
func (wrr *WeightedRoundRobin) Select(candidates []*registry.Backend) *registry.Backend {
	if len(candidates) == 0 {
		return nil
	}

	wrr.mux.Lock()
	defer wrr.mux.Unlock()

	present := make(map[string]struct{}, len(candidates))

	totalWeight := 0
	var selected *registry.Backend
	var selectedEntry *weightedEntry

	for _, b := range candidates {
		present[b.Address] = struct{}{}

		e, ok := wrr.entries[b.Address]
		if !ok {
			e = &weightedEntry{weight: b.Weight}
			wrr.entries[b.Address] = e
		}
		e.weight = b.Weight // pick up weight changes from reloads

		e.currentWeight += e.weight
		totalWeight += e.weight

		if selectedEntry == nil || e.currentWeight > selectedEntry.currentWeight {
			selected = b
			selectedEntry = e
		}
	}

	// Drop cursor state for backends no longer offered
	for addr := range wrr.entries {
		if _, ok := present[addr]; !ok {
			delete(wrr.entries, addr)
		}
	}

	selectedEntry.currentWeight -= totalWeight
	return selected
}

// Name returns the strategy name
func (wrr *WeightedRoundRobin) Name() string {
	return "weighted-round-robin"
}
