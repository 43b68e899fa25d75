package balancer

import (
	"github.com/nodefluxio/fremisn-proxy/internal/registry"
)

// Strategy defines the interface for backend selection algorithms. The
// dispatcher keeps one instance per tier so cursor state is shared across
// requests but never across tiers.
type Strategy interface {
	// Select chooses a backend from the given candidates.
	// Returns nil if the slice is empty.
	Select(candidates []*registry.Backend) *registry.Backend

	// Name returns the strategy name
	Name() string
}

// ForName returns a fresh strategy instance for a configured name,
// defaulting to weighted round-robin for unknown names.
func ForName(name string) Strategy {
	switch name {
	case "round-robin":
		return NewRoundRobin()
	case "least-connections":
		return NewLeastConnections()
	default:
		return NewWeightedRoundRobin()
	}
}
