package registry

import (
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Role places a backend in the primary or backup dispatch tier
type Role int

const (
	// RolePrimary backends receive traffic whenever at least one is Up
	RolePrimary Role = iota

	// RoleBackup backends receive traffic only when no primary is Up
	RoleBackup
)

// String returns human-readable role name
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// State represents the health status of a backend
type State int

const (
	// Up means the backend is eligible for dispatch
	Up State = iota

	// Down means the backend has crossed its failure threshold
	Down
)

// String returns human-readable state name
func (s State) String() string {
	switch s {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// Backend represents a single upstream target. Static attributes are set at
// construction and never change; health fields are mutated only through the
// Report* operations so every transition for one backend is observed in a
// single total order.
type Backend struct {
	Address       string   // host:port, immutable
	URL           *url.URL // http URL derived from Address
	Weight        int      // dispatch weight (>= 1)
	Role          Role     // primary or backup tier
	MaxConns      int64    // cap on concurrent in-flight requests, 0 = unlimited
	FailThreshold int      // consecutive failures before marking Down
	FailTimeout   time.Duration // wait before a Down backend is retried

	mux       sync.Mutex // protects failures, state, downSince
	failures  int
	state     State
	downSince time.Time

	inflight int64 // atomic
}

// NewBackend creates a backend in the Up state.
func NewBackend(address string, weight int, role Role, maxConns int64, failThreshold int, failTimeout time.Duration) *Backend {
	if weight < 1 {
		weight = 1
	}
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &Backend{
		Address:       address,
		URL:           &url.URL{Scheme: "http", Host: address},
		Weight:        weight,
		Role:          role,
		MaxConns:      maxConns,
		FailThreshold: failThreshold,
		FailTimeout:   failTimeout,
		state:         Up,
	}
}

// State returns the current health state (thread-safe)
func (b *Backend) State() State {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.state
}

// Healthy reports whether the backend is Up
func (b *Backend) Healthy() bool {
	return b.State() == Up
}

// ConsecutiveFailures returns the current consecutive-failure count
func (b *Backend) ConsecutiveFailures() int {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.failures
}

// DownSince returns when the backend transitioned Down, zero if Up
func (b *Backend) DownSince() time.Time {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.downSince
}

// recordSuccess resets the failure counter and recovers a Down backend.
// Returns true when the call transitioned the backend Down -> Up.
func (b *Backend) recordSuccess() bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.failures = 0
	if b.state == Down {
		b.state = Up
		b.downSince = time.Time{}
		return true
	}
	return false
}

// recordFailure increments the failure counter and marks the backend Down
// once the threshold is reached. Returns true on the Up -> Down transition.
func (b *Backend) recordFailure() bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.failures++
	if b.state == Up && b.failures >= b.FailThreshold {
		b.state = Down
		b.downSince = time.Now()
		return true
	}
	return false
}

// eligibleForRetry reports whether a Down backend has been down for at least
// FailTimeout. Always false while Up.
func (b *Backend) eligibleForRetry(now time.Time) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	if b.state != Down {
		return false
	}
	return now.Sub(b.downSince) >= b.FailTimeout
}

// copyHealthFrom carries live health state over from a previous incarnation
// of the same address during a configuration reload.
func (b *Backend) copyHealthFrom(old *Backend) {
	old.mux.Lock()
	failures, state, downSince := old.failures, old.state, old.downSince
	old.mux.Unlock()

	b.mux.Lock()
	b.failures = failures
	b.state = state
	b.downSince = downSince
	b.mux.Unlock()
}

// TryAcquire reserves an in-flight slot, honoring MaxConns. Returns false
// when the backend is already at capacity.
func (b *Backend) TryAcquire() bool {
	for {
		cur := atomic.LoadInt64(&b.inflight)
		if b.MaxConns > 0 && cur >= b.MaxConns {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.inflight, cur, cur+1) {
			return true
		}
	}
}

// Release frees an in-flight slot acquired with TryAcquire
func (b *Backend) Release() {
	atomic.AddInt64(&b.inflight, -1)
}

// Inflight atomically reads the in-flight request count
func (b *Backend) Inflight() int64 {
	return atomic.LoadInt64(&b.inflight)
}
