package retry

import (
	"net/http"
)

// Policy bounds failover attempts per request. Failover is only considered
// for pre-response transport failures, so idempotency of the method is not a
// concern here: the upstream never saw a complete request.
type Policy struct {
	maxRetries int
	budget     *Budget
}

// NewPolicy creates a failover policy allowing maxRetries re-selections per
// request, bounded globally by an adaptive budget.
func NewPolicy(maxRetries, budgetPercent int) *Policy {
	return &Policy{
		maxRetries: maxRetries,
		budget:     NewBudget(budgetPercent),
	}
}

// MaxAttempts returns the total attempts allowed per request, the first try
// included.
func (p *Policy) MaxAttempts() int {
	return p.maxRetries + 1
}

// AllowFailover reports whether another backend may be tried after attempt
// attempts have failed.
func (p *Policy) AllowFailover(r *http.Request, attempt int) bool {
	// Caller already disconnected, nothing to retry for
	if r.Context().Err() != nil {
		return false
	}

	if attempt >= p.MaxAttempts() {
		return false
	}

	return p.budget.TryConsume()
}

// Budget returns the shared budget for metrics tracking
func (p *Policy) Budget() *Budget {
	return p.budget
}
