package retry

import (
	"sync/atomic"
	"time"
)

// Budget bounds cluster-wide failover retries with a token bucket sized as a
// percentage of the observed request rate. When the whole pool is flapping
// this keeps retries from multiplying inbound load.
type Budget struct {
	tokens         int64 // Available tokens
	maxTokens      int64 // Maximum tokens
	percent        int   // Retries allowed as % of requests
	refillRate     int64 // Tokens added per second
	lastRefill     int64 // Unix timestamp of last refill
	requestCounter int64 // Requests observed since last refill
}

// NewBudget creates a budget allowing percent% of requests to be retries
func NewBudget(percent int) *Budget {
	if percent < 1 {
		percent = 1
	}
	if percent > 100 {
		percent = 100
	}

	// Baseline assumption of 1000 req/s until real traffic is observed
	maxTokens := int64(1000 * percent / 100)

	return &Budget{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		percent:    percent,
		refillRate: maxTokens,
		lastRefill: time.Now().Unix(),
	}
}

// TryConsume attempts to consume a token for a retry.
// Returns false when the budget is exhausted.
func (b *Budget) TryConsume() bool {
	b.refill()

	for {
		current := atomic.LoadInt64(&b.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.tokens, current, current-1) {
			return true
		}
	}
}

// TrackRequest records an inbound request so the refill rate can adapt to
// actual traffic.
func (b *Budget) TrackRequest() {
	atomic.AddInt64(&b.requestCounter, 1)
}

// refill adds tokens based on elapsed time and the observed request rate
func (b *Budget) refill() {
	now := time.Now().Unix()
	last := atomic.LoadInt64(&b.lastRefill)

	if now <= last {
		return
	}
	if !atomic.CompareAndSwapInt64(&b.lastRefill, last, now) {
		return // Another goroutine is refilling
	}

	actualRate := atomic.SwapInt64(&b.requestCounter, 0)
	if actualRate > 0 {
		rate := actualRate * int64(b.percent) / 100
		if rate < 1 {
			rate = 1
		}
		b.refillRate = rate
		atomic.StoreInt64(&b.maxTokens, rate)
	}

	tokensToAdd := (now - last) * b.refillRate

	for {
		current := atomic.LoadInt64(&b.tokens)
		newTokens := current + tokensToAdd
		if max := atomic.LoadInt64(&b.maxTokens); newTokens > max {
			newTokens = max
		}
		if atomic.CompareAndSwapInt64(&b.tokens, current, newTokens) {
			return
		}
	}
}

// Available returns the number of available tokens
func (b *Budget) Available() int64 {
	b.refill()
	return atomic.LoadInt64(&b.tokens)
}
