package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestPolicyMaxAttempts tests the attempt bound
func TestPolicyMaxAttempts(t *testing.T) {
	p := NewPolicy(2, 100)
	if p.MaxAttempts() != 3 {
		t.Errorf("2 retries should mean 3 attempts, got %d", p.MaxAttempts())
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if !p.AllowFailover(r, 1) {
		t.Error("Failover should be allowed after attempt 1 of 3")
	}
	if !p.AllowFailover(r, 2) {
		t.Error("Failover should be allowed after attempt 2 of 3")
	}
	if p.AllowFailover(r, 3) {
		t.Error("Failover should be denied after the final attempt")
	}
}

// TestPolicyZeroRetries tests that maxRetries of 0 disables failover
func TestPolicyZeroRetries(t *testing.T) {
	p := NewPolicy(0, 100)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if p.AllowFailover(r, 1) {
		t.Error("Failover should be denied when max_retries is 0")
	}
}

// TestPolicyCanceledClient tests that a gone caller stops failover
func TestPolicyCanceledClient(t *testing.T) {
	p := NewPolicy(3, 100)

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	cancel()

	if p.AllowFailover(r, 1) {
		t.Error("Failover should be denied once the client context is canceled")
	}
}

// TestBudgetConsume tests token consumption and exhaustion
func TestBudgetConsume(t *testing.T) {
	b := NewBudget(10) // 100 initial tokens at the 1000 req/s baseline

	granted := 0
	denied := 0
	for i := 0; i < 300; i++ {
		if b.TryConsume() {
			granted++
		} else {
			denied++
		}
	}

	// A second boundary during the loop may refill once, so allow a window
	if granted < 100 || granted > 200 {
		t.Errorf("Expected roughly the initial 100 grants, got %d", granted)
	}
	if denied == 0 {
		t.Error("Budget should eventually deny retries")
	}
}

// TestBudgetPercentClamped tests percent bounds
func TestBudgetPercentClamped(t *testing.T) {
	if got := NewBudget(0).Available(); got != 10 {
		t.Errorf("Percent below 1 clamps to 1 (10 tokens), got %d", got)
	}
	if got := NewBudget(500).Available(); got != 1000 {
		t.Errorf("Percent above 100 clamps to 100 (1000 tokens), got %d", got)
	}
}

// TestBudgetTrackRequest tests that tracking requests does not consume tokens
func TestBudgetTrackRequest(t *testing.T) {
	b := NewBudget(20)
	before := b.Available()
	for i := 0; i < 50; i++ {
		b.TrackRequest()
	}
	if b.Available() != before {
		t.Error("TrackRequest must not consume tokens")
	}
}
