package registry

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestPool(backends ...*Backend) *Pool {
	p := NewPool(zap.NewNop())
	for _, b := range backends {
		p.Add(b)
	}
	return p
}

// TestBackendInitialState tests that a new backend starts Up with no failures
func TestBackendInitialState(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, 30*time.Second)

	if b.State() != Up {
		t.Errorf("Initial state should be Up, got %v", b.State())
	}
	if b.ConsecutiveFailures() != 0 {
		t.Errorf("Initial failures should be 0, got %d", b.ConsecutiveFailures())
	}
	if !b.DownSince().IsZero() {
		t.Error("DownSince should be zero while Up")
	}
	if b.URL.String() != "http://127.0.0.1:4005" {
		t.Errorf("Unexpected URL %q", b.URL.String())
	}
}

// TestFailThresholdTransition tests that exactly failThreshold consecutive
// failures mark a backend Down, and a single success recovers it
func TestFailThresholdTransition(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, 30*time.Second)
	p := newTestPool(b)

	p.ReportFailure(b.Address)
	p.ReportFailure(b.Address)
	if b.State() != Up {
		t.Fatalf("Backend should still be Up after 2 failures (threshold 3), got %v", b.State())
	}

	p.ReportFailure(b.Address)
	if b.State() != Down {
		t.Fatalf("Backend should be Down after 3 failures, got %v", b.State())
	}
	if b.DownSince().IsZero() {
		t.Error("DownSince should be set on the Down transition")
	}
	if b.ConsecutiveFailures() < 3 {
		t.Errorf("Down backend should have failures >= threshold, got %d", b.ConsecutiveFailures())
	}

	// Further failures are a no-op transition-wise
	p.ReportFailure(b.Address)
	if b.State() != Down {
		t.Error("Backend should stay Down on additional failures")
	}

	// Recovery resets the counter and clears downSince
	p.ReportSuccess(b.Address)
	if b.State() != Up {
		t.Fatalf("Backend should be Up after success, got %v", b.State())
	}
	if b.ConsecutiveFailures() != 0 {
		t.Errorf("Failures should reset to 0 on success, got %d", b.ConsecutiveFailures())
	}
	if !b.DownSince().IsZero() {
		t.Error("DownSince should be cleared on recovery")
	}
}

// TestReportSuccessIdempotent tests repeated success reports on an Up backend
func TestReportSuccessIdempotent(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, 30*time.Second)
	p := newTestPool(b)

	for i := 0; i < 5; i++ {
		p.ReportSuccess(b.Address)
	}
	if b.State() != Up || b.ConsecutiveFailures() != 0 {
		t.Error("Repeated successes should leave backend Up with zero failures")
	}
}

// TestEligibleForRetry tests the failTimeout gate on Down backends
func TestEligibleForRetry(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 1, 50*time.Millisecond)
	p := newTestPool(b)

	if p.IsEligibleForRetry(b.Address) {
		t.Error("Up backend should never be eligible for retry")
	}

	p.ReportFailure(b.Address)
	if b.State() != Down {
		t.Fatal("Backend should be Down (threshold 1)")
	}
	if p.IsEligibleForRetry(b.Address) {
		t.Error("Backend should not be eligible immediately after Down transition")
	}

	time.Sleep(60 * time.Millisecond)
	if !p.IsEligibleForRetry(b.Address) {
		t.Error("Backend should be eligible once failTimeout has elapsed")
	}
}

// TestListHealthyTiers tests tier partitioning and health filtering
func TestListHealthyTiers(t *testing.T) {
	p1 := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 1, time.Second)
	p2 := NewBackend("127.0.0.1:4006", 1, RolePrimary, 0, 1, time.Second)
	bk := NewBackend("127.0.0.1:4007", 1, RoleBackup, 0, 1, time.Second)
	p := newTestPool(p1, p2, bk)

	primaries := p.ListHealthy(RolePrimary)
	if len(primaries) != 2 {
		t.Fatalf("Expected 2 healthy primaries, got %d", len(primaries))
	}
	// Configuration order is preserved
	if primaries[0] != p1 || primaries[1] != p2 {
		t.Error("ListHealthy should preserve configuration order")
	}
	if got := p.ListHealthy(RoleBackup); len(got) != 1 || got[0] != bk {
		t.Fatalf("Expected the single backup backend, got %d", len(got))
	}

	p.ReportFailure(p1.Address)
	primaries = p.ListHealthy(RolePrimary)
	if len(primaries) != 1 || primaries[0] != p2 {
		t.Errorf("Down backend should not be listed, got %d primaries", len(primaries))
	}
}

// TestUnknownAddressDoesNotPanic tests that health reports for an address
// outside the pool are swallowed
func TestUnknownAddressDoesNotPanic(t *testing.T) {
	p := newTestPool(NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, time.Second))

	p.ReportSuccess("10.0.0.1:9999")
	p.ReportFailure("10.0.0.1:9999")
	if p.IsEligibleForRetry("10.0.0.1:9999") {
		t.Error("Unknown address should never be eligible for retry")
	}
}

// TestMaxConnsAcquire tests the in-flight cap
func TestMaxConnsAcquire(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 2, 3, time.Second)

	if !b.TryAcquire() || !b.TryAcquire() {
		t.Fatal("Acquire should succeed below the cap")
	}
	if b.TryAcquire() {
		t.Fatal("Acquire should fail at the cap")
	}

	b.Release()
	if !b.TryAcquire() {
		t.Error("Acquire should succeed again after a release")
	}
	if b.Inflight() != 2 {
		t.Errorf("Expected 2 in-flight, got %d", b.Inflight())
	}
}

// TestUnlimitedConns tests that MaxConns of 0 never caps
func TestUnlimitedConns(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, time.Second)
	for i := 0; i < 1000; i++ {
		if !b.TryAcquire() {
			t.Fatal("Acquire should never fail without a cap")
		}
	}
}

// TestConcurrentReports tests that concurrent success/failure reports keep
// the state invariants intact
func TestConcurrentReports(t *testing.T) {
	b := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 3, time.Second)
	p := newTestPool(b)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				p.ReportFailure(b.Address)
			} else {
				p.ReportSuccess(b.Address)
			}
		}(i)
	}
	wg.Wait()

	// Invariant: Down implies failures >= threshold, Up implies failures < threshold
	state, failures := b.State(), b.ConsecutiveFailures()
	if state == Down && failures < 3 {
		t.Errorf("Down backend must have failures >= threshold, got %d", failures)
	}
	if state == Up && failures >= 3 {
		t.Errorf("Up backend must have failures < threshold, got %d", failures)
	}
}

// TestReplacePreservesHealth tests reload semantics
func TestReplacePreservesHealth(t *testing.T) {
	oldA := NewBackend("127.0.0.1:4005", 1, RolePrimary, 0, 1, time.Minute)
	oldB := NewBackend("127.0.0.1:4006", 1, RolePrimary, 0, 1, time.Minute)
	p := newTestPool(oldA, oldB)

	p.ReportFailure(oldA.Address)
	if oldA.State() != Down {
		t.Fatal("oldA should be Down")
	}

	newA := NewBackend("127.0.0.1:4005", 3, RolePrimary, 0, 1, time.Minute)
	newC := NewBackend("127.0.0.1:4007", 1, RoleBackup, 0, 1, time.Minute)
	p.Replace([]*Backend{newA, newC})

	if p.Size() != 2 {
		t.Fatalf("Expected 2 backends after replace, got %d", p.Size())
	}
	if newA.State() != Down {
		t.Error("Health state should carry over for surviving addresses")
	}
	if newC.State() != Up {
		t.Error("New addresses should start Up")
	}
	if len(p.ListHealthy(RolePrimary)) != 0 {
		t.Error("The only primary is Down, ListHealthy(primary) should be empty")
	}

	// Reports now resolve against the new set
	p.ReportSuccess("127.0.0.1:4005")
	if newA.State() != Up {
		t.Error("Recovered backend should be Up after replace")
	}
	if oldB.State() != Up {
		t.Error("Removed backend is untouched")
	}
}
