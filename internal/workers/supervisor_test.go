package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mt5-trading-backend/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func TestRunOncePanicContained(t *testing.T) {
	s := NewSupervisor(nil, testLogger())
	w := &Worker{Name: "panicky", Interval: time.Second, Run: func(ctx context.Context) error {
		panic("boom")
	}}

	err := s.runOnce(context.Background(), w)
	if err == nil {
		t.Fatal("panic should surface as an error")
	}
}

func TestWorkerHealthCounters(t *testing.T) {
	w := &Worker{Name: "counter", Interval: time.Second}

	w.mu.Lock()
	w.lastRun = time.Now().UTC()
	w.successCount = 3
	w.lastSuccess = w.lastRun
	w.mu.Unlock()

	h := w.health()
	if h.Name != "counter" || h.SuccessCount != 3 || !h.IsHealthy {
		t.Errorf("health = %+v, want healthy with 3 successes", h)
	}
	if h.LastRun == nil || h.LastSuccess == nil {
		t.Error("timestamps should be set after a run")
	}
}

func TestWorkerHealthUnhealthyAfterErrors(t *testing.T) {
	w := &Worker{Name: "failing", Interval: time.Second}

	w.mu.Lock()
	w.lastRun = time.Now().UTC()
	w.errorCount = 2
	w.lastError = "db down"
	w.mu.Unlock()

	h := w.health()
	if h.IsHealthy {
		t.Error("worker with consecutive errors and no recent success should be unhealthy")
	}
	if h.LastError != "db down" {
		t.Errorf("last error = %q, want propagated message", h.LastError)
	}
}

func TestSupervisorRunsAndStops(t *testing.T) {
	s := NewSupervisor(nil, testLogger())

	var runs atomic.Int32
	s.Register("ticker", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete within the latency bound")
	}

	if runs.Load() == 0 {
		t.Error("worker never ran")
	}

	snap := s.HealthSnapshot()
	if len(snap) != 1 || snap[0].Name != "ticker" {
		t.Errorf("health snapshot = %+v, want one ticker entry", snap)
	}
}

func TestSupervisorRecordsErrors(t *testing.T) {
	s := NewSupervisor(nil, testLogger())

	var calls atomic.Int32
	s.Register("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Shutdown()

	snap := s.HealthSnapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	if snap[0].ErrorCount == 0 {
		t.Error("error count should be recorded")
	}
	if snap[0].IsHealthy {
		t.Error("erroring worker should report unhealthy")
	}
}
