package registry

import (
	"testing"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
)

func testRegistry(bus *events.EventBus) *Registry {
	return NewRegistry(nil, bus, config.TimingConfig{HeartbeatLost: 300, TickStale: 180})
}

func TestTickFlowStale(t *testing.T) {
	// Tuesday 10:00 UTC is inside the London session; Saturday is closed.
	open := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	weekend := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	window := 3 * time.Minute

	tests := []struct {
		name     string
		lastTick time.Time
		now      time.Time
		window   time.Duration
		want     bool
	}{
		{"never ticked", time.Time{}, open, window, false},
		{"fresh tick", open.Add(-time.Minute), open, window, false},
		{"stale during market hours", open.Add(-10 * time.Minute), open, window, true},
		{"exactly at window", open.Add(-window), open, window, false},
		{"stale over the weekend", weekend.Add(-10 * time.Minute), weekend, window, false},
		{"window disabled", open.Add(-time.Hour), open, 0, false},
	}
	for _, tt := range tests {
		info := &ConnectionInfo{LastTick: tt.lastTick}
		if got := tickFlowStale(info, tt.now, tt.window); got != tt.want {
			t.Errorf("%s: tickFlowStale = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReconnectAudit(t *testing.T) {
	d := reconnectAudit(12345, "heartbeat resumed")
	if d.AccountNumber != 12345 {
		t.Errorf("account = %d, want 12345", d.AccountNumber)
	}
	if d.DecisionType != database.DecisionTypeMT5Reconnect {
		t.Errorf("decision type = %s, want %s", d.DecisionType, database.DecisionTypeMT5Reconnect)
	}
	if d.Decision != database.DecisionApproved {
		t.Errorf("decision = %s, want %s", d.Decision, database.DecisionApproved)
	}
	if d.PrimaryReason != "terminal restored: heartbeat resumed" {
		t.Errorf("reason = %q", d.PrimaryReason)
	}
}

func TestHeartbeatRecoveryPublishesReconnect(t *testing.T) {
	bus := events.NewEventBus()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventMT5Reconnected, func(ev events.Event) { got <- ev })

	r := testRegistry(bus)
	r.MarkConnected(100, "Demo")

	// First connect is not a reconnect.
	select {
	case <-got:
		t.Fatal("first connect published a reconnect event")
	case <-time.After(50 * time.Millisecond):
	}

	r.mu.Lock()
	r.conns[100].Connected = false
	r.mu.Unlock()

	r.Heartbeat(100)
	select {
	case ev := <-got:
		if acct, _ := ev.Data["account_number"].(int64); acct != 100 {
			t.Errorf("event account = %v, want 100", ev.Data["account_number"])
		}
	case <-time.After(time.Second):
		t.Fatal("no reconnect event after heartbeat recovery")
	}
}

func TestIsConnectedTracksHeartbeat(t *testing.T) {
	r := testRegistry(nil)
	if r.IsConnected(7) {
		t.Error("unknown account reported connected")
	}
	r.MarkConnected(7, "Demo")
	if !r.IsConnected(7) {
		t.Error("fresh connection reported disconnected")
	}

	r.mu.Lock()
	r.conns[7].LastHeartbeat = time.Now().UTC().Add(-10 * time.Minute)
	r.mu.Unlock()
	if r.IsConnected(7) {
		t.Error("stale heartbeat still reported connected")
	}
}
