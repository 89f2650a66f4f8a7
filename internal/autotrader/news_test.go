package autotrader

import (
	"testing"
	"time"
)

func TestNewsBlockedHighImpactWindow(t *testing.T) {
	release := time.Date(2025, 7, 15, 12, 30, 0, 0, time.UTC)
	cal := NewNewsCalendar()
	cal.Add(NewsEvent{Currency: "USD", Impact: NewsImpactHigh, Title: "NFP", At: release})

	tests := []struct {
		name    string
		at      time.Time
		blocked bool
	}{
		{"25 min before", release.Add(-25 * time.Minute), true},
		{"10 min after", release.Add(10 * time.Minute), true},
		{"45 min before", release.Add(-45 * time.Minute), false},
		{"20 min after", release.Add(20 * time.Minute), false},
	}
	for _, tt := range tests {
		_, got := cal.Blocked("EURUSD", tt.at)
		if got != tt.blocked {
			t.Errorf("%s: blocked = %v, want %v", tt.name, got, tt.blocked)
		}
	}
}

func TestNewsBlockedMediumImpactWindow(t *testing.T) {
	release := time.Date(2025, 7, 15, 12, 30, 0, 0, time.UTC)
	cal := NewNewsCalendar()
	cal.Add(NewsEvent{Currency: "EUR", Impact: NewsImpactMedium, At: release})

	if _, blocked := cal.Blocked("EURUSD", release.Add(-10*time.Minute)); !blocked {
		t.Error("10 min before a MEDIUM release should be blocked")
	}
	if _, blocked := cal.Blocked("EURUSD", release.Add(-20*time.Minute)); blocked {
		t.Error("20 min before a MEDIUM release should not be blocked")
	}
}

func TestNewsBlockedCurrencyFilter(t *testing.T) {
	release := time.Date(2025, 7, 15, 12, 30, 0, 0, time.UTC)
	cal := NewNewsCalendar()
	cal.Add(NewsEvent{Currency: "JPY", Impact: NewsImpactHigh, At: release})

	if _, blocked := cal.Blocked("EURUSD", release); blocked {
		t.Error("JPY event should not block EURUSD")
	}
	if _, blocked := cal.Blocked("USDJPY", release); !blocked {
		t.Error("JPY event should block USDJPY")
	}
}

func TestNewsBlockedMetalsAreUSDSensitive(t *testing.T) {
	release := time.Date(2025, 7, 15, 12, 30, 0, 0, time.UTC)
	cal := NewNewsCalendar()
	cal.Add(NewsEvent{Currency: "USD", Impact: NewsImpactHigh, At: release})

	if _, blocked := cal.Blocked("XAUUSD", release); !blocked {
		t.Error("USD event should block gold")
	}
}

func TestNewsEmptyCalendarNeverBlocks(t *testing.T) {
	cal := NewNewsCalendar()
	if _, blocked := cal.Blocked("EURUSD", time.Now()); blocked {
		t.Error("empty calendar should never block")
	}
}

func TestCurrencyGroup(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"XAUUSD", "GOLD"},
		{"XAGUSD", "SILVER"},
		{"BTCUSD", "CRYPTO"},
		{"DE40.c", "INDICES"},
		{"US500", "INDICES"},
		{"EURUSD", "EUR"},
		{"GBPJPY", "GBP"},
	}
	for _, tt := range tests {
		if got := CurrencyGroup(tt.symbol); got != tt.want {
			t.Errorf("CurrencyGroup(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}
