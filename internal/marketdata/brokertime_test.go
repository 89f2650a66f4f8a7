package marketdata

import (
	"testing"
	"time"
)

func TestParseBrokerTimeSummer(t *testing.T) {
	// July: EEST, UTC+3.
	got, err := ParseBrokerTime("2025-07-15 12:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseBrokerTime summer = %v, want %v", got, want)
	}
}

func TestParseBrokerTimeWinter(t *testing.T) {
	// January: EET, UTC+2.
	got, err := ParseBrokerTime("2025-01-15 12:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseBrokerTime winter = %v, want %v", got, want)
	}
}

func TestParseBrokerTimeInvalid(t *testing.T) {
	if _, err := ParseBrokerTime("not a time"); err == nil {
		t.Error("malformed timestamp should error")
	}
}

func TestBrokerEpochToUTC(t *testing.T) {
	// 2025-07-15 12:00:00 read as a broker wall clock.
	wall := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC).Unix()
	got := BrokerEpochToUTC(wall)
	want := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BrokerEpochToUTC = %v, want %v", got, want)
	}
}

func TestDetectSession(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want TradingSession
	}{
		{"london-ny overlap", time.Date(2025, 7, 15, 13, 0, 0, 0, time.UTC), SessionOverlap},
		{"london morning", time.Date(2025, 7, 15, 8, 0, 0, 0, time.UTC), SessionLondon},
		{"new york afternoon", time.Date(2025, 7, 15, 18, 0, 0, 0, time.UTC), SessionNewYork},
		{"asian overnight", time.Date(2025, 7, 15, 2, 0, 0, 0, time.UTC), SessionAsian},
		{"late evening", time.Date(2025, 7, 15, 22, 0, 0, 0, time.UTC), SessionAsian},
		{"saturday", time.Date(2025, 7, 19, 12, 0, 0, 0, time.UTC), SessionClosed},
		{"friday after close", time.Date(2025, 7, 18, 22, 0, 0, 0, time.UTC), SessionClosed},
		{"sunday before open", time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC), SessionClosed},
		{"sunday after open", time.Date(2025, 7, 20, 22, 0, 0, 0, time.UTC), SessionAsian},
	}
	for _, tt := range tests {
		if got := DetectSession(tt.at); got != tt.want {
			t.Errorf("%s: DetectSession = %s, want %s", tt.name, got, tt.want)
		}
	}
}
