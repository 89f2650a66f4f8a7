package autotrader

import (
	"testing"
	"time"

	"mt5-trading-backend/internal/database"
)

func TestSignalExpiredBoundary(t *testing.T) {
	created := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	maxAge := 300 * time.Second

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", created.Add(time.Minute), false},
		{"exactly at the limit", created.Add(maxAge), false},
		{"one second over", created.Add(maxAge + time.Second), true},
	}
	for _, tt := range tests {
		if got := signalExpired(created, tt.now, maxAge); got != tt.want {
			t.Errorf("%s: signalExpired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSessionAdjustment(t *testing.T) {
	// All instants on Tuesday 2026-08-18 except the weekend case.
	day := func(h int) time.Time { return time.Date(2026, 8, 18, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		now  time.Time
		want float64
	}{
		{"asian needs more conviction", day(3), 5},
		{"london neutral", day(9), 0},
		{"overlap eases the bar", day(13), -5},
		{"new york neutral", day(18), 0},
		{"weekend blocks everything", time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC), 100},
	}
	for _, tt := range tests {
		if got := sessionAdjustment(tt.now); got != tt.want {
			t.Errorf("%s: sessionAdjustment = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTrendAdjustment(t *testing.T) {
	tests := []struct {
		trend, signalType string
		want              float64
	}{
		{database.SignalBuy, database.SignalBuy, -15},
		{database.SignalSell, database.SignalSell, -15},
		{database.SignalBuy, database.SignalSell, 20},
		{database.SignalSell, database.SignalBuy, 20},
		{"", database.SignalBuy, 0},
	}
	for _, tt := range tests {
		if got := trendAdjustment(tt.trend, tt.signalType); got != tt.want {
			t.Errorf("trendAdjustment(%q, %q) = %v, want %v", tt.trend, tt.signalType, got, tt.want)
		}
	}
}

func TestRegimeAdjustment(t *testing.T) {
	if got := regimeAdjustment("TRENDING", "TRENDING"); got != -3 {
		t.Errorf("matching regime = %v, want -3", got)
	}
	if got := regimeAdjustment("TRENDING", "RANGING"); got != 3 {
		t.Errorf("mismatched regime = %v, want 3", got)
	}
	if got := regimeAdjustment("TRENDING", ""); got != 0 {
		t.Errorf("unknown regime = %v, want 0", got)
	}
}

func TestValidateSL(t *testing.T) {
	atr := 0.0010
	mk := func(direction string, entry, sl float64) *database.TradingSignal {
		return &database.TradingSignal{SignalType: direction, EntryPrice: entry, StopLoss: sl}
	}

	tests := []struct {
		name   string
		signal *database.TradingSignal
		reject bool
	}{
		{"buy sl below entry", mk(database.SignalBuy, 1.1000, 1.0990), false},
		{"buy sl above entry", mk(database.SignalBuy, 1.1000, 1.1010), true},
		{"buy sl at entry", mk(database.SignalBuy, 1.1000, 1.1000), true},
		{"sell sl above entry", mk(database.SignalSell, 1.1000, 1.1010), false},
		{"sell sl below entry", mk(database.SignalSell, 1.1000, 1.0990), true},
		{"sl tighter than atr minimum", mk(database.SignalBuy, 1.1000, 1.09999), true},
	}
	for _, tt := range tests {
		got := validateSL(tt.signal, atr)
		if (got != nil) != tt.reject {
			t.Errorf("%s: validateSL rejection = %v, want %v", tt.name, got != nil, tt.reject)
		}
	}

	// ATR unknown: only the direction rule applies.
	if rej := validateSL(mk(database.SignalBuy, 1.1000, 1.09999), 0); rej != nil {
		t.Error("zero ATR should skip the distance check")
	}
}

func TestPrevailingTrend(t *testing.T) {
	mk := func(closes []float64) []*database.OHLCCandle {
		out := make([]*database.OHLCCandle, len(closes))
		for i, c := range closes {
			out[i] = &database.OHLCCandle{Close: c}
		}
		return out
	}

	rising := make([]float64, 60)
	falling := make([]float64, 60)
	flat := make([]float64, 60)
	for i := range rising {
		rising[i] = 1.1000 + float64(i)*0.0010
		falling[i] = 1.2000 - float64(i)*0.0010
		flat[i] = 1.1000
	}

	if got := prevailingTrend(mk(rising)); got != database.SignalBuy {
		t.Errorf("rising closes = %q, want BUY", got)
	}
	if got := prevailingTrend(mk(falling)); got != database.SignalSell {
		t.Errorf("falling closes = %q, want SELL", got)
	}
	if got := prevailingTrend(mk(flat)); got != "" {
		t.Errorf("flat closes = %q, want none", got)
	}
}

func TestCorrelatedCount(t *testing.T) {
	open := []*database.Trade{
		{Symbol: "EURUSD"},
		{Symbol: "EURJPY"},
		{Symbol: "GBPUSD"},
		{Symbol: "XAUUSD"},
	}

	if got := correlatedCount(open, "EURGBP"); got != 2 {
		t.Errorf("EUR group count = %d, want 2", got)
	}
	if got := correlatedCount(open, "GBPJPY"); got != 1 {
		t.Errorf("GBP group count = %d, want 1", got)
	}
	if got := correlatedCount(open, "XAUEUR"); got != 1 {
		t.Errorf("GOLD group count = %d, want 1", got)
	}
	if got := correlatedCount(open, "USDJPY"); got != 0 {
		t.Errorf("USD group count = %d, want 0", got)
	}
}

func TestAbsoluteSpreadLimit(t *testing.T) {
	tests := []struct {
		symbol string
		want   float64
	}{
		{"USDJPY", 0.05},
		{"XAUUSD", 1.0},
		{"BTCUSD", 100.0},
		{"DE40.c", 5.0},
		{"EURUSD", 0.0005},
	}
	for _, tt := range tests {
		if got := absoluteSpreadLimit(tt.symbol); got != tt.want {
			t.Errorf("absoluteSpreadLimit(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestSnapshotATR(t *testing.T) {
	sig := &database.TradingSignal{IndicatorSnapshot: map[string]interface{}{"atr": 0.0012}}
	if got := snapshotATR(sig); got != 0.0012 {
		t.Errorf("snapshotATR = %v, want 0.0012", got)
	}
	if got := snapshotATR(&database.TradingSignal{IndicatorSnapshot: map[string]interface{}{}}); got != 0 {
		t.Errorf("snapshotATR without atr = %v, want 0", got)
	}
}
