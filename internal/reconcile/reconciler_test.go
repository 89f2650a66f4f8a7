package reconcile

import (
	"math"
	"sort"
	"testing"

	"mt5-trading-backend/internal/database"
)

func TestApplyOutcome(t *testing.T) {
	// Fresh indicator: first win takes the rate to 100%.
	s := &database.IndicatorScore{WinRate: 50, TotalSignals: 0}
	applyOutcome(s, true)
	if s.TotalSignals != 1 || s.WinRate != 100 {
		t.Errorf("after first win: total %d rate %v, want 1/100", s.TotalSignals, s.WinRate)
	}

	applyOutcome(s, false)
	if s.TotalSignals != 2 || s.WinRate != 50 {
		t.Errorf("after win+loss: total %d rate %v, want 2/50", s.TotalSignals, s.WinRate)
	}

	// Established score shifts slowly: 60% over 10 plus one loss.
	s = &database.IndicatorScore{WinRate: 60, TotalSignals: 10}
	applyOutcome(s, false)
	if s.TotalSignals != 11 {
		t.Fatalf("total = %d, want 11", s.TotalSignals)
	}
	if want := 6.0 / 11 * 100; math.Abs(s.WinRate-want) > 1e-9 {
		t.Errorf("rate = %v, want %v", s.WinRate, want)
	}
}

func TestConfirmingIndicators(t *testing.T) {
	// Shape of a snapshot after the JSONB round trip.
	snapshot := map[string]interface{}{
		"regime": "TRENDING",
		"votes": map[string]interface{}{
			"rsi":        map[string]interface{}{"direction": "BUY", "strength": 0.7},
			"macd":       map[string]interface{}{"direction": "BUY", "strength": 0.5},
			"stochastic": map[string]interface{}{"direction": "SELL", "strength": 0.6},
			"cci":        map[string]interface{}{"direction": "NEUTRAL", "strength": 0.1},
		},
	}

	got := confirmingIndicators(snapshot, database.SignalBuy)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "macd" || got[1] != "rsi" {
		t.Errorf("BUY confirmers = %v, want [macd rsi]", got)
	}

	if got := confirmingIndicators(snapshot, database.SignalSell); len(got) != 1 || got[0] != "stochastic" {
		t.Errorf("SELL confirmers = %v, want [stochastic]", got)
	}

	if got := confirmingIndicators(map[string]interface{}{}, database.SignalBuy); got != nil {
		t.Errorf("snapshot without votes produced %v", got)
	}
}

func TestInferCloseReason(t *testing.T) {
	r := &Reconciler{}
	base := &database.Trade{
		OpenPrice:  1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
	}

	tests := []struct {
		name       string
		closePrice float64
		trailing   bool
		want       string
	}{
		{"at stop loss", 1.0950, false, database.CloseReasonSLHit},
		{"near stop loss", 1.0952, false, database.CloseReasonSLHit},
		{"at take profit", 1.1100, false, database.CloseReasonTPHit},
		{"between levels", 1.1040, false, database.CloseReasonManual},
		{"trailing stop hit", 1.0950, true, database.CloseReasonTrailingStop},
		{"trailing manual close", 1.1040, true, database.CloseReasonTrailingStop},
	}
	for _, tt := range tests {
		trade := *base
		trade.TrailingStopActive = tt.trailing
		if got := r.inferCloseReason(&trade, tt.closePrice); got != tt.want {
			t.Errorf("%s: reason = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestLevelsDiffer(t *testing.T) {
	if levelsDiffer(1.1000, 1.1000) {
		t.Error("identical levels reported as different")
	}
	if !levelsDiffer(1.1000, 1.1001) {
		t.Error("distinct levels reported as equal")
	}
}
