package risk

import (
	"testing"

	"mt5-trading-backend/internal/database"
)

func TestEnforceSLWithinBudget(t *testing.T) {
	spec := &database.BrokerSymbol{Point: 0.00001, Digits: 5, VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100}

	// 50 pips = 500 points at 0.10 lot, 1.0 per point-lot: loss 50.
	// Budget at 2% of 10000 is 200.
	res, err := EnforceSL("EURUSD", database.SignalBuy, 1.1000, 1.0950, 0.10, 10000, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reduced {
		t.Error("lot within budget should not be reduced")
	}
	if !almostEqual(res.Lot, 0.10) {
		t.Errorf("lot = %v, want unchanged 0.10", res.Lot)
	}
	if !almostEqual(res.PotentialLoss, 50) {
		t.Errorf("potential loss = %v, want 50", res.PotentialLoss)
	}
}

func TestEnforceSLShrinksOversizedLot(t *testing.T) {
	spec := &database.BrokerSymbol{Point: 0.00001, Digits: 5, VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100}

	// 1.00 lot over 50 pips risks 500 against a 200 budget.
	res, err := EnforceSL("EURUSD", database.SignalBuy, 1.1000, 1.0950, 1.00, 10000, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Reduced {
		t.Fatal("oversized lot should be reduced")
	}
	if res.Lot >= 1.00 {
		t.Errorf("reduced lot = %v, want < 1.00", res.Lot)
	}
	if res.PotentialLoss > res.MaxLoss+1e-9 {
		t.Errorf("post-shrink loss %v still exceeds budget %v", res.PotentialLoss, res.MaxLoss)
	}
}

func TestEnforceSLDirectionCheck(t *testing.T) {
	if _, err := EnforceSL("EURUSD", database.SignalBuy, 1.1000, 1.1050, 0.10, 10000, nil); err == nil {
		t.Error("BUY with SL above entry should error")
	}
	if _, err := EnforceSL("EURUSD", database.SignalSell, 1.1000, 1.0950, 0.10, 10000, nil); err == nil {
		t.Error("SELL with SL below entry should error")
	}
}

func TestEnforceSLMissingStop(t *testing.T) {
	if _, err := EnforceSL("EURUSD", database.SignalBuy, 1.1000, 0, 0.10, 10000, nil); err == nil {
		t.Error("missing SL should error")
	}
}

func TestEnforceSLBrokerMinDistance(t *testing.T) {
	spec := &database.BrokerSymbol{Point: 0.00001, StopsLevel: 100, VolumeMin: 0.01, VolumeStep: 0.01}
	// SL 5 points away, broker requires 100.
	if _, err := EnforceSL("EURUSD", database.SignalBuy, 1.10000, 1.09995, 0.10, 10000, spec); err == nil {
		t.Error("SL inside stops_level should error")
	}
}

func TestEnforceSLUnshrinkable(t *testing.T) {
	spec := &database.BrokerSymbol{Point: 0.00001, Digits: 5, VolumeMin: 1.0, VolumeStep: 1.0, VolumeMax: 100}
	// Minimum broker lot of 1.0 already risks 500 against a 20 budget.
	if _, err := EnforceSL("EURUSD", database.SignalBuy, 1.1000, 1.0950, 1.0, 1000, spec); err == nil {
		t.Error("position that cannot shrink below budget should error")
	}
}

func TestMaxRiskPct(t *testing.T) {
	if got := MaxRiskPct("EURUSD"); got != 2.0 {
		t.Errorf("forex max risk = %v, want 2.0", got)
	}
	if got := MaxRiskPct("BTCUSD"); got != 2.5 {
		t.Errorf("crypto max risk = %v, want 2.5", got)
	}
}
