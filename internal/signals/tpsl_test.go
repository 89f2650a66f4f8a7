package signals

import (
	"math"
	"testing"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/indicators"
)

func TestClassifySymbol(t *testing.T) {
	tests := []struct {
		symbol string
		want   AssetClass
	}{
		{"EURUSD", AssetForexMajor},
		{"GBPJPY", AssetForexMajor},
		{"XAUUSD", AssetMetals},
		{"XAGUSD", AssetMetals},
		{"BTCUSD", AssetCrypto},
		{"ETHUSD", AssetCrypto},
		{"DE40.c", AssetIndices},
		{"US500", AssetIndices},
		{"btcusd", AssetCrypto},
	}
	for _, tt := range tests {
		if got := ClassifySymbol(tt.symbol); got != tt.want {
			t.Errorf("ClassifySymbol(%q) = %s, want %s", tt.symbol, got, tt.want)
		}
	}
}

func TestSelectTPNearestValid(t *testing.T) {
	// Entry 1.1000, ATR 0.0010 -> candidates must be >= 1.1015 for BUY.
	got := selectTP(1.1000, []float64{1.1005, 1.1020, 1.1050}, 0.0010, true)
	if got != 1.1020 {
		t.Errorf("selectTP BUY = %v, want nearest valid 1.1020", got)
	}

	got = selectTP(1.1000, []float64{1.0998, 1.0980, 1.0950}, 0.0010, false)
	if got != 1.0980 {
		t.Errorf("selectTP SELL = %v, want nearest valid 1.0980", got)
	}

	if got := selectTP(1.1000, []float64{1.1005}, 0.0010, true); got != 0 {
		t.Errorf("selectTP with only too-close candidates = %v, want 0", got)
	}
}

func TestSelectSLTightestValid(t *testing.T) {
	got := selectSL(1.1000, []float64{1.0995, 1.0988, 1.0970}, 0.0010, true)
	if got != 1.0988 {
		t.Errorf("selectSL BUY = %v, want tightest valid 1.0988", got)
	}

	got = selectSL(1.1000, []float64{1.1012, 1.1030}, 0.0010, false)
	if got != 1.1012 {
		t.Errorf("selectSL SELL = %v, want tightest valid 1.1012", got)
	}
}

func TestRoundNumberDirection(t *testing.T) {
	above := roundNumber(1.1003, true)
	if above <= 1.1003 {
		t.Errorf("roundNumber above entry = %v, want > entry", above)
	}
	below := roundNumber(1.1003, false)
	if below >= 1.1003 {
		t.Errorf("roundNumber below entry = %v, want < entry", below)
	}
}

func TestSwingLevels(t *testing.T) {
	mk := func(high, low float64) *database.OHLCCandle {
		return &database.OHLCCandle{High: high, Low: low, Open: (high + low) / 2, Close: (high + low) / 2}
	}
	candles := []*database.OHLCCandle{
		mk(1.10, 1.09),
		mk(1.11, 1.10),
		mk(1.15, 1.11), // swing high at 1.15
		mk(1.12, 1.10),
		mk(1.11, 1.09),
	}
	highs := swingLevels(candles, true, 5)
	if len(highs) != 1 || highs[0] != 1.15 {
		t.Errorf("swingLevels highs = %v, want [1.15]", highs)
	}
}

func levelsFixture(direction string, entry, atr float64) (Levels, string) {
	analysis := &indicators.Analysis{
		ATR:     atr,
		BBUpper: entry + 3*atr,
		BBLower: entry - 3*atr,
	}
	return CalculateLevels(direction, "EURUSD", entry, analysis, nil, nil, LevelBounds{})
}

func TestCalculateLevelsBuy(t *testing.T) {
	levels, reason := levelsFixture(database.SignalBuy, 1.1000, 0.0010)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if levels.TakeProfit <= levels.Entry {
		t.Errorf("BUY TP %v not above entry %v", levels.TakeProfit, levels.Entry)
	}
	if levels.StopLoss >= levels.Entry {
		t.Errorf("BUY SL %v not below entry %v", levels.StopLoss, levels.Entry)
	}
	if levels.RiskReward < minRRBuy {
		t.Errorf("BUY risk:reward = %v, want >= %v", levels.RiskReward, minRRBuy)
	}
}

func TestCalculateLevelsSell(t *testing.T) {
	levels, reason := levelsFixture(database.SignalSell, 1.1000, 0.0010)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if levels.TakeProfit >= levels.Entry {
		t.Errorf("SELL TP %v not below entry %v", levels.TakeProfit, levels.Entry)
	}
	if levels.StopLoss <= levels.Entry {
		t.Errorf("SELL SL %v not above entry %v", levels.StopLoss, levels.Entry)
	}
	if levels.RiskReward < minRRSell {
		t.Errorf("SELL risk:reward = %v, want >= %v", levels.RiskReward, minRRSell)
	}
}

func TestCalculateLevelsAsymmetricRRFloors(t *testing.T) {
	buy, reason := levelsFixture(database.SignalBuy, 1.1000, 0.0010)
	if reason != "" {
		t.Fatalf("BUY rejected: %s", reason)
	}
	sell, reason := levelsFixture(database.SignalSell, 1.1000, 0.0010)
	if reason != "" {
		t.Fatalf("SELL rejected: %s", reason)
	}

	// BUY carries the stricter 2.0 floor, SELL only 1.5.
	if buy.RiskReward < 2.0 {
		t.Errorf("BUY risk:reward = %v, want >= 2.0", buy.RiskReward)
	}
	if sell.RiskReward < 1.5 {
		t.Errorf("SELL risk:reward = %v, want >= 1.5", sell.RiskReward)
	}
}

func TestCalculateLevelsNoATR(t *testing.T) {
	_, reason := levelsFixture(database.SignalBuy, 1.1000, 0)
	if reason == "" {
		t.Error("zero ATR should be rejected")
	}
}

func TestCalculateLevelsStopsLevelClamp(t *testing.T) {
	spec := &database.BrokerSymbol{Point: 0.0001, StopsLevel: 50} // min distance 0.005
	analysis := &indicators.Analysis{ATR: 0.0010, BBUpper: 1.1030, BBLower: 1.0970}
	levels, reason := CalculateLevels(database.SignalBuy, "EURUSD", 1.1000, analysis, nil, spec, LevelBounds{})
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	minDist := float64(spec.StopsLevel) * spec.Point
	if dist := levels.Entry - levels.StopLoss; dist < minDist-1e-9 {
		t.Errorf("SL distance %v below broker minimum %v", dist, minDist)
	}
	if dist := levels.TakeProfit - levels.Entry; dist < minDist-1e-9 {
		t.Errorf("TP distance %v below broker minimum %v", dist, minDist)
	}
}

func TestCalculateLevelsMaxTPPercentCap(t *testing.T) {
	// A wide ATR pushes the raw TP ~15% from entry; the cap pulls it back.
	analysis := &indicators.Analysis{ATR: 5, BBUpper: 115, BBLower: 85}
	bounds := LevelBounds{MaxTPPercent: 5}
	levels, reason := CalculateLevels(database.SignalBuy, "EURUSD", 100, analysis, nil, nil, bounds)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	maxDist := 100 * bounds.MaxTPPercent / 100
	if dist := levels.TakeProfit - levels.Entry; dist > maxDist+1e-9 {
		t.Errorf("TP distance %v exceeds %v%% cap (%v)", dist, bounds.MaxTPPercent, maxDist)
	}
}

func TestCalculateLevelsMinSLPercentFloor(t *testing.T) {
	analysis := &indicators.Analysis{ATR: 0.0010, BBUpper: 1.1030, BBLower: 1.0970}
	bounds := LevelBounds{MinSLPercent: 1.0}
	levels, reason := CalculateLevels(database.SignalBuy, "EURUSD", 1.1000, analysis, nil, nil, bounds)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	minDist := 1.1000 * bounds.MinSLPercent / 100
	if dist := levels.Entry - levels.StopLoss; dist < minDist-1e-9 {
		t.Errorf("SL distance %v below %v%% floor (%v)", dist, bounds.MinSLPercent, minDist)
	}
}

func TestCalculateLevelsFreezeLevelClamp(t *testing.T) {
	// Freeze level wider than stops level wins: levels inside it could
	// never be modified later.
	spec := &database.BrokerSymbol{Point: 0.0001, StopsLevel: 10, FreezeLevel: 80}
	analysis := &indicators.Analysis{ATR: 0.0010, BBUpper: 1.1030, BBLower: 1.0970}
	levels, reason := CalculateLevels(database.SignalBuy, "EURUSD", 1.1000, analysis, nil, spec, LevelBounds{})
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	minDist := float64(spec.FreezeLevel) * spec.Point
	if dist := levels.Entry - levels.StopLoss; dist < minDist-1e-9 {
		t.Errorf("SL distance %v inside freeze distance %v", dist, minDist)
	}
	if dist := levels.TakeProfit - levels.Entry; dist < minDist-1e-9 {
		t.Errorf("TP distance %v inside freeze distance %v", dist, minDist)
	}
}

func TestRiskReward(t *testing.T) {
	if rr := riskReward(1.10, 1.09, 1.12); !floatsClose(rr, 2.0) {
		t.Errorf("riskReward = %v, want 2.0", rr)
	}
	if rr := riskReward(1.10, 1.10, 1.12); rr != 0 {
		t.Errorf("riskReward with zero risk = %v, want 0", rr)
	}
}

func floatsClose(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
