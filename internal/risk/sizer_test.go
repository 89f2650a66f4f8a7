package risk

import (
	"math"
	"testing"

	"mt5-trading-backend/internal/database"
)

func TestConfidenceMultiplier(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{90, 1.5},
		{85, 1.5},
		{80, 1.2},
		{70, 1.0},
		{55, 0.7},
		{40, 0.5},
	}
	for _, tt := range tests {
		if got := ConfidenceMultiplier(tt.confidence); got != tt.want {
			t.Errorf("ConfidenceMultiplier(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}

func TestSymbolRiskFactor(t *testing.T) {
	if got := SymbolRiskFactor("BTCUSD"); got != 0.5 {
		t.Errorf("BTCUSD factor = %v, want 0.5", got)
	}
	if got := SymbolRiskFactor("EURUSD"); got != 1.0 {
		t.Errorf("EURUSD factor = %v, want 1.0", got)
	}
	// Unlisted crypto pair still gets the haircut.
	if got := SymbolRiskFactor("ETHEUR"); got != 0.6 && got != 0.5 {
		t.Errorf("ETHEUR factor = %v, want crypto haircut", got)
	}
	if got := SymbolRiskFactor("NZDCAD"); got != 1.0 {
		t.Errorf("unknown forex factor = %v, want 1.0", got)
	}
}

func TestBalanceTierLot(t *testing.T) {
	tests := []struct {
		balance float64
		want    float64
	}{
		{200, 0.01},
		{900, 0.01},
		{1500, 0.02},
		{3000, 0.03},
		{8000, 0.05},
		{20000, 0.10},
		{40000, 0.20},
		{100000, 0.50},
	}
	for _, tt := range tests {
		if got := balanceTierLot(tt.balance); got != tt.want {
			t.Errorf("balanceTierLot(%v) = %v, want %v", tt.balance, got, tt.want)
		}
	}
}

func TestClampLot(t *testing.T) {
	spec := &database.BrokerSymbol{VolumeMin: 0.01, VolumeMax: 5, VolumeStep: 0.01}

	if got := ClampLot(0.034, spec, 1.0); !almostEqual(got, 0.03) {
		t.Errorf("ClampLot(0.034) = %v, want floor to 0.03", got)
	}
	if got := ClampLot(10, spec, 1.0); !almostEqual(got, 1.0) {
		t.Errorf("ClampLot above max = %v, want cap at 1.0", got)
	}
	if got := ClampLot(0.004, spec, 1.0); got != 0 {
		t.Errorf("ClampLot below min = %v, want 0", got)
	}

	coarse := &database.BrokerSymbol{VolumeMin: 0.1, VolumeMax: 5, VolumeStep: 0.1}
	if got := ClampLot(0.27, coarse, 1.0); !almostEqual(got, 0.2) {
		t.Errorf("ClampLot with 0.1 step = %v, want 0.2", got)
	}
}

func TestCalculateLot(t *testing.T) {
	spec := &database.BrokerSymbol{VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, Digits: 5, Point: 0.00001}

	// Balance 10000, risk 1%, confidence 70 (x1.0), EURUSD (x1.0):
	// riskAmount = 100, lotByRisk = 100/(50*10) = 0.2, tier = 0.10,
	// final = 0.15.
	lot, detail, err := CalculateLot(SizerConfig{BaseRiskPct: 1.0, MaxLot: 10}, 10000, 70, 50, "EURUSD", spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(lot, 0.15) {
		t.Errorf("lot = %v, want 0.15", lot)
	}
	if detail == "" {
		t.Error("sizing detail should not be empty")
	}
}

func TestCalculateLotHigherConfidenceSizesLarger(t *testing.T) {
	spec := &database.BrokerSymbol{VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01}
	cfg := SizerConfig{BaseRiskPct: 1.0, MaxLot: 10}

	low, _, err := CalculateLot(cfg, 10000, 55, 50, "EURUSD", spec)
	if err != nil {
		t.Fatal(err)
	}
	high, _, err := CalculateLot(cfg, 10000, 90, 50, "EURUSD", spec)
	if err != nil {
		t.Fatal(err)
	}
	if high <= low {
		t.Errorf("confidence 90 lot %v should exceed confidence 55 lot %v", high, low)
	}
}

func TestCalculateLotInvalidInputs(t *testing.T) {
	if _, _, err := CalculateLot(SizerConfig{}, 0, 70, 50, "EURUSD", nil); err == nil {
		t.Error("zero balance should error")
	}
	if _, _, err := CalculateLot(SizerConfig{}, 10000, 70, 0, "EURUSD", nil); err == nil {
		t.Error("zero SL distance should error")
	}
}

func TestPointValue(t *testing.T) {
	fiveDigit := &database.BrokerSymbol{Digits: 5}
	if got := PointValue("EURUSD", fiveDigit); got != 1.0 {
		t.Errorf("5-digit forex point value = %v, want 1.0", got)
	}
	fourDigit := &database.BrokerSymbol{Digits: 4}
	if got := PointValue("EURUSD", fourDigit); got != 10.0 {
		t.Errorf("4-digit forex point value = %v, want 10.0", got)
	}
	if got := PointValue("BTCUSD", nil); got != 1.0 {
		t.Errorf("crypto point value = %v, want 1.0", got)
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
