// Package risk sizes positions, enforces balance-aware stop losses and
// manages trailing stops.
package risk

import (
	"fmt"
	"math"
	"strings"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// POSITION SIZER
// ============================================================================

// SizerConfig carries the sizing knobs
type SizerConfig struct {
	BaseRiskPct float64 // percent of balance risked per trade, default 1.0
	MaxLot      float64 // absolute ceiling regardless of broker max
}

// symbolRiskFactors scales risk per instrument. Volatile instruments get
// a haircut.
var symbolRiskFactors = map[string]float64{
	"BTCUSD": 0.5,
	"ETHUSD": 0.6,
	"XAUUSD": 0.8,
	"XAGUSD": 0.8,
	"DE40.c": 0.9,
	"US30":   0.9,
	"EURUSD": 1.0,
	"GBPUSD": 1.0,
	"USDJPY": 1.0,
	"AUDUSD": 1.0,
	"USDCAD": 1.0,
}

// balanceTiers maps balance ranges to a base lot. The blend with
// risk-derived sizing smooths the edges of each band.
var balanceTiers = []struct {
	UpTo    float64
	BaseLot float64
}{
	{500, 0.01},
	{1000, 0.01},
	{2000, 0.02},
	{5000, 0.03},
	{10000, 0.05},
	{25000, 0.10},
	{50000, 0.20},
	{math.MaxFloat64, 0.50},
}

// ConfidenceMultiplier maps signal confidence to a sizing multiplier
func ConfidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 85:
		return 1.5
	case confidence >= 75:
		return 1.2
	case confidence >= 60:
		return 1.0
	case confidence >= 50:
		return 0.7
	default:
		return 0.5
	}
}

// SymbolRiskFactor returns the per-instrument scaling, defaulting to 1.0
func SymbolRiskFactor(symbol string) float64 {
	if f, ok := symbolRiskFactors[symbol]; ok {
		return f
	}
	// Unlisted crypto still gets the crypto haircut.
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "BTC") || strings.Contains(s, "ETH") {
		return 0.5
	}
	return 1.0
}

// balanceTierLot returns the base lot for a balance
func balanceTierLot(balance float64) float64 {
	for _, tier := range balanceTiers {
		if balance < tier.UpTo {
			return tier.BaseLot
		}
	}
	return balanceTiers[len(balanceTiers)-1].BaseLot
}

// PipValue estimates the per-lot value of one pip for the symbol in
// account currency. Standard lot conventions; exotic crosses fall back to
// the forex default.
func PipValue(symbol string, spec *database.BrokerSymbol) float64 {
	switch ClassOf(symbol) {
	case "CRYPTO", "INDICES":
		return 1.0 // quoted per point
	case "METALS":
		return 10.0
	default:
		return 10.0 // standard forex lot
	}
}

// PointValue estimates the account-currency value of one broker point per
// lot: pip value spread over the points in a pip for fractional-pip
// quotes, or the pip value itself where point and pip coincide.
func PointValue(symbol string, spec *database.BrokerSymbol) float64 {
	pip := PipValue(symbol, spec)
	if ClassOf(symbol) != "FOREX" {
		return pip
	}
	if spec != nil && (spec.Digits == 5 || spec.Digits == 3) {
		return pip / 10
	}
	return pip
}

// ClassOf is a coarse asset-class label for sizing rules
func ClassOf(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC") || strings.Contains(s, "ETH"):
		return "CRYPTO"
	case strings.Contains(s, "XAU") || strings.Contains(s, "XAG"):
		return "METALS"
	case strings.Contains(s, "DE40") || strings.Contains(s, "US30") || strings.Contains(s, "US500") || strings.Contains(s, "NAS"):
		return "INDICES"
	default:
		return "FOREX"
	}
}

// CalculateLot sizes a position from balance, confidence and stop
// distance. Returns the final lot and a breakdown string for the decision
// log.
func CalculateLot(cfg SizerConfig, balance, confidence, slDistancePips float64, symbol string, spec *database.BrokerSymbol) (float64, string, error) {
	if balance <= 0 {
		return 0, "", fmt.Errorf("balance must be positive")
	}
	if slDistancePips <= 0 {
		return 0, "", fmt.Errorf("sl distance must be positive")
	}
	if cfg.BaseRiskPct <= 0 {
		cfg.BaseRiskPct = 1.0
	}
	if cfg.MaxLot <= 0 {
		cfg.MaxLot = 1.0
	}

	confMult := ConfidenceMultiplier(confidence)
	symFactor := SymbolRiskFactor(symbol)
	riskAmount := balance * (cfg.BaseRiskPct / 100) * confMult * symFactor

	pipValue := PipValue(symbol, spec)
	lotByRisk := riskAmount / (slDistancePips * pipValue)
	tierLot := balanceTierLot(balance)

	finalLot := (tierLot + lotByRisk) / 2

	finalLot = ClampLot(finalLot, spec, cfg.MaxLot)
	if finalLot <= 0 {
		return 0, "", fmt.Errorf("computed lot below broker minimum")
	}

	detail := fmt.Sprintf("risk=%.2f confMult=%.2f symFactor=%.2f lotByRisk=%.4f tierLot=%.2f final=%.2f",
		riskAmount, confMult, symFactor, lotByRisk, tierLot, finalLot)
	return finalLot, detail, nil
}

// ClampLot bounds a lot to broker limits and rounds down to volume_step
func ClampLot(lot float64, spec *database.BrokerSymbol, maxLot float64) float64 {
	volMin, volMax, volStep := 0.01, maxLot, 0.01
	if spec != nil {
		if spec.VolumeMin > 0 {
			volMin = spec.VolumeMin
		}
		if spec.VolumeMax > 0 && spec.VolumeMax < volMax {
			volMax = spec.VolumeMax
		}
		if spec.VolumeStep > 0 {
			volStep = spec.VolumeStep
		}
	}

	if lot > volMax {
		lot = volMax
	}
	// Round down to step so we never exceed the computed risk.
	lot = math.Floor(lot/volStep) * volStep
	if lot < volMin {
		return 0
	}
	return lot
}
