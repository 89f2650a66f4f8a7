package risk

import (
	"fmt"
	"math"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// SL ENFORCEMENT
// ============================================================================

// Invariant: the loss realized if SL is hit must never exceed
// max_risk_pct of current balance. Fixed currency caps were tried first
// and abandoned: a fixed cap is a huge fraction of a small balance.

const (
	defaultMaxRiskPct = 2.0
	cryptoMaxRiskPct  = 2.5
)

// MaxRiskPct returns the per-symbol risk ceiling as a percentage
func MaxRiskPct(symbol string) float64 {
	if ClassOf(symbol) == "CRYPTO" {
		return cryptoMaxRiskPct
	}
	return defaultMaxRiskPct
}

// EnforceResult reports what the enforcer did
type EnforceResult struct {
	Lot           float64
	Reduced       bool
	PotentialLoss float64
	MaxLoss       float64
}

// EnforceSL validates an (entry, sl, lot) triple against the balance
// invariant, shrinking the lot when needed. Returns an error when the
// position cannot be sized safely at all.
func EnforceSL(symbol, direction string, entry, sl, lot, balance float64, spec *database.BrokerSymbol) (EnforceResult, error) {
	if sl <= 0 {
		return EnforceResult{}, fmt.Errorf("stop loss not set")
	}
	if entry <= 0 || lot <= 0 || balance <= 0 {
		return EnforceResult{}, fmt.Errorf("invalid enforcement inputs")
	}

	// Direction check: SL must sit on the losing side of entry.
	if direction == database.SignalBuy && sl >= entry {
		return EnforceResult{}, fmt.Errorf("BUY stop loss %.5f above entry %.5f", sl, entry)
	}
	if direction == database.SignalSell && sl <= entry {
		return EnforceResult{}, fmt.Errorf("SELL stop loss %.5f below entry %.5f", sl, entry)
	}

	point := 0.00001
	if spec != nil && spec.Point > 0 {
		point = spec.Point
	}

	// Broker minimum distance.
	if spec != nil && spec.StopsLevel > 0 {
		minDist := float64(spec.StopsLevel) * point
		if math.Abs(entry-sl) < minDist {
			return EnforceResult{}, fmt.Errorf("stop loss inside broker stops_level")
		}
	}

	slDistance := math.Abs(entry - sl)
	potentialLoss := (slDistance / point) * PointValue(symbol, spec) * lot
	maxLoss := balance * (MaxRiskPct(symbol) / 100)

	result := EnforceResult{Lot: lot, PotentialLoss: potentialLoss, MaxLoss: maxLoss}
	if potentialLoss <= maxLoss {
		return result, nil
	}

	// Shrink proportionally, re-clamp to broker steps.
	reduced := lot * (maxLoss / potentialLoss)
	reduced = ClampLot(reduced, spec, lot)
	if reduced <= 0 {
		return EnforceResult{}, fmt.Errorf("lot %.2f risks %.2f (max %.2f) and cannot shrink below broker minimum", lot, potentialLoss, maxLoss)
	}

	result.Lot = reduced
	result.Reduced = true
	result.PotentialLoss = potentialLoss * (reduced / lot)
	return result, nil
}
