package indicators

import "mt5-trading-backend/internal/database"

// ============================================================================
// MARKET REGIME
// ============================================================================

// Regime classifies current market conditions
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
	RegimeTooWeak  Regime = "TOO_WEAK" // no directional conviction, no new signals
)

const (
	adxTooWeakBelow  = 12.0
	adxTrendingAbove = 25.0
	adxRangingBelow  = 20.0
	// Squeeze threshold for the 20-25 ADX gray zone.
	bbSqueezeBandwidth = 0.015
)

// DetectRegime classifies the market from ADX(14). The 20-25 gray zone is
// broken by Bollinger bandwidth: a squeeze reads as ranging, expansion as
// trending.
func DetectRegime(candles []*database.OHLCCandle) (Regime, *ADXResult) {
	adx := CalculateADX(candles, 14)

	switch {
	case adx.ADX < adxTooWeakBelow:
		return RegimeTooWeak, adx
	case adx.ADX > adxTrendingAbove:
		return RegimeTrending, adx
	case adx.ADX < adxRangingBelow:
		return RegimeRanging, adx
	}

	bb := CalculateBollingerBands(candles, 20, 2.0)
	if bb.Bandwidth() < bbSqueezeBandwidth {
		return RegimeRanging, adx
	}
	return RegimeTrending, adx
}

// RSIBands returns the oversold/overbought thresholds for a regime. A
// trend rarely reaches the classic 30/70 extremes, so trending markets use
// tighter pullback bands.
func RSIBands(regime Regime) (oversold, overbought float64) {
	if regime == RegimeTrending {
		return 40, 60
	}
	return 30, 70
}
