package signals

import (
	"math"
	"sort"
	"strings"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/indicators"
)

// ============================================================================
// SMART TP/SL
// ============================================================================

// AssetClass groups symbols with similar volatility character
type AssetClass string

const (
	AssetForexMajor AssetClass = "FOREX_MAJOR"
	AssetMetals     AssetClass = "METALS"
	AssetIndices    AssetClass = "INDICES"
	AssetCrypto     AssetClass = "CRYPTO"
)

// assetDefaults holds the per-class ATR multipliers
type assetDefaults struct {
	TPMult float64
	SLMult float64
}

var assetClassDefaults = map[AssetClass]assetDefaults{
	AssetForexMajor: {TPMult: 2.5, SLMult: 1.0},
	AssetMetals:     {TPMult: 0.8, SLMult: 0.5},
	AssetIndices:    {TPMult: 4.5, SLMult: 3.0},
	AssetCrypto:     {TPMult: 1.8, SLMult: 1.0},
}

// ClassifySymbol maps a broker symbol to its asset class
func ClassifySymbol(symbol string) AssetClass {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC") || strings.Contains(s, "ETH") || strings.Contains(s, "XRP") || strings.Contains(s, "LTC"):
		return AssetCrypto
	case strings.Contains(s, "XAU") || strings.Contains(s, "XAG") || strings.Contains(s, "GOLD") || strings.Contains(s, "SILVER"):
		return AssetMetals
	case strings.Contains(s, "DE40") || strings.Contains(s, "US30") || strings.Contains(s, "US500") || strings.Contains(s, "NAS") || strings.Contains(s, "UK100") || strings.Contains(s, "JP225"):
		return AssetIndices
	default:
		return AssetForexMajor
	}
}

// Levels is the calculator output
type Levels struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	RiskReward float64
}

// LevelBounds caps level distances as a percentage of the entry price. A
// runaway ATR on a thin symbol can otherwise put TP absurdly far out or
// SL inside the spread.
type LevelBounds struct {
	MaxTPPercent float64 // TP never further than this from entry
	MinSLPercent float64 // SL never closer than this to entry
}

const (
	buyTPBoost   = 1.2
	buySLTighten = 0.9
	minRRBuy     = 2.0
	minRRSell    = 1.5
)

// CalculateLevels computes entry, SL and TP for a would-be trade. Returns
// (levels, "") on success or (zero, reason) when no valid combination
// exists.
func CalculateLevels(direction, symbol string, entry float64, analysis *indicators.Analysis, candles []*database.OHLCCandle, spec *database.BrokerSymbol, bounds LevelBounds) (Levels, string) {
	atr := analysis.ATR
	if atr <= 0 || entry <= 0 {
		return Levels{}, "no ATR or entry price"
	}

	class := ClassifySymbol(symbol)
	defaults := assetClassDefaults[class]

	tpMult := defaults.TPMult
	slMult := defaults.SLMult
	if direction == database.SignalBuy {
		// BUY trades historically leave profit on the table and get stopped
		// early; widen TP, tighten SL.
		tpMult *= buyTPBoost
		slMult *= buySLTighten
	}

	isBuy := direction == database.SignalBuy
	sign := 1.0
	if !isBuy {
		sign = -1.0
	}

	// TP candidates, all in the profit direction.
	tpCandidates := []float64{entry + sign*tpMult*atr}
	if bb := pickBand(analysis, isBuy); bb > 0 {
		tpCandidates = append(tpCandidates, bb)
	}
	tpCandidates = append(tpCandidates, swingLevels(candles, isBuy, 5)...)
	if rn := roundNumber(entry, isBuy); rn > 0 {
		tpCandidates = append(tpCandidates, rn)
	}
	if analysis.SuperTrend > 0 && inProfitDirection(entry, analysis.SuperTrend, isBuy) {
		tpCandidates = append(tpCandidates, analysis.SuperTrend)
	}

	tp := selectTP(entry, tpCandidates, atr, isBuy)
	if tp == 0 {
		return Levels{}, "no valid TP candidate"
	}

	// SL candidates, all against the trade.
	slCandidates := []float64{entry - sign*slMult*atr}
	if bb := pickBand(analysis, !isBuy); bb > 0 {
		pad := bb * 0.002
		if isBuy {
			slCandidates = append(slCandidates, bb-pad)
		} else {
			slCandidates = append(slCandidates, bb+pad)
		}
	}
	if analysis.SuperTrend > 0 && !inProfitDirection(entry, analysis.SuperTrend, isBuy) {
		slCandidates = append(slCandidates, analysis.SuperTrend)
	}

	sl := selectSL(entry, slCandidates, atr, isBuy)
	if sl == 0 {
		return Levels{}, "no valid SL candidate"
	}

	// R:R validation: widen TP first, then fail.
	minRR := minRRSell
	if isBuy {
		minRR = minRRBuy
	}
	rr := riskReward(entry, sl, tp)
	if rr < minRR {
		tp = entry + sign*minRR*math.Abs(entry-sl)
		rr = riskReward(entry, sl, tp)
	}
	if rr < minRR {
		return Levels{}, "risk:reward below minimum"
	}

	// Percentage clamps.
	if bounds.MaxTPPercent > 0 {
		maxDist := entry * bounds.MaxTPPercent / 100
		if math.Abs(tp-entry) > maxDist {
			tp = entry + sign*maxDist
		}
	}
	if bounds.MinSLPercent > 0 {
		minDist := entry * bounds.MinSLPercent / 100
		if math.Abs(entry-sl) < minDist {
			sl = entry - sign*minDist
		}
	}

	// Broker minimum distance clamps. The freeze level counts too: levels
	// placed inside it could never be modified afterwards.
	if spec != nil && spec.Point > 0 {
		level := spec.StopsLevel
		if spec.FreezeLevel > level {
			level = spec.FreezeLevel
		}
		if level > 0 {
			minDist := float64(level) * spec.Point
			if math.Abs(entry-sl) < minDist {
				sl = entry - sign*minDist
			}
			if math.Abs(tp-entry) < minDist {
				tp = entry + sign*minDist
			}
		}
	}

	return Levels{Entry: entry, StopLoss: sl, TakeProfit: tp, RiskReward: riskReward(entry, sl, tp)}, ""
}

func riskReward(entry, sl, tp float64) float64 {
	risk := math.Abs(entry - sl)
	if risk == 0 {
		return 0
	}
	return math.Abs(tp-entry) / risk
}

func inProfitDirection(entry, level float64, isBuy bool) bool {
	if isBuy {
		return level > entry
	}
	return level < entry
}

// pickBand returns the outer Bollinger band on the requested side
func pickBand(a *indicators.Analysis, upper bool) float64 {
	if upper {
		return a.BBUpper
	}
	return a.BBLower
}

// swingLevels finds the last count swing highs (for BUY targets) or lows
// (for SELL targets) using a 2-bar pivot.
func swingLevels(candles []*database.OHLCCandle, highs bool, count int) []float64 {
	var levels []float64
	for i := len(candles) - 3; i >= 2 && len(levels) < count; i-- {
		c := candles[i]
		if highs {
			if c.High > candles[i-1].High && c.High > candles[i-2].High &&
				c.High > candles[i+1].High && c.High > candles[i+2].High {
				levels = append(levels, c.High)
			}
		} else {
			if c.Low < candles[i-1].Low && c.Low < candles[i-2].Low &&
				c.Low < candles[i+1].Low && c.Low < candles[i+2].Low {
				levels = append(levels, c.Low)
			}
		}
	}
	return levels
}

// roundNumber returns the next psychological level beyond entry
func roundNumber(entry float64, above bool) float64 {
	if entry <= 0 {
		return 0
	}
	// Step scales with magnitude: 1.2345 -> 0.005, 2345 -> 50.
	magnitude := math.Pow(10, math.Floor(math.Log10(entry)))
	step := magnitude / 200
	if step == 0 {
		return 0
	}
	if above {
		return math.Ceil(entry/step+1) * step
	}
	return math.Floor(entry/step-1) * step
}

// selectTP returns the nearest candidate at least 1.5 ATR away in the
// profit direction.
func selectTP(entry float64, candidates []float64, atr float64, isBuy bool) float64 {
	minDist := 1.5 * atr
	var valid []float64
	for _, c := range candidates {
		if c <= 0 {
			continue
		}
		if isBuy && c >= entry+minDist {
			valid = append(valid, c)
		} else if !isBuy && c <= entry-minDist {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	sort.Float64s(valid)
	if isBuy {
		return valid[0] // nearest above
	}
	return valid[len(valid)-1] // nearest below
}

// selectSL returns the tightest candidate at least 1.0 ATR away against
// the trade.
func selectSL(entry float64, candidates []float64, atr float64, isBuy bool) float64 {
	minDist := 1.0 * atr
	var valid []float64
	for _, c := range candidates {
		if c <= 0 {
			continue
		}
		if isBuy && c <= entry-minDist {
			valid = append(valid, c)
		} else if !isBuy && c >= entry+minDist {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	sort.Float64s(valid)
	if isBuy {
		return valid[len(valid)-1] // tightest below entry
	}
	return valid[0] // tightest above entry
}
