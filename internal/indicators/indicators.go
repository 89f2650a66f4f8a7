// Package indicators computes technical indicators over OHLC candles and
// folds them into directional votes for the signal generator.
package indicators

import (
	"math"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average over closes
func CalculateSMA(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(candles) - period
	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average over closes
func CalculateEMA(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	series := emaSeries(closes, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries returns the EMA value at each index from period-1 onward,
// seeded with the SMA of the first period values.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	multiplier := 2.0 / float64(period+1)

	series := make([]float64, 0, len(values)-period+1)
	series = append(series, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		series = append(series, ema)
	}
	return series
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index using Wilder
// smoothing.
func CalculateRSI(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	PrevHist  float64
}

// CalculateMACD calculates the MACD line, signal line and histogram. The
// signal line is a real EMA over the MACD series, not an approximation.
func CalculateMACD(candles []*database.OHLCCandle, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(candles) < slowPeriod+signalPeriod {
		return &MACDResult{}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := emaSeries(closes, fastPeriod)
	slow := emaSeries(closes, slowPeriod)
	if len(fast) == 0 || len(slow) == 0 {
		return &MACDResult{}
	}

	// Align the two EMA series on their tails.
	n := len(slow)
	macdLine := make([]float64, n)
	fastOffset := len(fast) - n
	for i := 0; i < n; i++ {
		macdLine[i] = fast[fastOffset+i] - slow[i]
	}

	signal := emaSeries(macdLine, signalPeriod)
	if len(signal) == 0 {
		return &MACDResult{}
	}

	macd := macdLine[len(macdLine)-1]
	sig := signal[len(signal)-1]
	hist := macd - sig

	prevHist := hist
	if len(signal) >= 2 {
		prevHist = macdLine[len(macdLine)-2] - signal[len(signal)-2]
	}

	return &MACDResult{MACD: macd, Signal: sig, Histogram: hist, PrevHist: prevHist}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBandsResult holds Bollinger Bands values
type BollingerBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bandwidth returns (upper-lower)/middle, the squeeze measure used by the
// regime tiebreak.
func (b *BollingerBandsResult) Bandwidth() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

// CalculateBollingerBands calculates Bollinger Bands
func CalculateBollingerBands(candles []*database.OHLCCandle, period int, stdDevMultiplier float64) *BollingerBandsResult {
	if len(candles) < period {
		return &BollingerBandsResult{}
	}

	middle := CalculateSMA(candles, period)

	variance := 0.0
	startIdx := len(candles) - period
	for i := startIdx; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerBandsResult{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// ============================================================================
// STOCHASTIC OSCILLATOR
// ============================================================================

// StochasticResult holds %K and %D
type StochasticResult struct {
	K float64
	D float64
}

// CalculateStochastic calculates the stochastic oscillator. %D is the SMA
// of the last dPeriod %K values.
func CalculateStochastic(candles []*database.OHLCCandle, kPeriod, dPeriod int) *StochasticResult {
	if len(candles) < kPeriod+dPeriod-1 {
		return &StochasticResult{K: 50, D: 50}
	}

	kValues := make([]float64, 0, dPeriod)
	for j := dPeriod - 1; j >= 0; j-- {
		end := len(candles) - j
		window := candles[end-kPeriod : end]

		highest := window[0].High
		lowest := window[0].Low
		for _, c := range window {
			if c.High > highest {
				highest = c.High
			}
			if c.Low < lowest {
				lowest = c.Low
			}
		}

		k := 50.0
		if highest != lowest {
			k = 100 * (window[len(window)-1].Close - lowest) / (highest - lowest)
		}
		kValues = append(kValues, k)
	}

	d := 0.0
	for _, k := range kValues {
		d += k
	}
	d /= float64(len(kValues))

	return &StochasticResult{K: kValues[len(kValues)-1], D: d}
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates the Average True Range with Wilder smoothing
func CalculateATR(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trs := trueRanges(candles)

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)

	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

// trueRanges returns the TR series starting at candle index 1
func trueRanges(candles []*database.OHLCCandle) []float64 {
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		if hc := math.Abs(candles[i].High - candles[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(candles[i].Low - candles[i-1].Close); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
	}
	return trs
}

// ============================================================================
// ADX (Average Directional Index)
// ============================================================================

// ADXResult holds ADX and the directional indicators
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// CalculateADX calculates the Average Directional Index with +DI/-DI
func CalculateADX(candles []*database.OHLCCandle, period int) *ADXResult {
	if len(candles) < 2*period+1 {
		return &ADXResult{}
	}

	trs := trueRanges(candles)
	plusDM := make([]float64, len(trs))
	minusDM := make([]float64, len(trs))
	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	// Wilder-smoothed sums
	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	var dxs []float64
	plusDI, minusDI := 0.0, 0.0
	for i := period; i <= len(trs); i++ {
		if smTR > 0 {
			plusDI = 100 * smPlus / smTR
			minusDI = 100 * smMinus / smTR
		}
		diSum := plusDI + minusDI
		if diSum > 0 {
			dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/diSum)
		} else {
			dxs = append(dxs, 0)
		}
		if i == len(trs) {
			break
		}
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
	}

	if len(dxs) < period {
		return &ADXResult{PlusDI: plusDI, MinusDI: minusDI}
	}

	adx := 0.0
	for i := 0; i < period; i++ {
		adx += dxs[i]
	}
	adx /= float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}

	return &ADXResult{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

// ============================================================================
// SUPERTREND
// ============================================================================

// SuperTrendResult holds the SuperTrend line and direction
type SuperTrendResult struct {
	Value   float64
	Bullish bool
}

// CalculateSuperTrend calculates the SuperTrend line using ATR bands
func CalculateSuperTrend(candles []*database.OHLCCandle, period int, multiplier float64) *SuperTrendResult {
	if len(candles) < period+2 {
		return &SuperTrendResult{}
	}

	upper := make([]float64, len(candles))
	lower := make([]float64, len(candles))
	trend := make([]bool, len(candles)) // true = bullish
	st := make([]float64, len(candles))

	for i := period; i < len(candles); i++ {
		atr := CalculateATR(candles[:i+1], period)
		mid := (candles[i].High + candles[i].Low) / 2
		basicUpper := mid + multiplier*atr
		basicLower := mid - multiplier*atr

		if i == period {
			upper[i] = basicUpper
			lower[i] = basicLower
			trend[i] = candles[i].Close > mid
		} else {
			// Bands only tighten, never widen against the trend.
			if basicUpper < upper[i-1] || candles[i-1].Close > upper[i-1] {
				upper[i] = basicUpper
			} else {
				upper[i] = upper[i-1]
			}
			if basicLower > lower[i-1] || candles[i-1].Close < lower[i-1] {
				lower[i] = basicLower
			} else {
				lower[i] = lower[i-1]
			}

			trend[i] = trend[i-1]
			if trend[i-1] && candles[i].Close < lower[i] {
				trend[i] = false
			} else if !trend[i-1] && candles[i].Close > upper[i] {
				trend[i] = true
			}
		}

		if trend[i] {
			st[i] = lower[i]
		} else {
			st[i] = upper[i]
		}
	}

	last := len(candles) - 1
	return &SuperTrendResult{Value: st[last], Bullish: trend[last]}
}

// ============================================================================
// ICHIMOKU CLOUD
// ============================================================================

// IchimokuResult holds the Ichimoku components
type IchimokuResult struct {
	Tenkan  float64 // Conversion line (9)
	Kijun   float64 // Base line (26)
	SpanA   float64 // Leading span A
	SpanB   float64 // Leading span B (52)
	Chikou  float64 // Lagging close
	CloudUp bool    // Span A above span B
}

func midpoint(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period {
		return 0
	}
	window := candles[len(candles)-period:]
	highest := window[0].High
	lowest := window[0].Low
	for _, c := range window {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}
	return (highest + lowest) / 2
}

// CalculateIchimoku calculates the Ichimoku cloud components
func CalculateIchimoku(candles []*database.OHLCCandle) *IchimokuResult {
	if len(candles) < 52 {
		return &IchimokuResult{}
	}

	tenkan := midpoint(candles, 9)
	kijun := midpoint(candles, 26)
	spanA := (tenkan + kijun) / 2
	spanB := midpoint(candles, 52)

	chikou := 0.0
	if len(candles) >= 26 {
		chikou = candles[len(candles)-26].Close
	}

	return &IchimokuResult{
		Tenkan:  tenkan,
		Kijun:   kijun,
		SpanA:   spanA,
		SpanB:   spanB,
		Chikou:  chikou,
		CloudUp: spanA > spanB,
	}
}

// ============================================================================
// HEIKEN ASHI
// ============================================================================

// HeikenAshiResult summarizes the recent Heiken Ashi trend
type HeikenAshiResult struct {
	BullishRun int // consecutive bullish HA candles ending now
	BearishRun int
	LastClose  float64
	LastOpen   float64
}

// CalculateHeikenAshi converts candles to Heiken Ashi and measures the
// current run.
func CalculateHeikenAshi(candles []*database.OHLCCandle) *HeikenAshiResult {
	if len(candles) < 2 {
		return &HeikenAshiResult{}
	}

	haOpen := (candles[0].Open + candles[0].Close) / 2
	haClose := (candles[0].Open + candles[0].High + candles[0].Low + candles[0].Close) / 4

	bullRun, bearRun := 0, 0
	for i := 1; i < len(candles); i++ {
		haOpen = (haOpen + haClose) / 2
		haClose = (candles[i].Open + candles[i].High + candles[i].Low + candles[i].Close) / 4

		if haClose > haOpen {
			bullRun++
			bearRun = 0
		} else if haClose < haOpen {
			bearRun++
			bullRun = 0
		}
	}

	return &HeikenAshiResult{
		BullishRun: bullRun,
		BearishRun: bearRun,
		LastClose:  haClose,
		LastOpen:   haOpen,
	}
}

// ============================================================================
// VOLUME
// ============================================================================

// CalculateOBV calculates On-Balance Volume over the candle window
func CalculateOBV(candles []*database.OHLCCandle) (current, previous float64) {
	if len(candles) < 2 {
		return 0, 0
	}

	obv := 0.0
	prev := 0.0
	for i := 1; i < len(candles); i++ {
		prev = obv
		if candles[i].Close > candles[i-1].Close {
			obv += float64(candles[i].Volume)
		} else if candles[i].Close < candles[i-1].Close {
			obv -= float64(candles[i].Volume)
		}
	}
	return obv, prev
}

// CalculateVWAP calculates the volume-weighted average price over the
// window.
func CalculateVWAP(candles []*database.OHLCCandle) float64 {
	var cumPV, cumVol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * float64(c.Volume)
		cumVol += float64(c.Volume)
	}
	if cumVol == 0 {
		return 0
	}
	return cumPV / cumVol
}

// AverageVolume returns the mean volume of the last period candles
func AverageVolume(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += float64(candles[i].Volume)
	}
	return sum / float64(period)
}
