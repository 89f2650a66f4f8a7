package indicators

import (
	"math"
	"testing"
	"time"

	"mt5-trading-backend/internal/database"
)

// candlesFromCloses builds candles with a fixed half-point range around
// each close.
func candlesFromCloses(closes ...float64) []*database.OHLCCandle {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]*database.OHLCCandle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = &database.OHLCCandle{
			Symbol:     "EURUSD",
			Timeframe:  database.TimeframeH1,
			Open:       open,
			High:       math.Max(open, c) + 0.5,
			Low:        math.Min(open, c) - 0.5,
			Close:      c,
			Volume:     100,
			CandleTime: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return candles
}

func flatCandles(n int, price float64) []*database.OHLCCandle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return candlesFromCloses(closes...)
}

func risingCandles(n int, start, step float64) []*database.OHLCCandle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return candlesFromCloses(closes...)
}

func fallingCandles(n int, start, step float64) []*database.OHLCCandle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start - float64(i)*step
	}
	return candlesFromCloses(closes...)
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestCalculateSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)

	if got := CalculateSMA(candles, 3); got != 4 {
		t.Errorf("SMA(3) = %v, want 4", got)
	}
	if got := CalculateSMA(candles, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := CalculateSMA(candles, 10); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
	if got := CalculateSMA(candles, 0); got != 0 {
		t.Errorf("SMA(0) = %v, want 0", got)
	}
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	candles := flatCandles(40, 1.2345)
	if got := CalculateEMA(candles, 9); !almostEqual(got, 1.2345, 1e-9) {
		t.Errorf("EMA over constant closes = %v, want 1.2345", got)
	}
}

func TestCalculateEMAFollowsTrend(t *testing.T) {
	up := risingCandles(60, 100, 1)
	ema9 := CalculateEMA(up, 9)
	ema21 := CalculateEMA(up, 21)
	if ema9 <= ema21 {
		t.Errorf("uptrend should put EMA9 (%v) above EMA21 (%v)", ema9, ema21)
	}
}

func TestCalculateRSIExtremes(t *testing.T) {
	if got := CalculateRSI(risingCandles(30, 100, 1), 14); got != 100 {
		t.Errorf("RSI on all-gains series = %v, want 100", got)
	}
	if got := CalculateRSI(fallingCandles(30, 100, 1), 14); got != 0 {
		t.Errorf("RSI on all-losses series = %v, want 0", got)
	}
	if got := CalculateRSI(candlesFromCloses(1, 2, 3), 14); got != 50 {
		t.Errorf("RSI with short history = %v, want neutral 50", got)
	}
}

func TestCalculateMACD(t *testing.T) {
	flat := flatCandles(60, 1.1)
	m := CalculateMACD(flat, 12, 26, 9)
	if !almostEqual(m.MACD, 0, 1e-9) || !almostEqual(m.Signal, 0, 1e-9) {
		t.Errorf("MACD on constant closes = %+v, want zeros", m)
	}

	up := risingCandles(80, 100, 0.5)
	m = CalculateMACD(up, 12, 26, 9)
	if m.MACD <= 0 {
		t.Errorf("MACD on steady uptrend = %v, want > 0", m.MACD)
	}

	short := CalculateMACD(flatCandles(10, 1), 12, 26, 9)
	if short.MACD != 0 || short.Signal != 0 {
		t.Errorf("MACD with short history = %+v, want empty result", short)
	}
}

func TestCalculateBollingerBands(t *testing.T) {
	flat := flatCandles(25, 1.5)
	bb := CalculateBollingerBands(flat, 20, 2.0)
	if !almostEqual(bb.Upper, 1.5, 1e-9) || !almostEqual(bb.Lower, 1.5, 1e-9) {
		t.Errorf("bands on constant closes = %+v, want collapsed at 1.5", bb)
	}
	if bw := bb.Bandwidth(); !almostEqual(bw, 0, 1e-9) {
		t.Errorf("bandwidth on constant closes = %v, want 0", bw)
	}

	varied := candlesFromCloses(1, 3, 1, 3, 1, 3, 1, 3, 1, 3, 1, 3, 1, 3, 1, 3, 1, 3, 1, 3)
	bb = CalculateBollingerBands(varied, 20, 2.0)
	if bb.Upper <= bb.Middle || bb.Lower >= bb.Middle {
		t.Errorf("bands on oscillating closes not ordered: %+v", bb)
	}
}

func TestCalculateStochastic(t *testing.T) {
	// Close pinned at the period high.
	up := risingCandles(30, 100, 1)
	s := CalculateStochastic(up, 14, 3)
	if s.K < 80 {
		t.Errorf("stochastic %%K on closes near highs = %v, want >= 80", s.K)
	}

	down := fallingCandles(30, 100, 1)
	s = CalculateStochastic(down, 14, 3)
	if s.K > 20 {
		t.Errorf("stochastic %%K on closes near lows = %v, want <= 20", s.K)
	}

	s = CalculateStochastic(candlesFromCloses(1, 2), 14, 3)
	if s.K != 50 || s.D != 50 {
		t.Errorf("stochastic with short history = %+v, want 50/50", s)
	}
}

func TestCalculateATR(t *testing.T) {
	// Identical bars with a one-point range and no gaps.
	candles := make([]*database.OHLCCandle, 30)
	for i := range candles {
		candles[i] = &database.OHLCCandle{High: 2, Low: 1, Open: 1.5, Close: 1.5}
	}
	if got := CalculateATR(candles, 14); !almostEqual(got, 1, 1e-9) {
		t.Errorf("ATR on constant one-point ranges = %v, want 1", got)
	}
	if got := CalculateATR(candles[:5], 14); got != 0 {
		t.Errorf("ATR with short history = %v, want 0", got)
	}
}

func TestCalculateADX(t *testing.T) {
	trending := risingCandles(60, 100, 1)
	adx := CalculateADX(trending, 14)
	if adx.ADX < 25 {
		t.Errorf("ADX on strong uptrend = %v, want >= 25", adx.ADX)
	}
	if adx.PlusDI <= adx.MinusDI {
		t.Errorf("+DI (%v) should dominate -DI (%v) in an uptrend", adx.PlusDI, adx.MinusDI)
	}

	flat := flatCandles(60, 1.5)
	adx = CalculateADX(flat, 14)
	if adx.ADX > 5 {
		t.Errorf("ADX on flat series = %v, want near 0", adx.ADX)
	}

	short := CalculateADX(flatCandles(10, 1), 14)
	if short.ADX != 0 {
		t.Errorf("ADX with short history = %v, want 0", short.ADX)
	}
}

func TestCalculateSuperTrend(t *testing.T) {
	up := risingCandles(60, 100, 1)
	st := CalculateSuperTrend(up, 10, 3.0)
	if !st.Bullish {
		t.Error("SuperTrend on steady uptrend should be bullish")
	}
	if st.Value >= up[len(up)-1].Close {
		t.Errorf("bullish SuperTrend line %v should sit below price %v", st.Value, up[len(up)-1].Close)
	}

	down := fallingCandles(60, 200, 1)
	st = CalculateSuperTrend(down, 10, 3.0)
	if st.Bullish {
		t.Error("SuperTrend on steady downtrend should be bearish")
	}
}

func TestCalculateIchimoku(t *testing.T) {
	flat := flatCandles(60, 2.0)
	ic := CalculateIchimoku(flat)
	if !almostEqual(ic.Tenkan, 2.0, 1e-9) || !almostEqual(ic.Kijun, 2.0, 1e-9) {
		t.Errorf("Ichimoku on constant closes = %+v, want all lines at 2.0", ic)
	}

	short := CalculateIchimoku(flatCandles(20, 2.0))
	if short.Tenkan != 0 {
		t.Errorf("Ichimoku with short history = %+v, want empty", short)
	}
}

func TestCalculateHeikenAshiRuns(t *testing.T) {
	up := risingCandles(20, 100, 1)
	ha := CalculateHeikenAshi(up)
	if ha.BullishRun < 3 {
		t.Errorf("bullish run on uptrend = %d, want >= 3", ha.BullishRun)
	}
	if ha.BearishRun != 0 {
		t.Errorf("bearish run on uptrend = %d, want 0", ha.BearishRun)
	}

	down := fallingCandles(20, 100, 1)
	ha = CalculateHeikenAshi(down)
	if ha.BearishRun < 3 {
		t.Errorf("bearish run on downtrend = %d, want >= 3", ha.BearishRun)
	}
}

func TestCalculateOBV(t *testing.T) {
	up := risingCandles(5, 100, 1)
	obv, prev := CalculateOBV(up)
	if obv != 400 {
		t.Errorf("OBV on 4 rising bars of volume 100 = %v, want 400", obv)
	}
	if prev != 300 {
		t.Errorf("previous OBV = %v, want 300", prev)
	}

	down := fallingCandles(5, 100, 1)
	obv, _ = CalculateOBV(down)
	if obv != -400 {
		t.Errorf("OBV on 4 falling bars = %v, want -400", obv)
	}
}

func TestCalculateVWAP(t *testing.T) {
	flat := flatCandles(10, 3.0)
	if got := CalculateVWAP(flat); !almostEqual(got, 3.0, 1e-9) {
		t.Errorf("VWAP on constant price = %v, want 3.0", got)
	}

	novol := []*database.OHLCCandle{{High: 2, Low: 1, Close: 1.5, Volume: 0}}
	if got := CalculateVWAP(novol); got != 0 {
		t.Errorf("VWAP with zero volume = %v, want 0", got)
	}
}

func TestCalculateCCI(t *testing.T) {
	if got := CalculateCCI(flatCandles(25, 1.5), 20); got != 0 {
		t.Errorf("CCI on flat series = %v, want 0", got)
	}
	up := risingCandles(40, 100, 1)
	if got := CalculateCCI(up, 20); got <= 0 {
		t.Errorf("CCI on uptrend = %v, want > 0", got)
	}
}

func TestCalculateWilliamsR(t *testing.T) {
	up := risingCandles(30, 100, 1)
	if got := CalculateWilliamsR(up, 14); got < -30 {
		t.Errorf("Williams %%R near highs = %v, want > -30", got)
	}
	down := fallingCandles(30, 100, 1)
	if got := CalculateWilliamsR(down, 14); got > -70 {
		t.Errorf("Williams %%R near lows = %v, want < -70", got)
	}
	if got := CalculateWilliamsR(flatCandles(5, 1), 14); got != -50 {
		t.Errorf("Williams %%R with short history = %v, want -50", got)
	}
}

func TestCalculateROC(t *testing.T) {
	candles := candlesFromCloses(100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 110)
	if got := CalculateROC(candles, 10); !almostEqual(got, 10, 1e-9) {
		t.Errorf("ROC(10) from 100 to 110 = %v, want 10", got)
	}
	if got := CalculateROC(candles[:5], 10); got != 0 {
		t.Errorf("ROC with short history = %v, want 0", got)
	}
}

func TestCalculateMFI(t *testing.T) {
	if got := CalculateMFI(risingCandles(30, 100, 1), 14); got != 100 {
		t.Errorf("MFI on all-positive flow = %v, want 100", got)
	}
	if got := CalculateMFI(candlesFromCloses(1, 2), 14); got != 50 {
		t.Errorf("MFI with short history = %v, want 50", got)
	}
}
