package indicators

import (
	"context"
	"fmt"
	"math"
	"time"

	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/logging"
)

// ============================================================================
// VOTE ENGINE
// ============================================================================

// Vote is one indicator's directional opinion
type Vote struct {
	Direction string  `json:"direction"` // BUY, SELL or NEUTRAL
	Strength  float64 `json:"strength"`  // 0..1
	Reasoning string  `json:"reasoning"`
}

// Analysis is the full indicator read for one (symbol, timeframe)
type Analysis struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Votes      map[string]Vote `json:"votes"`
	Regime     Regime          `json:"regime"`
	ADX        float64         `json:"adx"`
	ATR        float64         `json:"atr"`
	LastClose  float64         `json:"last_close"`
	SuperTrend float64         `json:"supertrend"`
	BBUpper    float64         `json:"bb_upper"`
	BBLower    float64         `json:"bb_lower"`
	OBVRising  bool            `json:"obv_rising"`
	CandleTime time.Time       `json:"candle_time"`
}

const NeutralDirection = "NEUTRAL"

// Engine computes indicator analyses with a short-TTL cache in front. The
// functions themselves are stateless; the cache only saves recomputation
// inside one scheduler sweep.
type Engine struct {
	cache    *cache.CacheService
	logger   *logging.Logger
	cacheTTL time.Duration
}

// NewEngine creates the indicator engine. cache may be nil in tests.
func NewEngine(cacheSvc *cache.CacheService, logger *logging.Logger, cacheTTL time.Duration) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	return &Engine{
		cache:    cacheSvc,
		logger:   logger.WithComponent("indicators"),
		cacheTTL: cacheTTL,
	}
}

// Analyze computes all indicator votes over the candle window. Results are
// cached per (symbol, timeframe, latest candle bucket).
func (e *Engine) Analyze(ctx context.Context, symbol, timeframe string, candles []*database.OHLCCandle) (*Analysis, error) {
	if len(candles) < 30 {
		return nil, fmt.Errorf("not enough candles for %s %s: have %d, need 30", symbol, timeframe, len(candles))
	}

	bucket := candles[len(candles)-1].CandleTime.Unix()
	if e.cache != nil {
		cached := &Analysis{}
		hit, err := e.cache.GetIndicatorResult(ctx, symbol, timeframe, "analysis", bucket, cached)
		if err == nil && hit {
			return cached, nil
		}
	}

	analysis := Compute(symbol, timeframe, candles)

	if e.cache != nil {
		if err := e.cache.SetIndicatorResult(ctx, symbol, timeframe, "analysis", bucket, analysis, e.cacheTTL); err != nil && err != cache.ErrUnavailable {
			e.logger.Warn("Indicator cache write failed", "symbol", symbol, "error", err)
		}
	}
	return analysis, nil
}

// Compute runs every indicator over the window and builds the vote map.
// Pure function; Analyze adds the caching.
func Compute(symbol, timeframe string, candles []*database.OHLCCandle) *Analysis {
	last := candles[len(candles)-1]
	close := last.Close

	regime, adx := DetectRegime(candles)
	oversold, overbought := RSIBands(regime)
	atr := CalculateATR(candles, 14)

	votes := make(map[string]Vote, 18)

	// RSI with regime-adjusted bands
	rsi := CalculateRSI(candles, 14)
	votes["rsi"] = voteRSI(rsi, oversold, overbought)

	// MACD crossover and histogram momentum
	macd := CalculateMACD(candles, 12, 26, 9)
	votes["macd"] = voteMACD(macd)

	// Bollinger band touches
	bb := CalculateBollingerBands(candles, 20, 2.0)
	votes["bollinger"] = voteBollinger(close, bb)

	// Stochastic
	stoch := CalculateStochastic(candles, 14, 3)
	votes["stochastic"] = voteStochastic(stoch)

	// ADX directional
	votes["adx"] = voteADX(adx)

	// ATR carries no direction; it votes neutral with volatility context.
	votes["atr"] = Vote{
		Direction: NeutralDirection,
		Strength:  0,
		Reasoning: fmt.Sprintf("ATR(14)=%.5f", atr),
	}

	// EMA 9/21 crossover
	ema9 := CalculateEMA(candles, 9)
	ema21 := CalculateEMA(candles, 21)
	votes["ema_cross"] = voteCross("EMA9/EMA21", ema9, ema21, close)

	// SMA 20/50 trend
	sma20 := CalculateSMA(candles, 20)
	sma50 := CalculateSMA(candles, 50)
	votes["sma_trend"] = voteCross("SMA20/SMA50", sma20, sma50, close)

	// SuperTrend
	st := CalculateSuperTrend(candles, 10, 3.0)
	votes["supertrend"] = voteSuperTrend(st, close)

	// Ichimoku
	ichimoku := CalculateIchimoku(candles)
	votes["ichimoku"] = voteIchimoku(ichimoku, close)

	// Heiken Ashi run
	ha := CalculateHeikenAshi(candles)
	votes["heiken_ashi"] = voteHeikenAshi(ha)

	// OBV trend
	obv, prevOBV := CalculateOBV(candles)
	votes["obv"] = voteOBV(obv, prevOBV)

	// VWAP position
	vwap := CalculateVWAP(candles)
	votes["vwap"] = voteVWAP(close, vwap)

	// Volume expansion
	votes["volume"] = voteVolume(candles)

	// CCI
	cci := CalculateCCI(candles, 20)
	votes["cci"] = voteCCI(cci)

	// Williams %R
	wr := CalculateWilliamsR(candles, 14)
	votes["williams_r"] = voteWilliamsR(wr)

	// Momentum (ROC)
	roc := CalculateROC(candles, 10)
	votes["momentum"] = voteROC(roc)

	// MFI
	mfi := CalculateMFI(candles, 14)
	votes["mfi"] = voteMFI(mfi)

	// Trend-following votes lose weight in a ranging market.
	if regime == RegimeRanging {
		for _, name := range []string{"ema_cross", "sma_trend", "supertrend", "ichimoku", "heiken_ashi", "adx"} {
			v := votes[name]
			v.Strength *= 0.5
			votes[name] = v
		}
	}

	return &Analysis{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Votes:      votes,
		Regime:     regime,
		ADX:        adx.ADX,
		ATR:        atr,
		LastClose:  close,
		SuperTrend: st.Value,
		BBUpper:    bb.Upper,
		BBLower:    bb.Lower,
		OBVRising:  obv > prevOBV,
		CandleTime: last.CandleTime,
	}
}

// ============================================================================
// PER-INDICATOR VOTES
// ============================================================================

func voteRSI(rsi, oversold, overbought float64) Vote {
	switch {
	case rsi <= oversold:
		strength := math.Min(1, (oversold-rsi)/oversold+0.5)
		return Vote{database.SignalBuy, strength, fmt.Sprintf("RSI %.1f below %.0f (oversold)", rsi, oversold)}
	case rsi >= overbought:
		strength := math.Min(1, (rsi-overbought)/(100-overbought)+0.5)
		return Vote{database.SignalSell, strength, fmt.Sprintf("RSI %.1f above %.0f (overbought)", rsi, overbought)}
	default:
		return Vote{NeutralDirection, 0, fmt.Sprintf("RSI %.1f in neutral zone", rsi)}
	}
}

func voteMACD(m *MACDResult) Vote {
	if m.MACD == 0 && m.Signal == 0 {
		return Vote{NeutralDirection, 0, "MACD unavailable"}
	}
	crossedUp := m.Histogram > 0 && m.PrevHist <= 0
	crossedDown := m.Histogram < 0 && m.PrevHist >= 0

	switch {
	case crossedUp:
		return Vote{database.SignalBuy, 0.9, "MACD bullish crossover"}
	case crossedDown:
		return Vote{database.SignalSell, 0.9, "MACD bearish crossover"}
	case m.Histogram > 0 && m.Histogram > m.PrevHist:
		return Vote{database.SignalBuy, 0.6, "MACD histogram rising above zero"}
	case m.Histogram < 0 && m.Histogram < m.PrevHist:
		return Vote{database.SignalSell, 0.6, "MACD histogram falling below zero"}
	}
	return Vote{NeutralDirection, 0, "MACD momentum flat"}
}

func voteBollinger(close float64, bb *BollingerBandsResult) Vote {
	if bb.Middle == 0 {
		return Vote{NeutralDirection, 0, "Bollinger unavailable"}
	}
	switch {
	case close <= bb.Lower:
		return Vote{database.SignalBuy, 0.7, "price at lower Bollinger band"}
	case close >= bb.Upper:
		return Vote{database.SignalSell, 0.7, "price at upper Bollinger band"}
	}
	return Vote{NeutralDirection, 0, "price inside Bollinger bands"}
}

func voteStochastic(s *StochasticResult) Vote {
	switch {
	case s.K < 20 && s.K > s.D:
		return Vote{database.SignalBuy, 0.7, fmt.Sprintf("stochastic %%K %.1f oversold and rising", s.K)}
	case s.K > 80 && s.K < s.D:
		return Vote{database.SignalSell, 0.7, fmt.Sprintf("stochastic %%K %.1f overbought and falling", s.K)}
	case s.K < 20:
		return Vote{database.SignalBuy, 0.4, fmt.Sprintf("stochastic %%K %.1f oversold", s.K)}
	case s.K > 80:
		return Vote{database.SignalSell, 0.4, fmt.Sprintf("stochastic %%K %.1f overbought", s.K)}
	}
	return Vote{NeutralDirection, 0, "stochastic in mid-range"}
}

func voteADX(a *ADXResult) Vote {
	if a.ADX < 20 {
		return Vote{NeutralDirection, 0, fmt.Sprintf("ADX %.1f weak trend", a.ADX)}
	}
	strength := math.Min(1, a.ADX/50)
	if a.PlusDI > a.MinusDI {
		return Vote{database.SignalBuy, strength, fmt.Sprintf("ADX %.1f with +DI dominance", a.ADX)}
	}
	return Vote{database.SignalSell, strength, fmt.Sprintf("ADX %.1f with -DI dominance", a.ADX)}
}

func voteCross(label string, fast, slow, close float64) Vote {
	if fast == 0 || slow == 0 {
		return Vote{NeutralDirection, 0, label + " unavailable"}
	}
	spread := math.Abs(fast-slow) / slow
	strength := math.Min(1, spread*200)
	if fast > slow && close > fast {
		return Vote{database.SignalBuy, strength, label + " bullish alignment"}
	}
	if fast < slow && close < fast {
		return Vote{database.SignalSell, strength, label + " bearish alignment"}
	}
	return Vote{NeutralDirection, 0, label + " mixed"}
}

func voteSuperTrend(st *SuperTrendResult, close float64) Vote {
	if st.Value == 0 {
		return Vote{NeutralDirection, 0, "SuperTrend unavailable"}
	}
	if st.Bullish {
		return Vote{database.SignalBuy, 0.8, fmt.Sprintf("SuperTrend bullish, support %.5f", st.Value)}
	}
	return Vote{database.SignalSell, 0.8, fmt.Sprintf("SuperTrend bearish, resistance %.5f", st.Value)}
}

func voteIchimoku(ic *IchimokuResult, close float64) Vote {
	if ic.SpanA == 0 && ic.SpanB == 0 {
		return Vote{NeutralDirection, 0, "Ichimoku unavailable"}
	}
	cloudTop := math.Max(ic.SpanA, ic.SpanB)
	cloudBottom := math.Min(ic.SpanA, ic.SpanB)

	switch {
	case close > cloudTop && ic.Tenkan > ic.Kijun:
		return Vote{database.SignalBuy, 0.8, "price above cloud, tenkan over kijun"}
	case close < cloudBottom && ic.Tenkan < ic.Kijun:
		return Vote{database.SignalSell, 0.8, "price below cloud, tenkan under kijun"}
	case close > cloudTop:
		return Vote{database.SignalBuy, 0.5, "price above cloud"}
	case close < cloudBottom:
		return Vote{database.SignalSell, 0.5, "price below cloud"}
	}
	return Vote{NeutralDirection, 0, "price inside cloud"}
}

func voteHeikenAshi(ha *HeikenAshiResult) Vote {
	switch {
	case ha.BullishRun >= 3:
		return Vote{database.SignalBuy, math.Min(1, float64(ha.BullishRun)/6), fmt.Sprintf("%d consecutive bullish HA candles", ha.BullishRun)}
	case ha.BearishRun >= 3:
		return Vote{database.SignalSell, math.Min(1, float64(ha.BearishRun)/6), fmt.Sprintf("%d consecutive bearish HA candles", ha.BearishRun)}
	}
	return Vote{NeutralDirection, 0, "no Heiken Ashi run"}
}

func voteOBV(obv, prev float64) Vote {
	switch {
	case obv > prev:
		return Vote{database.SignalBuy, 0.5, "OBV rising"}
	case obv < prev:
		return Vote{database.SignalSell, 0.5, "OBV falling"}
	}
	return Vote{NeutralDirection, 0, "OBV flat"}
}

func voteVWAP(close, vwap float64) Vote {
	if vwap == 0 {
		return Vote{NeutralDirection, 0, "VWAP unavailable"}
	}
	dev := (close - vwap) / vwap
	switch {
	case dev > 0.001:
		return Vote{database.SignalBuy, math.Min(1, dev*200), "price above VWAP"}
	case dev < -0.001:
		return Vote{database.SignalSell, math.Min(1, -dev*200), "price below VWAP"}
	}
	return Vote{NeutralDirection, 0, "price at VWAP"}
}

func voteVolume(candles []*database.OHLCCandle) Vote {
	if len(candles) < 21 {
		return Vote{NeutralDirection, 0, "volume history too short"}
	}
	avg := AverageVolume(candles[:len(candles)-1], 20)
	last := candles[len(candles)-1]
	if avg == 0 {
		return Vote{NeutralDirection, 0, "no volume data"}
	}
	ratio := float64(last.Volume) / avg
	if ratio < 1.5 {
		return Vote{NeutralDirection, 0, fmt.Sprintf("volume %.1fx average", ratio)}
	}
	// Expansion confirms the bar's direction.
	strength := math.Min(1, (ratio-1)/2)
	if last.Close > last.Open {
		return Vote{database.SignalBuy, strength, fmt.Sprintf("volume %.1fx average on bullish bar", ratio)}
	}
	if last.Close < last.Open {
		return Vote{database.SignalSell, strength, fmt.Sprintf("volume %.1fx average on bearish bar", ratio)}
	}
	return Vote{NeutralDirection, 0, "volume spike on doji"}
}

func voteCCI(cci float64) Vote {
	switch {
	case cci < -100:
		return Vote{database.SignalBuy, math.Min(1, -cci/200), fmt.Sprintf("CCI %.0f oversold", cci)}
	case cci > 100:
		return Vote{database.SignalSell, math.Min(1, cci/200), fmt.Sprintf("CCI %.0f overbought", cci)}
	}
	return Vote{NeutralDirection, 0, fmt.Sprintf("CCI %.0f neutral", cci)}
}

func voteWilliamsR(wr float64) Vote {
	switch {
	case wr <= -80:
		return Vote{database.SignalBuy, 0.6, fmt.Sprintf("Williams %%R %.0f oversold", wr)}
	case wr >= -20:
		return Vote{database.SignalSell, 0.6, fmt.Sprintf("Williams %%R %.0f overbought", wr)}
	}
	return Vote{NeutralDirection, 0, "Williams %R mid-range"}
}

func voteROC(roc float64) Vote {
	switch {
	case roc > 0.5:
		return Vote{database.SignalBuy, math.Min(1, roc/3), fmt.Sprintf("momentum +%.2f%%", roc)}
	case roc < -0.5:
		return Vote{database.SignalSell, math.Min(1, -roc/3), fmt.Sprintf("momentum %.2f%%", roc)}
	}
	return Vote{NeutralDirection, 0, "momentum flat"}
}

func voteMFI(mfi float64) Vote {
	switch {
	case mfi < 20:
		return Vote{database.SignalBuy, 0.6, fmt.Sprintf("MFI %.0f oversold", mfi)}
	case mfi > 80:
		return Vote{database.SignalSell, 0.6, fmt.Sprintf("MFI %.0f overbought", mfi)}
	}
	return Vote{NeutralDirection, 0, "MFI neutral"}
}
