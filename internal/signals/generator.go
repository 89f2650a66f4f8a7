// Package signals turns indicator votes and candlestick patterns into
// persisted trading signals with computed entry, SL and TP.
package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/indicators"
	"mt5-trading-backend/internal/logging"
	"mt5-trading-backend/internal/patterns"
)

const (
	signalLifetime = 24 * time.Hour
	candleWindow   = 200
)

// GeneratorConfig carries the tunable consensus and confidence knobs
type GeneratorConfig struct {
	MinConfidence float64 // reject below this (0-100)
	BuyAdvantage  int     // extra BUY votes required over SELL
	BuyPenalty    float64 // confidence points subtracted from BUY signals
	MaxTPPercent  float64 // TP distance cap, % of entry
	MinSLPercent  float64 // SL distance floor, % of entry
}

// Generator produces at most one active signal per (symbol, timeframe)
type Generator struct {
	repo   *database.Repository
	engine *indicators.Engine
	bus    *events.EventBus
	cfg    GeneratorConfig
	logger *logging.Logger
}

// NewGenerator creates the signal generator
func NewGenerator(repo *database.Repository, engine *indicators.Engine, bus *events.EventBus, cfg GeneratorConfig, logger *logging.Logger) *Generator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 50
	}
	if cfg.BuyAdvantage <= 0 {
		cfg.BuyAdvantage = 2
	}
	if cfg.BuyPenalty <= 0 {
		cfg.BuyPenalty = 3
	}
	if cfg.MaxTPPercent <= 0 {
		cfg.MaxTPPercent = 5
	}
	if cfg.MinSLPercent <= 0 {
		cfg.MinSLPercent = 0.1
	}
	return &Generator{
		repo:   repo,
		engine: engine,
		bus:    bus,
		cfg:    cfg,
		logger: logger.WithComponent("signals"),
	}
}

// Generate runs one generation pass for (symbol, timeframe). Returns the
// new signal, or (nil, reason) when conditions produced none. An error
// means the pass itself failed.
func (g *Generator) Generate(ctx context.Context, symbol, timeframe string) (*database.TradingSignal, string, error) {
	candles, err := g.repo.GetCandles(ctx, symbol, timeframe, candleWindow)
	if err != nil {
		return nil, "", fmt.Errorf("load candles: %w", err)
	}
	if len(candles) < 30 {
		return nil, "insufficient candle history", nil
	}

	analysis, err := g.engine.Analyze(ctx, symbol, timeframe, candles)
	if err != nil {
		return nil, "", err
	}
	if analysis.Regime == indicators.RegimeTooWeak {
		return nil, "regime too weak", nil
	}

	detected := patterns.Detect(candles)

	direction, buyCount, sellCount := g.consensus(analysis)
	if direction == "" {
		return nil, fmt.Sprintf("no consensus (buy=%d sell=%d)", buyCount, sellCount), nil
	}

	confidence := g.confidence(ctx, direction, analysis, detected, buyCount, sellCount)
	if confidence < g.cfg.MinConfidence {
		return nil, fmt.Sprintf("confidence %.1f below minimum %.1f", confidence, g.cfg.MinConfidence), nil
	}

	entry, spread := g.entryPrice(ctx, symbol, direction, analysis)

	var spec *database.BrokerSymbol
	if s, err := g.repo.GetBrokerSymbol(ctx, symbol); err == nil {
		spec = s
	}

	bounds := LevelBounds{MaxTPPercent: g.cfg.MaxTPPercent, MinSLPercent: g.cfg.MinSLPercent}
	levels, rejectReason := CalculateLevels(direction, symbol, entry, analysis, candles, spec, bounds)
	if rejectReason != "" {
		return nil, "tp/sl: " + rejectReason, nil
	}

	signal := &database.TradingSignal{
		Symbol:            symbol,
		Timeframe:         timeframe,
		SignalType:        direction,
		Confidence:        confidence,
		EntryPrice:        levels.Entry,
		StopLoss:          levels.StopLoss,
		TakeProfit:        levels.TakeProfit,
		IndicatorSnapshot: snapshot(analysis, detected, spread, buyCount, sellCount),
		Patterns:          patterns.Names(detected),
		Status:            database.SignalStatusActive,
		ExpiresAt:         time.Now().UTC().Add(signalLifetime),
	}

	if err := g.repo.CreateSignal(ctx, signal); err != nil {
		if err == database.ErrDuplicateSignal {
			// Another worker won the race for this (symbol, timeframe).
			return nil, "active signal already exists", nil
		}
		return nil, "", fmt.Errorf("persist signal: %w", err)
	}

	g.logger.Info("Signal generated",
		"symbol", symbol, "timeframe", timeframe, "type", direction,
		"confidence", confidence, "entry", levels.Entry, "sl", levels.StopLoss, "tp", levels.TakeProfit)
	if g.bus != nil {
		g.bus.PublishSignalGenerated(symbol, timeframe, direction, confidence)
	}
	return signal, "", nil
}

// consensus counts directional votes and applies the asymmetric rule: BUY
// needs a margin over SELL, SELL needs a simple majority. BUY signals have
// measurably underperformed SELL on this pipeline, hence the handicap.
func (g *Generator) consensus(analysis *indicators.Analysis) (direction string, buyCount, sellCount int) {
	for _, v := range analysis.Votes {
		switch v.Direction {
		case database.SignalBuy:
			buyCount++
		case database.SignalSell:
			sellCount++
		}
	}

	switch {
	case buyCount >= sellCount+g.cfg.BuyAdvantage:
		return database.SignalBuy, buyCount, sellCount
	case sellCount > buyCount:
		return database.SignalSell, buyCount, sellCount
	}
	return "", buyCount, sellCount
}

// confidence builds the 0-100 score: pattern reliability (max 30),
// indicator confluence (max 40), signal strength (max 30), minus the BUY
// penalty.
func (g *Generator) confidence(ctx context.Context, direction string, analysis *indicators.Analysis, detected []patterns.Pattern, buyCount, sellCount int) float64 {
	score := 0.0

	// Pattern component
	if best := patterns.Strongest(detected, direction); best != nil {
		score += best.Reliability * 30
	}

	// Confluence component: per-indicator weights scaled by historical
	// performance where we have it.
	scores, err := g.repo.GetIndicatorScores(ctx, analysis.Symbol, analysis.Timeframe)
	if err != nil {
		scores = nil
	}

	confluence := 0.0
	confirming := 0
	for name, v := range analysis.Votes {
		if v.Direction != direction {
			continue
		}
		confirming++
		weight := 1.0
		if s, ok := scores[name]; ok && s.TotalSignals >= 10 {
			weight = indicatorWeight(s.WinRate)
		}
		confluence += v.Strength * weight * 3
	}
	extra := float64(confirming-3) * 2
	if extra > 10 {
		extra = 10
	}
	if extra > 0 {
		confluence += extra
	}
	if analysis.ADX > 25 {
		confluence += 3
	}
	if (direction == database.SignalBuy && analysis.OBVRising) ||
		(direction == database.SignalSell && !analysis.OBVRising) {
		confluence += 2
	}
	score += math.Min(40, confluence)

	// Strength component: mean strength of confirming votes.
	if confirming > 0 {
		sum := 0.0
		for _, v := range analysis.Votes {
			if v.Direction == direction {
				sum += v.Strength
			}
		}
		score += (sum / float64(confirming)) * 30
	}

	if direction == database.SignalBuy {
		score -= g.cfg.BuyPenalty
	}

	return math.Max(0, math.Min(100, score))
}

// indicatorWeight maps a stored win rate (percent, 0-100) onto a vote
// weight in 0.5..1.5. 50% performs at baseline weight 1.0.
func indicatorWeight(winRatePct float64) float64 {
	if winRatePct < 0 {
		winRatePct = 0
	}
	if winRatePct > 100 {
		winRatePct = 100
	}
	return 0.5 + winRatePct/100
}

// entryPrice uses the live quote when available: ask for BUY, bid for
// SELL. Falls back to the last close.
func (g *Generator) entryPrice(ctx context.Context, symbol, direction string, analysis *indicators.Analysis) (entry, spread float64) {
	tick, err := g.repo.GetLatestTick(ctx, symbol)
	if err != nil {
		return analysis.LastClose, 0
	}
	if direction == database.SignalBuy {
		return tick.Ask, tick.Spread
	}
	return tick.Bid, tick.Spread
}

// snapshot captures the complete indicator state for the signal record.
// Everything goes in; retrospective analysis needs the full map, not a
// curated subset.
func snapshot(analysis *indicators.Analysis, detected []patterns.Pattern, spread float64, buyCount, sellCount int) map[string]interface{} {
	return map[string]interface{}{
		"votes":      analysis.Votes,
		"regime":     analysis.Regime,
		"adx":        analysis.ADX,
		"atr":        analysis.ATR,
		"last_close": analysis.LastClose,
		"supertrend": analysis.SuperTrend,
		"bb_upper":   analysis.BBUpper,
		"bb_lower":   analysis.BBLower,
		"obv_rising": analysis.OBVRising,
		"spread":     spread,
		"buy_votes":  buyCount,
		"sell_votes": sellCount,
		"patterns":   detected,
	}
}
