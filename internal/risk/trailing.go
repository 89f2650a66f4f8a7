package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/commands"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"
)

// ============================================================================
// TRAILING STOP MANAGER
// ============================================================================

// Trailing stage names, recorded in trade history events
const (
	StageBreakeven  = "breakeven"
	StagePartial    = "partial_trail"
	StageAggressive = "aggressive_trail"
	StageNearTP     = "near_tp_trail"
)

// TrailingManager tightens stop losses in four stages as a trade
// approaches its take profit. SL only ever moves in the trade's favor.
type TrailingManager struct {
	repo   *database.Repository
	cmds   *commands.Service
	bus    *events.EventBus
	cfg    config.TrailingConfig
	logger *logging.Logger

	mu       sync.Mutex
	lastMove map[int64]time.Time // ticket -> last modify time
}

// NewTrailingManager creates the trailing stop manager
func NewTrailingManager(repo *database.Repository, cmds *commands.Service, bus *events.EventBus, cfg config.TrailingConfig, logger *logging.Logger) *TrailingManager {
	if cfg.BreakevenAtPercent <= 0 {
		cfg.BreakevenAtPercent = 30
	}
	if cfg.PartialAtPercent <= 0 {
		cfg.PartialAtPercent = 50
	}
	if cfg.AggressiveAtPercent <= 0 {
		cfg.AggressiveAtPercent = 75
	}
	if cfg.NearTPAtPercent <= 0 {
		cfg.NearTPAtPercent = 90
	}
	if cfg.MinTrailPips <= 0 {
		cfg.MinTrailPips = 5
	}
	if cfg.MaxTrailPips <= 0 {
		cfg.MaxTrailPips = 100
	}
	if cfg.UpdateMinSecs <= 0 {
		cfg.UpdateMinSecs = 5
	}
	return &TrailingManager{
		repo:     repo,
		cmds:     cmds,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.WithComponent("trailing"),
		lastMove: make(map[int64]time.Time),
	}
}

// EvaluateAccount runs one trailing pass over an account's open trades.
// Returns how many stops moved.
func (tm *TrailingManager) EvaluateAccount(ctx context.Context, accountNumber int64, balance float64) (int, error) {
	trades, err := tm.repo.GetOpenTrades(ctx, accountNumber)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, trade := range trades {
		if trade.StopLoss <= 0 || trade.TakeProfit <= 0 {
			continue
		}
		tick, err := tm.repo.GetLatestTick(ctx, trade.Symbol)
		if err != nil {
			continue
		}
		if tm.evaluateTrade(ctx, trade, tick, balance) {
			moved++
		}
	}
	return moved, nil
}

// evaluateTrade applies the stage rules to one trade. Returns true when a
// modify command was emitted.
func (tm *TrailingManager) evaluateTrade(ctx context.Context, trade *database.Trade, tick *database.Tick, balance float64) bool {
	if !tm.allowUpdate(trade.Ticket) {
		return false
	}

	isBuy := trade.Direction == database.SignalBuy
	current := tick.Bid
	if !isBuy {
		current = tick.Ask
	}

	// Track excursions as a side effect of visiting the trade.
	tm.recordExcursion(ctx, trade, current)

	tpDistance := math.Abs(trade.TakeProfit - trade.OpenPrice)
	if tpDistance == 0 {
		return false
	}

	progress := 0.0
	if isBuy {
		progress = (current - trade.OpenPrice) / tpDistance
	} else {
		progress = (trade.OpenPrice - current) / tpDistance
	}
	progress = math.Max(0, math.Min(1, progress))

	point, freezeDist := tm.symbolSpec(ctx, trade.Symbol)
	stage, newSL := tm.targetSL(trade, current, tick.Spread, progress, point, balance, isBuy)
	if stage == "" {
		return false
	}

	// Hard invariants: never move against the trade, never cross entry in
	// the losing direction, and never chatter.
	if !improvesSL(trade.Direction, trade.StopLoss, newSL) {
		return false
	}
	if !tm.exceedsMinDelta(trade, newSL, current, point) {
		return false
	}

	// Broker freeze window: modifications are rejected while price sits
	// within freeze distance of a trigger level. Skip the cycle instead of
	// burning a command that will bounce.
	if insideFreeze(current, freezeDist, trade.StopLoss, trade.TakeProfit, newSL) {
		return false
	}

	payload := map[string]interface{}{
		"ticket": trade.Ticket,
		"sl":     newSL,
		"tp":     trade.TakeProfit,
	}
	if _, err := tm.cmds.Create(ctx, trade.AccountNumber, database.CommandModifyTrade, payload); err != nil {
		tm.logger.Error("Trailing modify command failed", "ticket", trade.Ticket, "error", err)
		return false
	}

	if err := tm.repo.MarkTrailingMove(ctx, trade.ID, newSL); err != nil {
		tm.logger.Error("Trailing move persist failed", "ticket", trade.Ticket, "error", err)
	}
	_ = tm.repo.AppendTradeHistoryEvent(ctx, &database.TradeHistoryEvent{
		TradeID:        trade.ID,
		EventType:      database.EventSLModified,
		OldValue:       trade.StopLoss,
		NewValue:       newSL,
		Reason:         fmt.Sprintf("trailing %s at %.0f%% progress", stage, progress*100),
		Source:         "trailing_stop",
		PriceAtChange:  current,
		SpreadAtChange: tick.Spread,
	})

	tm.markUpdated(trade.Ticket)
	tm.logger.Info("Trailing stop moved",
		"ticket", trade.Ticket, "symbol", trade.Symbol, "stage", stage,
		"old_sl", trade.StopLoss, "new_sl", newSL, "progress", progress)
	if tm.bus != nil {
		tm.bus.Publish(events.Event{
			Type: events.EventTrailingStopMoved,
			Data: map[string]interface{}{
				"ticket": trade.Ticket,
				"symbol": trade.Symbol,
				"stage":  stage,
				"new_sl": newSL,
			},
		})
	}
	return true
}

// targetSL returns the stage name and desired SL for the current
// progress, or ("", 0) when no stage applies.
func (tm *TrailingManager) targetSL(trade *database.Trade, current, spread, progress, point, balance float64, isBuy bool) (string, float64) {
	trailDist := tm.trailDistance(trade.Volume, balance, point)

	switch {
	case progress >= tm.cfg.NearTPAtPercent/100:
		return StageNearTP, trailSL(current, trailDist*0.4, isBuy)
	case progress >= tm.cfg.AggressiveAtPercent/100:
		return StageAggressive, trailSL(current, trailDist*0.6, isBuy)
	case progress >= tm.cfg.PartialAtPercent/100:
		return StagePartial, trailSL(current, trailDist, isBuy)
	case progress >= tm.cfg.BreakevenAtPercent/100:
		// Entry plus a spread cushion in the profit direction: the trade
		// becomes risk-free.
		offset := spread + 2*point
		if isBuy {
			return StageBreakeven, trade.OpenPrice + offset
		}
		return StageBreakeven, trade.OpenPrice - offset
	}
	return "", 0
}

// trailDistance derives the trail width in price units. Larger positions
// and balances trail wider so noise does not shake them out.
func (tm *TrailingManager) trailDistance(volume, balance, point float64) float64 {
	pips := 10 + volume*50 + balance/5000
	pips = math.Max(tm.cfg.MinTrailPips, math.Min(tm.cfg.MaxTrailPips, pips))
	return pips * 10 * point // pip = 10 points on fractional quotes
}

func trailSL(current, distance float64, isBuy bool) float64 {
	if isBuy {
		return current - distance
	}
	return current + distance
}

// improvesSL reports whether newSL tightens the stop in the trade's
// favor. An unset SL on a SELL accepts any stop.
func improvesSL(direction string, currentSL, newSL float64) bool {
	if direction == database.SignalBuy {
		return newSL > currentSL
	}
	return currentSL <= 0 || newSL < currentSL
}

// insideFreeze reports whether any trigger level sits within the broker
// freeze distance of the current price.
func insideFreeze(current, freezeDist float64, levels ...float64) bool {
	if freezeDist <= 0 {
		return false
	}
	for _, lv := range levels {
		if lv > 0 && math.Abs(current-lv) < freezeDist {
			return true
		}
	}
	return false
}

// exceedsMinDelta suppresses sub-noise SL moves
func (tm *TrailingManager) exceedsMinDelta(trade *database.Trade, newSL, current, point float64) bool {
	delta := math.Abs(newSL - trade.StopLoss)
	minDelta := math.Max(0.3*math.Abs(current-trade.OpenPrice), 3*point)
	return delta >= minDelta
}

// symbolSpec returns the point size and freeze distance in price units
func (tm *TrailingManager) symbolSpec(ctx context.Context, symbol string) (point, freezeDist float64) {
	point = 0.00001
	if spec, err := tm.repo.GetBrokerSymbol(ctx, symbol); err == nil && spec.Point > 0 {
		point = spec.Point
		freezeDist = float64(spec.FreezeLevel) * spec.Point
	}
	return point, freezeDist
}

func (tm *TrailingManager) recordExcursion(ctx context.Context, trade *database.Trade, current float64) {
	profit := current - trade.OpenPrice
	if trade.Direction == database.SignalSell {
		profit = trade.OpenPrice - current
	}
	_ = tm.repo.UpdateTradeExcursions(ctx, trade.ID, profit, profit)
}

func (tm *TrailingManager) allowUpdate(ticket int64) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	last, ok := tm.lastMove[ticket]
	return !ok || time.Since(last) >= time.Duration(tm.cfg.UpdateMinSecs)*time.Second
}

func (tm *TrailingManager) markUpdated(ticket int64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.lastMove[ticket] = time.Now()
}

// Forget clears the rate-limit entry for a closed trade
func (tm *TrailingManager) Forget(ticket int64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.lastMove, ticket)
}
