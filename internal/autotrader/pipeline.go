// Package autotrader runs the decision pipeline that turns active signals
// into OPEN_TRADE commands. Every outcome, approval or rejection, lands in
// the decision log.
package autotrader

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/commands"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/logging"
	"mt5-trading-backend/internal/marketdata"
	"mt5-trading-backend/internal/protection"
	"mt5-trading-backend/internal/risk"
)

// Pipeline evaluates active signals against the gate sequence and emits
// trade commands for the ones that survive.
type Pipeline struct {
	repo       *database.Repository
	protection *protection.Manager
	cmds       *commands.Service
	news       *NewsCalendar
	market     *marketdata.Service
	timing     config.TimingConfig
	limits     config.LimitsConfig
	riskCfg    config.RiskConfig
	logger     *logging.Logger

	enabled atomic.Bool
}

// NewPipeline creates the decision pipeline
func NewPipeline(repo *database.Repository, prot *protection.Manager, cmds *commands.Service, news *NewsCalendar, market *marketdata.Service, timing config.TimingConfig, limits config.LimitsConfig, riskCfg config.RiskConfig, autoTrade bool, logger *logging.Logger) *Pipeline {
	p := &Pipeline{
		repo:       repo,
		protection: prot,
		cmds:       cmds,
		news:       news,
		market:     market,
		timing:     timing,
		limits:     limits,
		riskCfg:    riskCfg,
		logger:     logger.WithComponent("autotrader"),
	}
	p.enabled.Store(autoTrade)
	return p
}

// SetEnabled toggles global auto-trading
func (p *Pipeline) SetEnabled(on bool) { p.enabled.Store(on) }

// Enabled reports the global auto-trading switch
func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// Run executes one pipeline pass: every active signal against every
// account with a live terminal.
func (p *Pipeline) Run(ctx context.Context) error {
	// Gate 1: global switch.
	if !p.enabled.Load() {
		return nil
	}

	signals, err := p.repo.GetActiveSignals(ctx)
	if err != nil {
		return fmt.Errorf("load active signals: %w", err)
	}
	if len(signals) == 0 {
		return nil
	}

	accounts, err := p.repo.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	for _, account := range accounts {
		for _, signal := range signals {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.Evaluate(ctx, account, signal)
		}
	}
	return nil
}

// rejection is an internal verdict carrier
type rejection struct {
	decisionType string
	reason       string
	impact       string
}

// Evaluate runs the gate sequence for one (account, signal) pair
func (p *Pipeline) Evaluate(ctx context.Context, account *database.Account, signal *database.TradingSignal) {
	if rej := p.runGates(ctx, account, signal); rej != nil {
		p.log(ctx, account.AccountNumber, signal, database.DecisionRejected, rej.decisionType, rej.reason, rej.impact, nil)
		return
	}
}

func (p *Pipeline) runGates(ctx context.Context, account *database.Account, signal *database.TradingSignal) *rejection {
	now := time.Now().UTC()

	// Gate 2: protection state.
	check, err := p.protection.Check(ctx, account.AccountNumber, account.Balance)
	if err != nil {
		return &rejection{database.DecisionTypeRiskLimit, "protection check failed: " + err.Error(), database.ImpactHigh}
	}
	if !check.Allowed {
		return &rejection{check.DecisionType, check.Reason, database.ImpactHigh}
	}

	// Gate 3: terminal connection.
	hbWindow := time.Duration(p.timing.HeartbeatLost) * time.Second
	if account.LastHeartbeat == nil || now.Sub(*account.LastHeartbeat) > hbWindow {
		return &rejection{database.DecisionTypeMT5Disconnect, "terminal heartbeat stale", database.ImpactHigh}
	}

	// Gate 4: signal freshness.
	maxAge := time.Duration(p.timing.MaxSignalAge) * time.Second
	if signalExpired(signal.CreatedAt, now, maxAge) {
		_ = p.repo.UpdateSignalStatus(ctx, signal.ID, database.SignalStatusExpired)
		return &rejection{database.DecisionTypeSignalExpired,
			fmt.Sprintf("signal age %s exceeds %s", now.Sub(signal.CreatedAt).Round(time.Second), maxAge), database.ImpactLow}
	}

	// Gate 5: required fields.
	if signal.EntryPrice <= 0 || signal.StopLoss <= 0 || signal.TakeProfit <= 0 {
		return &rejection{database.DecisionTypeSLInvalid, "signal missing entry/sl/tp", database.ImpactMedium}
	}

	// Gate 6: symbol status plus SL cooldown.
	symCfg, err := p.repo.EnsureSymbolConfig(ctx, account.AccountNumber, signal.Symbol)
	if err != nil {
		return &rejection{database.DecisionTypeSymbolDisable, "symbol config unavailable: " + err.Error(), database.ImpactMedium}
	}
	if symCfg.Status != database.SymbolStatusActive {
		return &rejection{database.DecisionTypeSymbolDisable,
			fmt.Sprintf("symbol status %s", symCfg.Status), database.ImpactMedium}
	}
	if reason, onCooldown := p.protection.SymbolOnCooldown(ctx, account.AccountNumber, signal.Symbol); onCooldown {
		return &rejection{database.DecisionTypeSymbolDisable, "SL cooldown active: " + reason, database.ImpactMedium}
	}

	// Gate 7: dynamic confidence.
	required := p.requiredConfidence(ctx, symCfg, signal, now)
	if signal.Confidence < required {
		return &rejection{database.DecisionTypeConfidence,
			fmt.Sprintf("confidence %.1f below required %.1f", signal.Confidence, required), database.ImpactLow}
	}

	// Gate 8: position limits.
	if rej := p.positionLimits(ctx, account, signal); rej != nil {
		return rej
	}

	// Gate 9: spread and tick freshness.
	tick, rej := p.spreadGate(ctx, signal.Symbol, now)
	if rej != nil {
		return rej
	}

	// Gate 10: news blackout.
	if p.news != nil {
		if event, blocked := p.news.Blocked(signal.Symbol, now); blocked {
			return &rejection{database.DecisionTypeNewsPause,
				fmt.Sprintf("%s impact news %q at %s", event.Impact, event.Title, event.At.Format(time.RFC3339)), database.ImpactMedium}
		}
	}

	// Gate 11: SL direction and distance.
	atr := snapshotATR(signal)
	if rej := validateSL(signal, atr); rej != nil {
		return rej
	}

	// Gate 12: position size.
	spec, _ := p.repo.GetBrokerSymbol(ctx, signal.Symbol)
	point := 0.00001
	if spec != nil && spec.Point > 0 {
		point = spec.Point
	}
	slDistancePips := math.Abs(signal.EntryPrice-signal.StopLoss) / (10 * point)

	sizerCfg := risk.SizerConfig{BaseRiskPct: p.riskCfg.BaseRiskPercent * symCfg.RiskMultiplier}
	lot, sizing, err := risk.CalculateLot(sizerCfg, account.Balance, signal.Confidence, slDistancePips, signal.Symbol, spec)
	if err != nil {
		return &rejection{database.DecisionTypeLotTooSmall, "sizing failed: " + err.Error(), database.ImpactMedium}
	}

	// Gate 13: balance-aware SL enforcement.
	enforced, err := risk.EnforceSL(signal.Symbol, signal.SignalType, signal.EntryPrice, signal.StopLoss, lot, account.Balance, spec)
	if err != nil {
		return &rejection{database.DecisionTypeSLInvalid, "sl enforcement: " + err.Error(), database.ImpactMedium}
	}
	lot = enforced.Lot

	// Gate 14: emit the command and mark the signal executed.
	payload := map[string]interface{}{
		"symbol":     signal.Symbol,
		"order_type": signal.SignalType,
		"volume":     lot,
		"sl":         signal.StopLoss,
		"tp":         signal.TakeProfit,
		"comment":    fmt.Sprintf("auto s%d c%.0f", signal.ID, signal.Confidence),
		"signal_id":  signal.ID,
		"timeframe":  signal.Timeframe,
	}
	cmd, err := p.cmds.Create(ctx, account.AccountNumber, database.CommandOpenTrade, payload)
	if err != nil {
		return &rejection{database.DecisionTypeTradeOpen, "command create failed: " + err.Error(), database.ImpactHigh}
	}
	if err := p.repo.UpdateSignalStatus(ctx, signal.ID, database.SignalStatusExecuted); err != nil {
		p.logger.Error("Signal status update failed", "signal_id", signal.ID, "error", err)
	}

	p.log(ctx, account.AccountNumber, signal, database.DecisionApproved, database.DecisionTypeTradeOpen,
		fmt.Sprintf("approved: lot %.2f, spread %.5f, %s", lot, tick.Spread, sizing), database.ImpactHigh,
		map[string]interface{}{
			"command_id": cmd.ID,
			"lot":        lot,
			"reduced":    enforced.Reduced,
			"sizing":     sizing,
		})
	logging.SignalContext(signal.Symbol, signal.Timeframe, signal.SignalType, signal.Confidence).
		Info("Trade command emitted", "account", account.AccountNumber, "lot", lot, "command_id", cmd.ID)
	return nil
}

// requiredConfidence computes the dynamic bar for gate 7
func (p *Pipeline) requiredConfidence(ctx context.Context, symCfg *database.SymbolTradingConfig, signal *database.TradingSignal, now time.Time) float64 {
	required := symCfg.MinConfidenceThreshold + sessionAdjustment(now)

	// Trend alignment on the signal's own timeframe.
	candles, err := p.repo.GetCandles(ctx, signal.Symbol, signal.Timeframe, 60)
	if err == nil && len(candles) >= 50 {
		required += trendAdjustment(prevailingTrend(candles), signal.SignalType)
	}

	// Regime preference bias from adaptive learning.
	if symCfg.PreferredRegime != nil {
		snapRegime, _ := signal.IndicatorSnapshot["regime"].(string)
		required += regimeAdjustment(*symCfg.PreferredRegime, snapRegime)
	}

	return required
}

// signalExpired reports whether a signal aged past the execution window.
// A signal exactly at the limit still trades.
func signalExpired(createdAt, now time.Time, maxAge time.Duration) bool {
	return now.Sub(createdAt) > maxAge
}

// sessionAdjustment biases the confidence bar by liquidity: thin Asian
// hours need more conviction, the London/NY overlap less.
func sessionAdjustment(now time.Time) float64 {
	switch marketdata.DetectSession(now) {
	case marketdata.SessionAsian:
		return 5
	case marketdata.SessionOverlap:
		return -5
	case marketdata.SessionClosed:
		return 100 // market closed, nothing trades
	}
	return 0
}

// trendAdjustment eases aligned signals and penalizes counter-trend ones
func trendAdjustment(trend, signalType string) float64 {
	if trend == "" {
		return 0
	}
	if trend == signalType {
		return -15
	}
	return 20
}

func regimeAdjustment(preferred, snapRegime string) float64 {
	if snapRegime == preferred {
		return -3
	}
	if snapRegime != "" {
		return 3
	}
	return 0
}

// prevailingTrend reads the SMA20/SMA50 alignment
func prevailingTrend(candles []*database.OHLCCandle) string {
	var sum20, sum50 float64
	n := len(candles)
	for i := n - 20; i < n; i++ {
		sum20 += candles[i].Close
	}
	for i := n - 50; i < n; i++ {
		sum50 += candles[i].Close
	}
	sma20 := sum20 / 20
	sma50 := sum50 / 50
	last := candles[n-1].Close

	if sma20 > sma50 && last > sma20 {
		return database.SignalBuy
	}
	if sma20 < sma50 && last < sma20 {
		return database.SignalSell
	}
	return ""
}

// positionLimits covers gate 8: per-symbol, per-timeframe, correlation
// group and global caps.
func (p *Pipeline) positionLimits(ctx context.Context, account *database.Account, signal *database.TradingSignal) *rejection {
	has, err := p.repo.HasOpenTrade(ctx, account.AccountNumber, signal.Symbol)
	if err != nil {
		return &rejection{database.DecisionTypePositionLimit, "open-trade lookup failed: " + err.Error(), database.ImpactMedium}
	}
	if has {
		return &rejection{database.DecisionTypePositionLimit, "position already open on symbol", database.ImpactLow}
	}

	maxPerTF := p.limits.MaxPerTimeframe
	if maxPerTF <= 0 {
		maxPerTF = 1
	}
	tfCount, err := p.repo.CountOpenTradesByTimeframe(ctx, account.AccountNumber, signal.Symbol, signal.Timeframe)
	if err == nil && tfCount >= maxPerTF {
		return &rejection{database.DecisionTypePositionLimit,
			fmt.Sprintf("%d positions already open on %s %s", tfCount, signal.Symbol, signal.Timeframe), database.ImpactLow}
	}

	open, err := p.repo.GetOpenTrades(ctx, account.AccountNumber)
	if err != nil {
		return &rejection{database.DecisionTypePositionLimit, "open-trades lookup failed: " + err.Error(), database.ImpactMedium}
	}

	maxTotal := p.limits.MaxTotalPositions
	if maxTotal <= 0 {
		maxTotal = 10
	}
	if len(open) >= maxTotal {
		return &rejection{database.DecisionTypePositionLimit,
			fmt.Sprintf("global cap %d open positions reached", maxTotal), database.ImpactMedium}
	}

	maxGroup := p.limits.MaxPerCurrencyGroup
	if maxGroup <= 0 {
		maxGroup = 2
	}
	if n := correlatedCount(open, signal.Symbol); n >= maxGroup {
		return &rejection{database.DecisionTypePositionLimit,
			fmt.Sprintf("correlation group %s already has %d positions", CurrencyGroup(signal.Symbol), n), database.ImpactLow}
	}
	return nil
}

// correlatedCount counts open trades sharing the symbol's currency group
func correlatedCount(open []*database.Trade, symbol string) int {
	group := CurrencyGroup(symbol)
	n := 0
	for _, t := range open {
		if CurrencyGroup(t.Symbol) == group {
			n++
		}
	}
	return n
}

// spreadGate covers gate 9: tick freshness and spread sanity
func (p *Pipeline) spreadGate(ctx context.Context, symbol string, now time.Time) (*database.Tick, *rejection) {
	tick, err := p.market.LatestTick(ctx, symbol)
	if err != nil {
		return nil, &rejection{database.DecisionTypeTickStale, "no tick data for symbol", database.ImpactMedium}
	}
	if now.Sub(tick.TickTime) > 60*time.Second {
		return nil, &rejection{database.DecisionTypeTickStale,
			fmt.Sprintf("latest tick %s old", now.Sub(tick.TickTime).Round(time.Second)), database.ImpactMedium}
	}

	avgSpread, err := p.market.AverageSpread(ctx, symbol, time.Hour)
	if err != nil || avgSpread <= 0 {
		return tick, nil
	}

	multiplier := 3.0
	if risk.ClassOf(symbol) == "METALS" {
		multiplier = 5.0
	}
	limit := math.Max(absoluteSpreadLimit(symbol), multiplier*avgSpread)
	if tick.Spread > limit {
		return nil, &rejection{database.DecisionTypeSpreadRejected,
			fmt.Sprintf("spread %.5f exceeds limit %.5f (avg %.5f)", tick.Spread, limit, avgSpread), database.ImpactMedium}
	}
	return tick, nil
}

// absoluteSpreadLimit is the per-symbol hard ceiling in price units
func absoluteSpreadLimit(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "JPY"):
		return 0.05
	case strings.Contains(s, "XAU"):
		return 1.0
	case strings.Contains(s, "BTC"):
		return 100.0
	case strings.Contains(s, "DE40") || strings.Contains(s, "US30"):
		return 5.0
	default:
		return 0.0005
	}
}

// validateSL covers gate 11
func validateSL(signal *database.TradingSignal, atr float64) *rejection {
	if signal.SignalType == database.SignalBuy && signal.StopLoss >= signal.EntryPrice {
		return &rejection{database.DecisionTypeSLInvalid, "BUY stop loss above entry", database.ImpactMedium}
	}
	if signal.SignalType == database.SignalSell && signal.StopLoss <= signal.EntryPrice {
		return &rejection{database.DecisionTypeSLInvalid, "SELL stop loss below entry", database.ImpactMedium}
	}
	if atr > 0 && math.Abs(signal.EntryPrice-signal.StopLoss) < 0.4*atr {
		return &rejection{database.DecisionTypeSLInvalid,
			fmt.Sprintf("SL distance %.5f under asset minimum", math.Abs(signal.EntryPrice-signal.StopLoss)), database.ImpactMedium}
	}
	return nil
}

func snapshotATR(signal *database.TradingSignal) float64 {
	if v, ok := signal.IndicatorSnapshot["atr"].(float64); ok {
		return v
	}
	return 0
}

func (p *Pipeline) log(ctx context.Context, accountNumber int64, signal *database.TradingSignal, decision, decisionType, reason, impact string, detail map[string]interface{}) {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detail["signal_id"] = signal.ID
	detail["signal_type"] = signal.SignalType

	tf := signal.Timeframe
	conf := signal.Confidence
	err := p.repo.LogDecision(ctx, &database.AIDecisionLog{
		AccountNumber:     accountNumber,
		DecisionType:      decisionType,
		Decision:          decision,
		Symbol:            signal.Symbol,
		Timeframe:         &tf,
		PrimaryReason:     reason,
		DetailedReasoning: detail,
		ImpactLevel:       impact,
		ConfidenceScore:   &conf,
	})
	if err != nil {
		p.logger.Error("Decision log write failed", "error", err)
	}
}
