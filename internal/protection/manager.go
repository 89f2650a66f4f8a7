// Package protection implements the account protection layer: daily loss
// limits, total drawdown circuit breaker, command-failure breaker,
// consecutive-loss pauses and SL-hit cooldowns.
package protection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"
)

// Manager evaluates and mutates ProtectionState. Hard trips (daily limit,
// drawdown breaker) need manual intervention; soft trips (SL cooldown,
// symbol pause) expire on their own.
type Manager struct {
	repo   *database.Repository
	cache  *cache.CacheService
	bus    *events.EventBus
	cfg    config.RiskConfig
	limits config.LimitsConfig
	timing config.TimingConfig
	logger *logging.Logger

	mu       sync.Mutex
	failures map[int64]int       // account -> consecutive command failures
	tripped  map[int64]time.Time // account -> when the failure breaker tripped
}

// NewManager creates the protection manager
func NewManager(repo *database.Repository, cacheSvc *cache.CacheService, bus *events.EventBus, cfg config.RiskConfig, limits config.LimitsConfig, timing config.TimingConfig, logger *logging.Logger) *Manager {
	return &Manager{
		repo:     repo,
		cache:    cacheSvc,
		bus:      bus,
		cfg:      cfg,
		limits:   limits,
		timing:   timing,
		logger:   logger.WithComponent("protection"),
		failures: make(map[int64]int),
		tripped:  make(map[int64]time.Time),
	}
}

// utcDay returns midnight UTC of t's day
func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Ensure loads (creating if needed) the protection state for an account
// and applies the daily reset when the tracking date rolled over.
func (m *Manager) Ensure(ctx context.Context, accountNumber int64, balance float64) (*database.ProtectionState, error) {
	state, err := m.repo.EnsureProtectionState(ctx, accountNumber,
		m.cfg.MaxDailyLossPercent, m.cfg.MaxDailyLossEUR, m.cfg.MaxTotalDrawdownPercent,
		m.cfg.PauseAfterConsecutiveLosses, balance)
	if err != nil {
		return nil, err
	}

	today := utcDay(time.Now())
	if !state.TrackingDate.Equal(today) {
		if err := m.repo.ResetDailyProtection(ctx, accountNumber, today); err != nil {
			return nil, err
		}
		m.logger.Info("Daily protection reset", "account", accountNumber)
		state, err = m.repo.GetProtectionState(ctx, accountNumber)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// CheckResult is the gate verdict for the decision pipeline
type CheckResult struct {
	Allowed      bool
	Reason       string
	DecisionType string
}

// Check is the protection gate consulted before every trade decision
func (m *Manager) Check(ctx context.Context, accountNumber int64, balance float64) (CheckResult, error) {
	state, err := m.Ensure(ctx, accountNumber, balance)
	if err != nil {
		return CheckResult{}, err
	}

	if !state.ProtectionEnabled {
		return CheckResult{Allowed: true}, nil
	}

	if state.CircuitBreakerTripped {
		return CheckResult{Reason: "drawdown circuit breaker tripped", DecisionType: database.DecisionTypeCircuitBreaker}, nil
	}
	if m.failureBreakerOpen(accountNumber) {
		return CheckResult{Reason: "command failure circuit breaker open", DecisionType: database.DecisionTypeCircuitBreaker}, nil
	}
	if state.LimitReached || state.AutoTradingDisabledAt != nil {
		return CheckResult{Reason: "daily loss limit reached", DecisionType: database.DecisionTypeRiskLimit}, nil
	}
	return CheckResult{Allowed: true}, nil
}

// OnTradeClosed updates protection state after a close: daily P/L, daily
// limits, total drawdown, consecutive-loss pause, SL-hit cooldown and the
// adaptive symbol config.
func (m *Manager) OnTradeClosed(ctx context.Context, trade *database.Trade, account *database.Account, regime string) error {
	state, err := m.repo.AddDailyPnL(ctx, trade.AccountNumber, trade.Profit)
	if err != nil {
		return fmt.Errorf("accumulate daily pnl: %w", err)
	}

	if dailyLimitBreached(state, account.Balance) && !state.LimitReached {
		if err := m.repo.SetDailyLimitReached(ctx, trade.AccountNumber); err != nil {
			return err
		}
		m.logDecision(ctx, trade.AccountNumber, database.DecisionTypeDDLimit, trade.Symbol,
			fmt.Sprintf("daily P/L %.2f breached limit", state.DailyPnL), database.ImpactCritical)
		logging.ProtectionContext(trade.AccountNumber, "daily_limit").Warn("Daily loss limit reached, auto-trading disabled")
		if m.bus != nil {
			m.bus.PublishProtection(events.EventDailyLimitReached, trade.AccountNumber,
				map[string]interface{}{"daily_pnl": state.DailyPnL})
		}
	}

	// Total drawdown breaker on equity.
	if state.InitialBalance > 0 {
		dd := drawdownPercent(state.InitialBalance, account.Equity)
		if dd >= state.MaxTotalDrawdownPercent && !state.CircuitBreakerTripped {
			if err := m.repo.SetCircuitBreakerTripped(ctx, trade.AccountNumber, true); err != nil {
				return err
			}
			m.logDecision(ctx, trade.AccountNumber, database.DecisionTypeCircuitBreaker, trade.Symbol,
				fmt.Sprintf("total drawdown %.1f%% breached %.1f%%", dd, state.MaxTotalDrawdownPercent), database.ImpactCritical)
			logging.ProtectionContext(trade.AccountNumber, "total_drawdown").Error("Drawdown circuit breaker tripped")
			if m.bus != nil {
				m.bus.PublishProtection(events.EventDrawdownLimit, trade.AccountNumber,
					map[string]interface{}{"drawdown_pct": dd})
			}
		}
	}

	// SL-hit cooldown. A second hit inside 4 hours restarts the window.
	if trade.CloseReason != nil && *trade.CloseReason == database.CloseReasonSLHit {
		m.applySLCooldown(ctx, trade)
	}

	// Adaptive per-symbol learning, including the consecutive-loss pause.
	if err := m.updateSymbolConfig(ctx, trade, regime); err != nil {
		m.logger.Error("Adaptive config update failed", "symbol", trade.Symbol, "error", err)
	}

	return nil
}

// dailyLimitBreached applies the absolute cap (when configured) and the
// percentage cap against the day's realized P/L.
func dailyLimitBreached(state *database.ProtectionState, balance float64) bool {
	if state.MaxDailyLossEUR > 0 && state.DailyPnL <= -state.MaxDailyLossEUR {
		return true
	}
	return balance > 0 && state.DailyPnL/balance*100 <= -state.MaxDailyLossPercent
}

// drawdownPercent measures equity drawdown from the tracked baseline
func drawdownPercent(initialBalance, equity float64) float64 {
	return (initialBalance - equity) / initialBalance * 100
}

func (m *Manager) applySLCooldown(ctx context.Context, trade *database.Trade) {
	cooldown := time.Duration(m.timing.SLCooldown) * time.Second
	if cooldown <= 0 {
		cooldown = time.Hour
	}

	hits, err := m.repo.CountRecentSLHits(ctx, trade.AccountNumber, trade.Symbol, 4*time.Hour)
	if err != nil {
		hits = 1
	}
	reason := "sl_hit"
	if hits >= 2 {
		reason = "repeated_sl_hits"
	}

	if m.cache != nil {
		if err := m.cache.SetSymbolCooldown(ctx, trade.AccountNumber, trade.Symbol, reason, cooldown); err != nil && err != cache.ErrUnavailable {
			m.logger.Warn("SL cooldown write failed", "symbol", trade.Symbol, "error", err)
		}
	}
	m.logger.Info("Symbol on SL cooldown", "account", trade.AccountNumber, "symbol", trade.Symbol,
		"reason", reason, "until", time.Now().Add(cooldown).UTC())
}

// SymbolOnCooldown reports whether the symbol is paused by an SL cooldown
func (m *Manager) SymbolOnCooldown(ctx context.Context, accountNumber int64, symbol string) (string, bool) {
	if m.cache == nil {
		return "", false
	}
	reason, active, err := m.cache.GetSymbolCooldown(ctx, accountNumber, symbol)
	if err != nil {
		return "", false
	}
	return reason, active
}

// ============================================================================
// COMMAND FAILURE BREAKER
// ============================================================================

// OnCommandResult feeds the consecutive-failure counter. Success resets
// it; reaching the threshold trips the breaker for the cooldown window.
func (m *Manager) OnCommandResult(ctx context.Context, accountNumber int64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.failures[accountNumber] = 0
		delete(m.tripped, accountNumber)
		return
	}

	m.failures[accountNumber]++
	threshold := m.limits.CircuitThreshold
	if threshold <= 0 {
		threshold = 5
	}
	if m.failures[accountNumber] >= threshold {
		if _, already := m.tripped[accountNumber]; !already {
			m.tripped[accountNumber] = time.Now()
			m.logger.Error("Command failure breaker tripped",
				"account", accountNumber, "failures", m.failures[accountNumber])
			m.logDecision(ctx, accountNumber, database.DecisionTypeCircuitBreaker, "",
				fmt.Sprintf("%d consecutive command failures", m.failures[accountNumber]), database.ImpactHigh)
			if m.bus != nil {
				m.bus.PublishProtection(events.EventCircuitBreaker, accountNumber,
					map[string]interface{}{"failures": m.failures[accountNumber]})
			}
		}
	}
}

// failureBreakerOpen checks the in-memory breaker, auto-resetting after
// the cooldown.
func (m *Manager) failureBreakerOpen(accountNumber int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	trippedAt, ok := m.tripped[accountNumber]
	if !ok {
		return false
	}
	cooldown := time.Duration(m.timing.CircuitCooldown) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if time.Since(trippedAt) >= cooldown {
		delete(m.tripped, accountNumber)
		m.failures[accountNumber] = 0
		m.logger.Info("Command failure breaker auto-reset", "account", accountNumber)
		return false
	}
	return true
}

// ResetBreaker manually clears the drawdown circuit breaker
func (m *Manager) ResetBreaker(ctx context.Context, accountNumber int64) error {
	m.mu.Lock()
	m.failures[accountNumber] = 0
	delete(m.tripped, accountNumber)
	m.mu.Unlock()
	return m.repo.SetCircuitBreakerTripped(ctx, accountNumber, false)
}

// OnTransaction adjusts the drawdown baseline for deposits/withdrawals so
// cash flow does not read as trading loss.
func (m *Manager) OnTransaction(ctx context.Context, accountNumber int64, amount float64) error {
	if err := m.repo.AdjustInitialBalance(ctx, accountNumber, amount); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.PublishProtection(events.EventBalanceAdjusted, accountNumber,
			map[string]interface{}{"amount": amount})
	}
	return nil
}

func (m *Manager) logDecision(ctx context.Context, accountNumber int64, decisionType, symbol, reason, impact string) {
	if m.repo == nil {
		return
	}
	err := m.repo.LogDecision(ctx, &database.AIDecisionLog{
		AccountNumber: accountNumber,
		DecisionType:  decisionType,
		Decision:      database.DecisionRejected,
		Symbol:        symbol,
		PrimaryReason: reason,
		ImpactLevel:   impact,
	})
	if err != nil {
		m.logger.Error("Decision log write failed", "error", err)
	}
}
