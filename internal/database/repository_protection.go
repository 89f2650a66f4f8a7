package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// PROTECTION STATE
// ============================================================================

const protectionColumns = `account_number, protection_enabled, max_daily_loss_percent, max_daily_loss_eur,
	max_total_drawdown_percent, pause_after_consecutive_losses, circuit_breaker_tripped,
	tracking_date, daily_pnl, limit_reached, auto_trading_disabled_at, initial_balance, updated_at`

func scanProtection(row pgx.Row) (*ProtectionState, error) {
	p := &ProtectionState{}
	err := row.Scan(
		&p.AccountNumber, &p.ProtectionEnabled, &p.MaxDailyLossPercent, &p.MaxDailyLossEUR,
		&p.MaxTotalDrawdownPercent, &p.PauseAfterConsecutiveLosses, &p.CircuitBreakerTripped,
		&p.TrackingDate, &p.DailyPnL, &p.LimitReached, &p.AutoTradingDisabledAt, &p.InitialBalance, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// EnsureProtectionState creates the 1:1 protection row for an account if
// missing, seeding initial balance, and returns the current state.
func (r *Repository) EnsureProtectionState(ctx context.Context, accountNumber int64, maxDailyLossPct, maxDailyLossEUR, maxTotalDDPct float64, pauseAfterLosses int, initialBalance float64) (*ProtectionState, error) {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO protection_states (account_number, max_daily_loss_percent, max_daily_loss_eur,
			max_total_drawdown_percent, pause_after_consecutive_losses, initial_balance)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_number) DO NOTHING
	`, accountNumber, maxDailyLossPct, maxDailyLossEUR, maxTotalDDPct, pauseAfterLosses, initialBalance)
	if err != nil {
		return nil, err
	}
	return r.GetProtectionState(ctx, accountNumber)
}

// GetProtectionState retrieves the protection row for an account
func (r *Repository) GetProtectionState(ctx context.Context, accountNumber int64) (*ProtectionState, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+protectionColumns+` FROM protection_states WHERE account_number = $1`, accountNumber)
	return scanProtection(row)
}

// ResetDailyProtection advances tracking_date and zeroes the daily
// counters. The circuit breaker survives the reset; it needs a manual
// clear.
func (r *Repository) ResetDailyProtection(ctx context.Context, accountNumber int64, today time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE protection_states
		SET tracking_date = $2, daily_pnl = 0, limit_reached = FALSE,
			auto_trading_disabled_at = NULL, updated_at = NOW()
		WHERE account_number = $1 AND circuit_breaker_tripped = FALSE
	`, accountNumber, today)
	if err != nil {
		return err
	}
	// Tripped breakers still get a fresh tracking date and P/L, but keep
	// trading disabled.
	_, err = r.db.Pool.Exec(ctx, `
		UPDATE protection_states
		SET tracking_date = $2, daily_pnl = 0, updated_at = NOW()
		WHERE account_number = $1 AND circuit_breaker_tripped = TRUE
	`, accountNumber, today)
	return err
}

// AddDailyPnL accumulates a closed trade's profit into daily_pnl and
// returns the updated state.
func (r *Repository) AddDailyPnL(ctx context.Context, accountNumber int64, profit float64) (*ProtectionState, error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE protection_states
		SET daily_pnl = daily_pnl + $2, updated_at = NOW()
		WHERE account_number = $1
		RETURNING `+protectionColumns, accountNumber, profit)
	return scanProtection(row)
}

// SetDailyLimitReached disables auto-trading for the rest of the day
func (r *Repository) SetDailyLimitReached(ctx context.Context, accountNumber int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE protection_states
		SET limit_reached = TRUE, auto_trading_disabled_at = NOW(), updated_at = NOW()
		WHERE account_number = $1
	`, accountNumber)
	return err
}

// SetCircuitBreakerTripped flips the hard breaker; manual reset only
func (r *Repository) SetCircuitBreakerTripped(ctx context.Context, accountNumber int64, tripped bool) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE protection_states
		SET circuit_breaker_tripped = $2, updated_at = NOW()
		WHERE account_number = $1
	`, accountNumber, tripped)
	return err
}

// AdjustInitialBalance applies a deposit/withdrawal so total-drawdown math
// tracks real capital, not cash flow.
func (r *Repository) AdjustInitialBalance(ctx context.Context, accountNumber int64, delta float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE protection_states
		SET initial_balance = initial_balance + $2, updated_at = NOW()
		WHERE account_number = $1
	`, accountNumber, delta)
	return err
}

// ============================================================================
// SYMBOL TRADING CONFIG
// ============================================================================

const symbolConfigColumns = `id, account_number, symbol, direction, min_confidence_threshold,
	risk_multiplier, status, rolling_winrate, rolling_profit, consecutive_wins, consecutive_losses,
	trades_counted, winrate_trending, winrate_ranging, trending_trades, ranging_trades,
	preferred_regime, pause_reason, paused_at, updated_at`

func scanSymbolConfig(row pgx.Row) (*SymbolTradingConfig, error) {
	c := &SymbolTradingConfig{}
	err := row.Scan(
		&c.ID, &c.AccountNumber, &c.Symbol, &c.Direction, &c.MinConfidenceThreshold,
		&c.RiskMultiplier, &c.Status, &c.RollingWinrate, &c.RollingProfit, &c.ConsecutiveWins, &c.ConsecutiveLosses,
		&c.TradesCounted, &c.WinrateTrending, &c.WinrateRanging, &c.TrendingTrades, &c.RangingTrades,
		&c.PreferredRegime, &c.PauseReason, &c.PausedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// EnsureSymbolConfig creates the adaptive config row with defaults if
// missing and returns it.
func (r *Repository) EnsureSymbolConfig(ctx context.Context, accountNumber int64, symbol string) (*SymbolTradingConfig, error) {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO symbol_trading_configs (account_number, symbol)
		VALUES ($1, $2)
		ON CONFLICT (account_number, symbol) DO NOTHING
	`, accountNumber, symbol)
	if err != nil {
		return nil, err
	}
	return r.GetSymbolConfig(ctx, accountNumber, symbol)
}

// GetSymbolConfig retrieves the adaptive config for (account, symbol)
func (r *Repository) GetSymbolConfig(ctx context.Context, accountNumber int64, symbol string) (*SymbolTradingConfig, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+symbolConfigColumns+` FROM symbol_trading_configs WHERE account_number = $1 AND symbol = $2`,
		accountNumber, symbol)
	return scanSymbolConfig(row)
}

// SaveSymbolConfig writes back the mutated adaptive fields
func (r *Repository) SaveSymbolConfig(ctx context.Context, c *SymbolTradingConfig) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE symbol_trading_configs SET
			min_confidence_threshold = $3, risk_multiplier = $4, status = $5,
			rolling_winrate = $6, rolling_profit = $7, consecutive_wins = $8, consecutive_losses = $9,
			trades_counted = $10, winrate_trending = $11, winrate_ranging = $12,
			trending_trades = $13, ranging_trades = $14, preferred_regime = $15,
			pause_reason = $16, paused_at = $17, updated_at = NOW()
		WHERE account_number = $1 AND symbol = $2
	`, c.AccountNumber, c.Symbol,
		c.MinConfidenceThreshold, c.RiskMultiplier, c.Status,
		c.RollingWinrate, c.RollingProfit, c.ConsecutiveWins, c.ConsecutiveLosses,
		c.TradesCounted, c.WinrateTrending, c.WinrateRanging,
		c.TrendingTrades, c.RangingTrades, c.PreferredRegime,
		c.PauseReason, c.PausedAt)
	return err
}

// PauseSymbol pauses trading on a symbol with a reason
func (r *Repository) PauseSymbol(ctx context.Context, accountNumber int64, symbol, reason string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE symbol_trading_configs
		SET status = 'paused', pause_reason = $3, paused_at = NOW(), updated_at = NOW()
		WHERE account_number = $1 AND symbol = $2
	`, accountNumber, symbol, reason)
	return err
}

// ResumePausedSymbols reactivates symbols whose pause window has elapsed.
// Returns rows changed.
func (r *Repository) ResumePausedSymbols(ctx context.Context, pausedBefore time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE symbol_trading_configs
		SET status = 'active', pause_reason = NULL, paused_at = NULL, updated_at = NOW()
		WHERE status = 'paused' AND paused_at IS NOT NULL AND paused_at < $1
	`, pausedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
