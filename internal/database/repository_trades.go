package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// TRADES
// ============================================================================

const tradeColumns = `id, account_number, ticket, symbol, direction, volume, open_price, open_time,
	close_price, close_time, stop_loss, take_profit, initial_sl, initial_tp,
	profit, commission, swap, status, source, command_id, signal_id, entry_confidence,
	timeframe, close_reason, mfe, mae, trailing_stop_active, trailing_stop_moves,
	entry_bid, entry_ask, entry_spread, session, created_at, updated_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(
		&t.ID, &t.AccountNumber, &t.Ticket, &t.Symbol, &t.Direction, &t.Volume, &t.OpenPrice, &t.OpenTime,
		&t.ClosePrice, &t.CloseTime, &t.StopLoss, &t.TakeProfit, &t.InitialSL, &t.InitialTP,
		&t.Profit, &t.Commission, &t.Swap, &t.Status, &t.Source, &t.CommandID, &t.SignalID, &t.EntryConfidence,
		&t.Timeframe, &t.CloseReason, &t.MFE, &t.MAE, &t.TrailingStopActive, &t.TrailingStopMoves,
		&t.EntryBid, &t.EntryAsk, &t.EntrySpread, &t.Session, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *Repository) scanTrades(rows pgx.Rows) ([]*Trade, error) {
	defer rows.Close()
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateTrade inserts a new trade. A second open trade on the same
// (account, symbol) loses to the partial unique index and gets
// ErrDuplicateOpenTrade; a ticket collision means the terminal already
// reported this position and is also surfaced as a unique violation.
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	if t.Source == "" {
		t.Source = TradeSourceManual
	}
	if t.Status == "" {
		t.Status = TradeStatusOpen
	}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO trades (account_number, ticket, symbol, direction, volume, open_price, open_time,
			stop_loss, take_profit, initial_sl, initial_tp, profit, commission, swap, status, source,
			command_id, signal_id, entry_confidence, timeframe, entry_bid, entry_ask, entry_spread, session)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id, created_at, updated_at
	`, t.AccountNumber, t.Ticket, t.Symbol, t.Direction, t.Volume, t.OpenPrice, t.OpenTime,
		t.StopLoss, t.TakeProfit, t.InitialSL, t.InitialTP, t.Profit, t.Commission, t.Swap, t.Status, t.Source,
		t.CommandID, t.SignalID, t.EntryConfidence, t.Timeframe, t.EntryBid, t.EntryAsk, t.EntrySpread, t.Session,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateOpenTrade
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTradeByTicket retrieves a trade by its MT5 ticket
func (r *Repository) GetTradeByTicket(ctx context.Context, ticket int64) (*Trade, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE ticket = $1`, ticket)
	return scanTrade(row)
}

// GetOpenTrades returns all open trades for an account
func (r *Repository) GetOpenTrades(ctx context.Context, accountNumber int64) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE account_number = $1 AND status = 'open' ORDER BY open_time
	`, accountNumber)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// GetAllOpenTrades returns open trades across every account, used by the
// trailing-stop sweeper.
func (r *Repository) GetAllOpenTrades(ctx context.Context) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = 'open' ORDER BY open_time`)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// CountOpenTrades returns the number of open trades for an account
func (r *Repository) CountOpenTrades(ctx context.Context, accountNumber int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE account_number = $1 AND status = 'open'`,
		accountNumber).Scan(&count)
	return count, err
}

// HasOpenTrade reports whether the account already holds an open position
// on the symbol.
func (r *Repository) HasOpenTrade(ctx context.Context, accountNumber int64, symbol string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM trades WHERE account_number = $1 AND symbol = $2 AND status = 'open')
	`, accountNumber, symbol).Scan(&exists)
	return exists, err
}

// CountOpenTradesByTimeframe counts open trades on (symbol, timeframe)
func (r *Repository) CountOpenTradesByTimeframe(ctx context.Context, accountNumber int64, symbol, timeframe string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE account_number = $1 AND symbol = $2 AND timeframe = $3 AND status = 'open'
	`, accountNumber, symbol, timeframe).Scan(&count)
	return count, err
}

// UpdateTradeLevels writes new SL/TP for an open trade
func (r *Repository) UpdateTradeLevels(ctx context.Context, tradeID int64, stopLoss, takeProfit float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET stop_loss = $2, take_profit = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, tradeID, stopLoss, takeProfit)
	return err
}

// MarkTrailingMove records one trailing-stop SL move
func (r *Repository) MarkTrailingMove(ctx context.Context, tradeID int64, newSL float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET stop_loss = $2, trailing_stop_active = TRUE,
			trailing_stop_moves = trailing_stop_moves + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, tradeID, newSL)
	return err
}

// UpdateTradeExcursions refreshes MFE/MAE on an open trade. Values only
// ever widen.
func (r *Repository) UpdateTradeExcursions(ctx context.Context, tradeID int64, mfe, mae float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET mfe = GREATEST(mfe, $2), mae = LEAST(mae, $3), updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, tradeID, mfe, mae)
	return err
}

// UpdateOpenTradeState syncs profit/swap/SL/TP from a terminal report
func (r *Repository) UpdateOpenTradeState(ctx context.Context, tradeID int64, profit, swap, stopLoss, takeProfit float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET profit = $2, swap = $3, stop_loss = $4, take_profit = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, tradeID, profit, swap, stopLoss, takeProfit)
	return err
}

// CloseTrade transitions an open trade to closed. A closed trade never
// reopens; the status guard makes repeated closes no-ops. Returns true
// when the row changed.
func (r *Repository) CloseTrade(ctx context.Context, tradeID int64, closePrice float64, closeTime time.Time, profit, commission, swap float64, closeReason string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET status = 'closed', close_price = $2, close_time = $3,
			profit = $4, commission = $5, swap = $6, close_reason = $7, updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, tradeID, closePrice, closeTime, profit, commission, swap, closeReason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LinkTradeToCommand fills the command/signal linkage discovered during
// reconciliation.
func (r *Repository) LinkTradeToCommand(ctx context.Context, tradeID int64, commandID string, signalID *int64, confidence *float64, timeframe *string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET command_id = $2, signal_id = $3, entry_confidence = $4,
			timeframe = $5, source = 'autotrade', updated_at = NOW()
		WHERE id = $1 AND command_id IS NULL
	`, tradeID, commandID, signalID, confidence, timeframe)
	return err
}

// GetRecentClosedTrades returns the last n closed trades for (account,
// symbol), newest first. The adaptive symbol config uses this window.
func (r *Repository) GetRecentClosedTrades(ctx context.Context, accountNumber int64, symbol string, limit int) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE account_number = $1 AND symbol = $2 AND status = 'closed'
		ORDER BY close_time DESC LIMIT $3
	`, accountNumber, symbol, limit)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// GetClosedTradesSince returns trades closed after the cutoff for an
// account. The protection layer sums these for the daily P/L invariant.
func (r *Repository) GetClosedTradesSince(ctx context.Context, accountNumber int64, since time.Time) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE account_number = $1 AND status = 'closed' AND close_time >= $2
		ORDER BY close_time
	`, accountNumber, since)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// CountRecentSLHits counts SL_HIT closes on a symbol within the window,
// for cooldown escalation.
func (r *Repository) CountRecentSLHits(ctx context.Context, accountNumber int64, symbol string, window time.Duration) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades
		WHERE account_number = $1 AND symbol = $2 AND status = 'closed'
		  AND close_reason = 'SL_HIT' AND close_time > NOW() - $3::interval
	`, accountNumber, symbol, window.String()).Scan(&count)
	return count, err
}

// ============================================================================
// TRADE HISTORY EVENTS
// ============================================================================

// AppendTradeHistoryEvent writes one append-only SL/TP audit row
func (r *Repository) AppendTradeHistoryEvent(ctx context.Context, e *TradeHistoryEvent) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO trade_history_events (trade_id, event_type, old_value, new_value,
			reason, source, price_at_change, spread_at_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, e.TradeID, e.EventType, e.OldValue, e.NewValue,
		e.Reason, e.Source, e.PriceAtChange, e.SpreadAtChange,
	).Scan(&e.ID, &e.CreatedAt)
}

// GetTradeHistoryEvents returns the audit trail for a trade, oldest first
func (r *Repository) GetTradeHistoryEvents(ctx context.Context, tradeID int64) ([]*TradeHistoryEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trade_id, event_type, old_value, new_value, reason, source,
			price_at_change, spread_at_change, created_at
		FROM trade_history_events WHERE trade_id = $1 ORDER BY created_at
	`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TradeHistoryEvent
	for rows.Next() {
		e := &TradeHistoryEvent{}
		if err := rows.Scan(&e.ID, &e.TradeID, &e.EventType, &e.OldValue, &e.NewValue,
			&e.Reason, &e.Source, &e.PriceAtChange, &e.SpreadAtChange, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
