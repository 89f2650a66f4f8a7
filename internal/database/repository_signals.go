package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// TRADING SIGNALS
// ============================================================================

const signalColumns = `id, symbol, timeframe, signal_type, confidence, entry_price,
	stop_loss, take_profit, indicator_snapshot, patterns, status, created_at, expires_at`

func scanSignal(row pgx.Row) (*TradingSignal, error) {
	s := &TradingSignal{}
	var snapshot, patterns []byte
	err := row.Scan(
		&s.ID, &s.Symbol, &s.Timeframe, &s.SignalType, &s.Confidence, &s.EntryPrice,
		&s.StopLoss, &s.TakeProfit, &snapshot, &patterns, &s.Status, &s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &s.IndicatorSnapshot)
	}
	if len(patterns) > 0 {
		_ = json.Unmarshal(patterns, &s.Patterns)
	}
	return s, nil
}

// CreateSignal expires any prior active signal for the (symbol, timeframe)
// and inserts the new one in a single transaction. The partial unique
// index arbitrates concurrent generators; the losing insert returns
// ErrDuplicateSignal.
func (r *Repository) CreateSignal(ctx context.Context, s *TradingSignal) error {
	snapshot, err := json.Marshal(s.IndicatorSnapshot)
	if err != nil {
		return fmt.Errorf("marshal indicator snapshot: %w", err)
	}
	patterns, err := json.Marshal(s.Patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE trading_signals SET status = 'expired'
		WHERE symbol = $1 AND timeframe = $2 AND status = 'active'
	`, s.Symbol, s.Timeframe)
	if err != nil {
		return fmt.Errorf("expire prior signals: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO trading_signals (symbol, timeframe, signal_type, confidence,
			entry_price, stop_loss, take_profit, indicator_snapshot, patterns, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10)
		RETURNING id, created_at
	`, s.Symbol, s.Timeframe, s.SignalType, s.Confidence,
		s.EntryPrice, s.StopLoss, s.TakeProfit, snapshot, patterns, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	s.Status = SignalStatusActive

	return tx.Commit(ctx)
}

// GetActiveSignals returns all signals currently in active status
func (r *Repository) GetActiveSignals(ctx context.Context) ([]*TradingSignal, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+signalColumns+` FROM trading_signals WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*TradingSignal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// GetSignalByID retrieves one signal
func (r *Repository) GetSignalByID(ctx context.Context, id int64) (*TradingSignal, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM trading_signals WHERE id = $1`, id)
	return scanSignal(row)
}

// UpdateSignalStatus transitions a signal to a terminal status. Only an
// active signal can move; repeated calls are no-ops.
func (r *Repository) UpdateSignalStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trading_signals SET status = $2
		WHERE id = $1 AND status = 'active'
	`, id, status)
	return err
}

// ExpireOverdueSignals marks active signals past their expiry. Returns
// rows changed.
func (r *Repository) ExpireOverdueSignals(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trading_signals SET status = 'expired'
		WHERE status = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// INDICATOR SCORES
// ============================================================================

// GetIndicatorScores returns all scores for a (symbol, timeframe), keyed
// by indicator name. Scores are global across accounts.
func (r *Repository) GetIndicatorScores(ctx context.Context, symbol, timeframe string) (map[string]*IndicatorScore, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, symbol, timeframe, indicator_name, win_rate, profit_factor, total_signals, last_updated
		FROM indicator_scores WHERE symbol = $1 AND timeframe = $2
	`, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]*IndicatorScore)
	for rows.Next() {
		s := &IndicatorScore{}
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Timeframe, &s.IndicatorName,
			&s.WinRate, &s.ProfitFactor, &s.TotalSignals, &s.LastUpdated); err != nil {
			return nil, err
		}
		scores[s.IndicatorName] = s
	}
	return scores, rows.Err()
}

// UpsertIndicatorScore records indicator performance after a trade closes
func (r *Repository) UpsertIndicatorScore(ctx context.Context, s *IndicatorScore) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO indicator_scores (symbol, timeframe, indicator_name, win_rate, profit_factor, total_signals, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (symbol, timeframe, indicator_name) DO UPDATE SET
			win_rate = EXCLUDED.win_rate,
			profit_factor = EXCLUDED.profit_factor,
			total_signals = EXCLUDED.total_signals,
			last_updated = NOW()
	`, s.Symbol, s.Timeframe, s.IndicatorName, s.WinRate, s.ProfitFactor, s.TotalSignals)
	return err
}
