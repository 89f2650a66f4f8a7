package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// TICKS
// ============================================================================

// InsertTickBatch writes a batch of ticks in one round trip. Duplicates on
// (symbol, tick_time) are skipped; the tick writer deduplicates within its
// buffer but overlapping flushes can still collide.
func (r *Repository) InsertTickBatch(ctx context.Context, ticks []*Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(`
			INSERT INTO ticks (symbol, bid, ask, spread, volume, tick_time)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (symbol, tick_time) DO NOTHING
		`, t.Symbol, t.Bid, t.Ask, t.Spread, t.Volume, t.TickTime)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range ticks {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("tick batch insert: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetLatestTick returns the most recent tick for a symbol
func (r *Repository) GetLatestTick(ctx context.Context, symbol string) (*Tick, error) {
	t := &Tick{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, symbol, bid, ask, spread, volume, tick_time
		FROM ticks WHERE symbol = $1
		ORDER BY tick_time DESC LIMIT 1
	`, symbol).Scan(&t.ID, &t.Symbol, &t.Bid, &t.Ask, &t.Spread, &t.Volume, &t.TickTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetAverageSpread returns the rolling average spread over the lookback
// window, used by the spread gate.
func (r *Repository) GetAverageSpread(ctx context.Context, symbol string, lookback time.Duration) (float64, error) {
	var avg *float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT AVG(spread) FROM ticks
		WHERE symbol = $1 AND tick_time > NOW() - $2::interval
	`, symbol, lookback.String()).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// GetTicksSince returns a symbol's ticks newer than since, ascending by
// time. Feeds the M1 aggregator.
func (r *Repository) GetTicksSince(ctx context.Context, symbol string, since time.Time) ([]*Tick, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, symbol, bid, ask, spread, volume, tick_time
		FROM ticks WHERE symbol = $1 AND tick_time >= $2
		ORDER BY tick_time ASC
	`, symbol, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []*Tick
	for rows.Next() {
		t := &Tick{}
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Bid, &t.Ask, &t.Spread, &t.Volume, &t.TickTime); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// DeleteTicksBefore removes ticks older than the cutoff. Returns rows
// deleted.
func (r *Repository) DeleteTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM ticks WHERE tick_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// OHLC CANDLES
// ============================================================================

// InsertCandleBatch writes a batch of candles, skipping duplicates on the
// unique (symbol, timeframe, candle_time) constraint. Returns (imported,
// skipped).
func (r *Repository) InsertCandleBatch(ctx context.Context, candles []*OHLCCandle) (int, int, error) {
	if len(candles) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO ohlc_candles (symbol, timeframe, open, high, low, close, volume, candle_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, timeframe, candle_time) DO NOTHING
		`, c.Symbol, c.Timeframe, c.Open, c.High, c.Low, c.Close, c.Volume, c.CandleTime)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	imported := 0
	for range candles {
		tag, err := br.Exec()
		if err != nil {
			return imported, 0, fmt.Errorf("candle batch insert: %w", err)
		}
		imported += int(tag.RowsAffected())
	}
	return imported, len(candles) - imported, nil
}

// UpsertCandle inserts or replaces a single candle. Callers always submit
// a bar recomputed from the full tick set of its minute, so the conflict
// path replaces every field; accumulating here would double-count ticks
// on overlapping aggregation sweeps.
func (r *Repository) UpsertCandle(ctx context.Context, c *OHLCCandle) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO ohlc_candles (symbol, timeframe, open, high, low, close, volume, candle_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, candle_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`, c.Symbol, c.Timeframe, c.Open, c.High, c.Low, c.Close, c.Volume, c.CandleTime)
	return err
}

// GetCandles returns the most recent candles for (symbol, timeframe) in
// chronological order.
func (r *Repository) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*OHLCCandle, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, symbol, timeframe, open, high, low, close, volume, candle_time
		FROM (
			SELECT id, symbol, timeframe, open, high, low, close, volume, candle_time
			FROM ohlc_candles
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY candle_time DESC
			LIMIT $3
		) recent
		ORDER BY candle_time ASC
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*OHLCCandle
	for rows.Next() {
		c := &OHLCCandle{}
		if err := rows.Scan(&c.ID, &c.Symbol, &c.Timeframe, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CandleTime); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// DeleteCandlesBefore removes candles of one timeframe older than the
// cutoff.
func (r *Repository) DeleteCandlesBefore(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM ohlc_candles WHERE timeframe = $1 AND candle_time < $2`, timeframe, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
