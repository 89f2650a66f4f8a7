package marketdata

import (
	"context"
	"time"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// M1 AGGREGATION
// ============================================================================

// AggregateM1 builds M1 candles from raw ticks for one symbol over the
// window ending at now. Bid prices form the bar; tick count becomes
// volume. The still-open minute is written as a forming bar and corrected
// on the next pass.
func (s *Service) AggregateM1(ctx context.Context, symbol string, window time.Duration, now time.Time) (int, error) {
	since := now.Add(-window).Truncate(time.Minute)
	ticks, err := s.repo.GetTicksSince(ctx, symbol, since)
	if err != nil {
		return 0, err
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	candles := buildM1Candles(symbol, ticks)
	written := 0
	for _, c := range candles {
		if err := s.repo.UpsertCandle(ctx, c); err != nil {
			s.logger.Error("M1 upsert failed", "symbol", symbol, "candle_time", c.CandleTime, "error", err)
			continue
		}
		written++
	}
	return written, nil
}

// buildM1Candles folds ticks (ascending by time) into minute bars
func buildM1Candles(symbol string, ticks []*database.Tick) []*database.OHLCCandle {
	var candles []*database.OHLCCandle
	var current *database.OHLCCandle

	for _, t := range ticks {
		minute := t.TickTime.Truncate(time.Minute)
		if current == nil || !current.CandleTime.Equal(minute) {
			current = &database.OHLCCandle{
				Symbol:     symbol,
				Timeframe:  database.TimeframeM1,
				Open:       t.Bid,
				High:       t.Bid,
				Low:        t.Bid,
				Close:      t.Bid,
				Volume:     0,
				CandleTime: minute,
			}
			candles = append(candles, current)
		}
		if t.Bid > current.High {
			current.High = t.Bid
		}
		if t.Bid < current.Low {
			current.Low = t.Bid
		}
		current.Close = t.Bid
		current.Volume++
	}
	return candles
}
