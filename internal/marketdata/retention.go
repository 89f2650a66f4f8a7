package marketdata

import (
	"context"
	"time"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// RETENTION
// ============================================================================

// RetentionPolicy maps each timeframe to how long its candles are kept.
// Short timeframes exist only to feed indicators; long ones back the
// higher-timeframe confluence checks.
var RetentionPolicy = map[string]time.Duration{
	database.TimeframeM1:  2 * 24 * time.Hour,
	database.TimeframeM5:  2 * 24 * time.Hour,
	database.TimeframeM15: 3 * 24 * time.Hour,
	database.TimeframeM30: 3 * 24 * time.Hour,
	database.TimeframeH1:  7 * 24 * time.Hour,
	database.TimeframeH4:  14 * 24 * time.Hour,
	database.TimeframeD1:  30 * 24 * time.Hour,
}

// SweepRetention deletes ticks and candles past their retention window.
// Returns total rows removed.
func (s *Service) SweepRetention(ctx context.Context, tickRetention time.Duration, now time.Time) (int64, error) {
	var total int64

	deleted, err := s.repo.DeleteTicksBefore(ctx, now.Add(-tickRetention))
	if err != nil {
		return total, err
	}
	total += deleted

	for _, tf := range database.Timeframes {
		keep, ok := RetentionPolicy[tf]
		if !ok {
			continue
		}
		deleted, err := s.repo.DeleteCandlesBefore(ctx, tf, now.Add(-keep))
		if err != nil {
			return total, err
		}
		total += deleted
	}

	if total > 0 {
		s.logger.Info("Retention sweep removed rows", "rows", total)
	}
	return total, nil
}
