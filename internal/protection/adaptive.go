package protection

import (
	"context"
	"fmt"
	"time"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
)

// ============================================================================
// ADAPTIVE SYMBOL CONFIG
// ============================================================================

const (
	minConfidenceFloor   = 45.0
	minConfidenceCeiling = 80.0
	riskMultiplierFloor  = 0.1
	riskMultiplierCap    = 2.0
	rollingWindow        = 20
	pauseWindow          = 24 * time.Hour
)

// updateSymbolConfig applies the post-close learning rules to the
// (account, symbol) adaptive profile.
func (m *Manager) updateSymbolConfig(ctx context.Context, trade *database.Trade, regime string) error {
	cfg, err := m.repo.EnsureSymbolConfig(ctx, trade.AccountNumber, trade.Symbol)
	if err != nil {
		return err
	}

	won := trade.Profit > 0

	// Streak bookkeeping
	if won {
		cfg.ConsecutiveWins++
		cfg.ConsecutiveLosses = 0
	} else {
		cfg.ConsecutiveLosses++
		cfg.ConsecutiveWins = 0
	}
	cfg.TradesCounted++
	cfg.RollingProfit += trade.Profit

	// Rolling win rate over the recent window.
	recent, err := m.repo.GetRecentClosedTrades(ctx, trade.AccountNumber, trade.Symbol, rollingWindow)
	if err == nil && len(recent) > 0 {
		wins := 0
		for _, t := range recent {
			if t.Profit > 0 {
				wins++
			}
		}
		cfg.RollingWinrate = float64(wins) / float64(len(recent)) * 100
	}

	// Regime-split win rates feed regime preference learning.
	if regime != "" {
		m.updateRegimeStats(cfg, regime, won)
	}

	// Confidence threshold: losses raise the bar fast, wins lower it
	// slowly.
	if won {
		cfg.MinConfidenceThreshold -= 1
		if cfg.RollingWinrate > 65 {
			cfg.MinConfidenceThreshold -= 2
		}
	} else {
		cfg.MinConfidenceThreshold += 5
		if cfg.RollingWinrate < 40 {
			cfg.MinConfidenceThreshold += 5
		}
	}
	cfg.MinConfidenceThreshold = clamp(cfg.MinConfidenceThreshold, minConfidenceFloor, minConfidenceCeiling)

	// Risk multiplier follows streaks.
	if won && cfg.ConsecutiveWins >= 3 {
		cfg.RiskMultiplier += 0.05
	}
	if !won && cfg.ConsecutiveLosses >= 2 {
		cfg.RiskMultiplier -= 0.10
	}
	cfg.RiskMultiplier = clamp(cfg.RiskMultiplier, riskMultiplierFloor, riskMultiplierCap)

	// Preferred regime once the split is statistically meaningful.
	if cfg.TradesCounted >= 20 {
		diff := cfg.WinrateTrending - cfg.WinrateRanging
		if diff > 10 {
			preferred := "TRENDING"
			cfg.PreferredRegime = &preferred
		} else if diff < -10 {
			preferred := "RANGING"
			cfg.PreferredRegime = &preferred
		}
	}

	if err := m.repo.SaveSymbolConfig(ctx, cfg); err != nil {
		return err
	}

	// Auto-pause on a losing run or collapsed win rate.
	shouldPause := cfg.ConsecutiveLosses >= 3 ||
		(cfg.TradesCounted >= 10 && cfg.RollingWinrate < 40)
	if shouldPause && cfg.Status == database.SymbolStatusActive {
		reason := fmt.Sprintf("auto-pause: %d consecutive losses, rolling WR %.0f%%",
			cfg.ConsecutiveLosses, cfg.RollingWinrate)
		if err := m.repo.PauseSymbol(ctx, trade.AccountNumber, trade.Symbol, reason); err != nil {
			return err
		}
		m.logDecision(ctx, trade.AccountNumber, database.DecisionTypeSymbolDisable, trade.Symbol, reason, database.ImpactMedium)
		m.logger.Warn("Symbol auto-paused", "account", trade.AccountNumber, "symbol", trade.Symbol, "reason", reason)
		if m.bus != nil {
			m.bus.Publish(events.Event{
				Type: events.EventSymbolPaused,
				Data: map[string]interface{}{
					"account_number": trade.AccountNumber,
					"symbol":         trade.Symbol,
					"reason":         reason,
				},
			})
		}
	}
	return nil
}

// updateRegimeStats folds one outcome into the per-regime win rates using
// an incremental average.
func (m *Manager) updateRegimeStats(cfg *database.SymbolTradingConfig, regime string, won bool) {
	outcome := 0.0
	if won {
		outcome = 100.0
	}
	switch regime {
	case "TRENDING":
		cfg.TrendingTrades++
		cfg.WinrateTrending += (outcome - cfg.WinrateTrending) / float64(cfg.TrendingTrades)
	case "RANGING":
		cfg.RangingTrades++
		cfg.WinrateRanging += (outcome - cfg.WinrateRanging) / float64(cfg.RangingTrades)
	}
}

// ResumeExpiredPauses reactivates symbols whose pause window elapsed.
// Returns how many resumed.
func (m *Manager) ResumeExpiredPauses(ctx context.Context) (int64, error) {
	resumed, err := m.repo.ResumePausedSymbols(ctx, time.Now().UTC().Add(-pauseWindow))
	if err != nil {
		return 0, err
	}
	if resumed > 0 {
		m.logger.Info("Paused symbols resumed", "count", resumed)
		if m.bus != nil {
			m.bus.Publish(events.Event{
				Type: events.EventSymbolResumed,
				Data: map[string]interface{}{"count": resumed},
			})
		}
	}
	return resumed, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
