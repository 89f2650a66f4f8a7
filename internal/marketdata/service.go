// Package marketdata owns tick and candle ingestion: buffered tick
// writes, broker-time conversion, M1 aggregation from ticks and the
// retention sweeper.
package marketdata

import (
	"context"
	"sync"
	"time"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/logging"
)

const (
	tickFlushInterval = 1 * time.Second
	tickBufferShards  = 16
	maxBufferedTicks  = 5000 // per shard, hard cap against a stuck DB
)

// Service ingests market data. Ticks are buffered in memory and flushed in
// batches; candles go straight to the repository.
type Service struct {
	repo   *database.Repository
	logger *logging.Logger

	shards [tickBufferShards]tickShard

	flushWG   sync.WaitGroup
	stopFlush context.CancelFunc
}

type tickShard struct {
	mu    sync.Mutex
	ticks []*database.Tick
}

// NewService creates the market data service
func NewService(repo *database.Repository, logger *logging.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.WithComponent("marketdata"),
	}
}

func shardFor(symbol string) int {
	h := 0
	for i := 0; i < len(symbol); i++ {
		h = h*31 + int(symbol[i])
	}
	if h < 0 {
		h = -h
	}
	return h % tickBufferShards
}

// BufferTick queues one tick for the next batch flush. Drops the tick when
// the shard is at capacity; losing a quote beats blocking the ingress path.
func (s *Service) BufferTick(tick *database.Tick) {
	shard := &s.shards[shardFor(tick.Symbol)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if len(shard.ticks) >= maxBufferedTicks {
		s.logger.Warn("Tick buffer full, dropping tick", "symbol", tick.Symbol)
		return
	}
	shard.ticks = append(shard.ticks, tick)
}

// BufferTicks queues a batch of ticks
func (s *Service) BufferTicks(ticks []*database.Tick) {
	for _, t := range ticks {
		s.BufferTick(t)
	}
}

// Start launches the periodic flush loop
func (s *Service) Start(ctx context.Context) {
	flushCtx, cancel := context.WithCancel(ctx)
	s.stopFlush = cancel

	s.flushWG.Add(1)
	go func() {
		defer s.flushWG.Done()
		ticker := time.NewTicker(tickFlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-flushCtx.Done():
				// Final drain so a clean shutdown loses nothing.
				s.FlushTicks(context.Background())
				return
			case <-ticker.C:
				s.FlushTicks(flushCtx)
			}
		}
	}()

	s.logger.Info("Market data service started", "flush_interval", tickFlushInterval.String())
}

// Stop drains the buffer and stops the flush loop
func (s *Service) Stop() {
	if s.stopFlush != nil {
		s.stopFlush()
	}
	s.flushWG.Wait()
}

// FlushTicks writes all buffered ticks to the database in one batch.
// Returns how many rows were actually inserted (duplicates skip silently).
func (s *Service) FlushTicks(ctx context.Context) int {
	var batch []*database.Tick
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		if len(shard.ticks) > 0 {
			batch = append(batch, shard.ticks...)
			shard.ticks = nil
		}
		shard.mu.Unlock()
	}
	if len(batch) == 0 {
		return 0
	}

	inserted, err := s.repo.InsertTickBatch(ctx, batch)
	if err != nil {
		s.logger.Error("Tick flush failed", "count", len(batch), "error", err)
		// Re-buffer so a transient DB hiccup does not lose the window.
		s.BufferTicks(batch)
		return 0
	}
	return inserted
}

// LatestTick returns the most recent tick for a symbol
func (s *Service) LatestTick(ctx context.Context, symbol string) (*database.Tick, error) {
	return s.repo.GetLatestTick(ctx, symbol)
}

// IsTickStale reports whether a symbol's latest tick is older than maxAge.
// A missing tick counts as stale.
func (s *Service) IsTickStale(ctx context.Context, symbol string, maxAge time.Duration) (bool, error) {
	tick, err := s.repo.GetLatestTick(ctx, symbol)
	if err != nil {
		if err == database.ErrNotFound {
			return true, nil
		}
		return true, err
	}
	return time.Since(tick.TickTime) > maxAge, nil
}

// AverageSpread returns the mean spread over the window
func (s *Service) AverageSpread(ctx context.Context, symbol string, window time.Duration) (float64, error) {
	return s.repo.GetAverageSpread(ctx, symbol, window)
}

// ImportCandles bulk-imports closed historical candles. Duplicate
// (symbol, timeframe, candle_time) rows are skipped, making re-imports
// idempotent.
func (s *Service) ImportCandles(ctx context.Context, candles []*database.OHLCCandle) (imported, skipped int, err error) {
	return s.repo.InsertCandleBatch(ctx, candles)
}

// UpsertFormingCandle rewrites a still-forming bar. The caller recomputes
// the bar from all of its minute's ticks, so the stored row is replaced
// outright.
func (s *Service) UpsertFormingCandle(ctx context.Context, candle *database.OHLCCandle) error {
	return s.repo.UpsertCandle(ctx, candle)
}

// GetCandles returns up to limit most recent candles, oldest first
func (s *Service) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*database.OHLCCandle, error) {
	return s.repo.GetCandles(ctx, symbol, timeframe, limit)
}
