// Package cache provides the Redis layer: the per-account command queue,
// command-response pub-sub, indicator result cache, SL cooldown keys and
// worker health metrics. Persistence stays the source of truth; everything
// here is rebuildable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"mt5-trading-backend/config"

	"github.com/redis/go-redis/v9"
)

// CacheService provides Redis access with graceful degradation. When Redis
// is unavailable, operations return errors that callers handle by falling
// back to database queries.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Key layouts
const (
	keyCommandQueue    = "account:%d:commands"    // list of JSON commands
	keyCommandResponse = "command:%s:response"    // pub-sub channel per command id
	keyIndicator       = "indicator:%s:%s:%s:%d"  // symbol, timeframe, name, candle bucket
	keySymbolCooldown  = "account:%d:cooldown:%s" // SL-hit cooldown, value = reason
	keyWorkerHealth    = "workers:health"         // hash worker -> JSON health record
)

// ErrUnavailable is returned when the degradation circuit is open.
var ErrUnavailable = fmt.Errorf("redis unavailable (circuit open)")

// NewCacheService creates a CacheService and verifies connectivity. A
// failed initial ping returns the service in degraded mode rather than an
// error; the queue recovers from the DB scan.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		config:        cfg,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed: %v", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	log.Printf("[CACHE] Redis connected at %s", cfg.Address)

	return cs, nil
}

// Close releases the Redis client
func (cs *CacheService) Close() error {
	return cs.client.Close()
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			log.Printf("[CACHE] Circuit OPEN: Redis marked unhealthy after %d failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		log.Printf("[CACHE] Circuit CLOSED: Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth performs a background re-ping once the check interval has
// passed while unhealthy.
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		} else {
			cs.mu.Lock()
			cs.lastCheck = time.Now()
			cs.mu.Unlock()
		}
	}()
}

func (cs *CacheService) guard() error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	return nil
}

// ============================================================================
// INDICATOR CACHE
// ============================================================================

// SetIndicatorResult caches one indicator's serialized result for a
// (symbol, timeframe, indicator, candle bucket) with a short TTL.
func (cs *CacheService) SetIndicatorResult(ctx context.Context, symbol, timeframe, indicator string, bucket int64, value interface{}, ttl time.Duration) error {
	if err := cs.guard(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal indicator result: %w", err)
	}
	key := fmt.Sprintf(keyIndicator, symbol, timeframe, indicator, bucket)
	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// GetIndicatorResult loads a cached indicator result into dest. Returns
// (false, nil) on a miss.
func (cs *CacheService) GetIndicatorResult(ctx context.Context, symbol, timeframe, indicator string, bucket int64, dest interface{}) (bool, error) {
	if err := cs.guard(); err != nil {
		return false, err
	}
	key := fmt.Sprintf(keyIndicator, symbol, timeframe, indicator, bucket)
	data, err := cs.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		cs.recordFailure()
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal indicator result: %w", err)
	}
	return true, nil
}

// ============================================================================
// SL-HIT COOLDOWNS
// ============================================================================

// SetSymbolCooldown pauses a symbol for the TTL window
func (cs *CacheService) SetSymbolCooldown(ctx context.Context, accountNumber int64, symbol, reason string, ttl time.Duration) error {
	if err := cs.guard(); err != nil {
		return err
	}
	key := fmt.Sprintf(keySymbolCooldown, accountNumber, symbol)
	if err := cs.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// GetSymbolCooldown returns (reason, true) while the cooldown is active
func (cs *CacheService) GetSymbolCooldown(ctx context.Context, accountNumber int64, symbol string) (string, bool, error) {
	if err := cs.guard(); err != nil {
		return "", false, err
	}
	key := fmt.Sprintf(keySymbolCooldown, accountNumber, symbol)
	reason, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		cs.recordFailure()
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()
	return reason, true, nil
}

// ============================================================================
// WORKER HEALTH
// ============================================================================

// WorkerHealth is the supervisor's per-worker record, kept in a Redis hash
// for external inspection.
type WorkerHealth struct {
	Name         string     `json:"name"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	ErrorCount   int        `json:"error_count"`
	SuccessCount int        `json:"success_count"`
	IsHealthy    bool       `json:"is_healthy"`
	LastError    string     `json:"last_error,omitempty"`
}

// SetWorkerHealth stores one worker's health record
func (cs *CacheService) SetWorkerHealth(ctx context.Context, h *WorkerHealth) error {
	if err := cs.guard(); err != nil {
		return err
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal worker health: %w", err)
	}
	if err := cs.client.HSet(ctx, keyWorkerHealth, h.Name, data).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis hset failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// GetWorkerHealthAll returns every worker's health record
func (cs *CacheService) GetWorkerHealthAll(ctx context.Context) (map[string]*WorkerHealth, error) {
	if err := cs.guard(); err != nil {
		return nil, err
	}
	raw, err := cs.client.HGetAll(ctx, keyWorkerHealth).Result()
	if err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	cs.recordSuccess()

	health := make(map[string]*WorkerHealth, len(raw))
	for name, data := range raw {
		h := &WorkerHealth{}
		if err := json.Unmarshal([]byte(data), h); err != nil {
			continue
		}
		health[name] = h
	}
	return health, nil
}
