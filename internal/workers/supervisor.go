// Package workers runs the periodic tasks (signal generation, decision
// pipeline, sweepers, watchdog) as supervised loops with per-worker health
// accounting, error backoff and panic recovery.
package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/logging"
)

const (
	backoffPerError = 60 * time.Second
	backoffMax      = 5 * time.Minute
)

// Task is one periodic unit of work
type Task func(ctx context.Context) error

// Worker is a registered periodic task with its schedule
type Worker struct {
	Name     string
	Interval time.Duration
	Run      Task

	mu           sync.Mutex
	lastRun      time.Time
	lastSuccess  time.Time
	lastError    string
	errorCount   int
	successCount int
}

// Health is a point-in-time copy of a worker's counters
type Health struct {
	Name         string     `json:"name"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	ErrorCount   int        `json:"error_count"`
	SuccessCount int        `json:"success_count"`
	IsHealthy    bool       `json:"is_healthy"`
}

func (w *Worker) health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := Health{
		Name:         w.Name,
		LastError:    w.lastError,
		ErrorCount:   w.errorCount,
		SuccessCount: w.successCount,
		// Healthy means the last attempt succeeded, or nothing ran yet.
		IsHealthy: w.errorCount == 0 || w.lastSuccess.After(w.lastRun.Add(-w.Interval)),
	}
	if !w.lastRun.IsZero() {
		t := w.lastRun
		h.LastRun = &t
	}
	if !w.lastSuccess.IsZero() {
		t := w.lastSuccess
		h.LastSuccess = &t
	}
	return h
}

// Supervisor owns the worker set
type Supervisor struct {
	cache   *cache.CacheService
	logger  *logging.Logger
	workers []*Worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewSupervisor creates an empty supervisor
func NewSupervisor(cacheSvc *cache.CacheService, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		cache:  cacheSvc,
		logger: logger.WithComponent("workers"),
	}
}

// Register adds a worker. Must be called before Start.
func (s *Supervisor) Register(name string, interval time.Duration, task Task) {
	s.workers = append(s.workers, &Worker{Name: name, Interval: interval, Run: task})
}

// Start launches every registered worker
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, w := range s.workers {
		s.wg.Add(1)
		go s.supervise(runCtx, w)
	}
	s.logger.Info("Worker supervisor started", "workers", len(s.workers))
}

// Shutdown stops all workers and waits for in-flight iterations
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("All workers stopped")
}

// HealthSnapshot returns every worker's current health
func (s *Supervisor) HealthSnapshot() []Health {
	out := make([]Health, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.health())
	}
	return out
}

// supervise is the parent loop for one worker: run, record, back off on
// errors, recover from panics, repeat until shutdown.
func (s *Supervisor) supervise(ctx context.Context, w *Worker) {
	defer s.wg.Done()
	log := logging.WorkerContext(w.Name)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.runOnce(ctx, w)

		w.mu.Lock()
		w.lastRun = time.Now().UTC()
		if err != nil {
			w.errorCount++
			w.lastError = err.Error()
		} else {
			w.successCount++
			w.errorCount = 0
			w.lastError = ""
			w.lastSuccess = w.lastRun
		}
		errors := w.errorCount
		w.mu.Unlock()

		s.publishHealth(ctx, w)

		wait := w.Interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Worker iteration failed", "error", err, "consecutive_errors", errors)
			backoff := time.Duration(errors) * backoffPerError
			if backoff > backoffMax {
				backoff = backoffMax
			}
			if backoff > wait {
				wait = backoff
			}
		}

		// Shutdown latency stays under a second regardless of interval.
		deadline := time.Now().Add(wait)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// runOnce executes the task with panic containment
func (s *Supervisor) runOnce(ctx context.Context, w *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}

// publishHealth mirrors the worker record into the cache for external
// inspection; failures are ignored, health reporting must never take a
// worker down.
func (s *Supervisor) publishHealth(ctx context.Context, w *Worker) {
	if s.cache == nil {
		return
	}
	h := w.health()
	_ = s.cache.SetWorkerHealth(ctx, &cache.WorkerHealth{
		Name:         h.Name,
		LastRun:      h.LastRun,
		LastSuccess:  h.LastSuccess,
		ErrorCount:   h.ErrorCount,
		SuccessCount: h.SuccessCount,
		IsHealthy:    h.IsHealthy,
		LastError:    h.LastError,
	})
}
