// Package registry tracks which MT5 terminals are live: last heartbeat,
// last tick, and a derived health score. The watchdog flips connection
// state and pauses auto-trading when a terminal goes quiet.
package registry

import (
	"context"
	"os"
	"sync"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/marketdata"

	"github.com/rs/zerolog"
)

// ConnectionInfo is the live view of one terminal
type ConnectionInfo struct {
	AccountNumber int64     `json:"account_number"`
	Broker        string    `json:"broker"`
	Connected     bool      `json:"connected"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastTick      time.Time `json:"last_tick"`
	HealthScore   int       `json:"health_score"` // 0-100
	Disconnects   int       `json:"disconnects"`
}

// Registry is the shared connection table. Reads vastly outnumber writes;
// a RWMutex is enough.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*ConnectionInfo

	repo   *database.Repository
	bus    *events.EventBus
	timing config.TimingConfig
	log    zerolog.Logger
}

// NewRegistry creates the connection registry
func NewRegistry(repo *database.Repository, bus *events.EventBus, timing config.TimingConfig) *Registry {
	return &Registry{
		conns:  make(map[int64]*ConnectionInfo),
		repo:   repo,
		bus:    bus,
		timing: timing,
		log:    zerolog.New(os.Stdout).With().Timestamp().Str("component", "registry").Logger(),
	}
}

// MarkConnected records a terminal connect (from /api/connect)
func (r *Registry) MarkConnected(accountNumber int64, broker string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[accountNumber]
	if !ok {
		info = &ConnectionInfo{AccountNumber: accountNumber}
		r.conns[accountNumber] = info
	}
	wasDown := !info.Connected && ok
	info.Broker = broker
	info.Connected = true
	info.ConnectedAt = time.Now().UTC()
	info.LastHeartbeat = info.ConnectedAt

	r.log.Info().Int64("account", accountNumber).Str("broker", broker).Msg("terminal connected")
	if wasDown && r.bus != nil {
		r.bus.PublishConnectionChange(events.EventMT5Reconnected, accountNumber, "connect after disconnect")
	}
}

// Heartbeat records a heartbeat arrival
func (r *Registry) Heartbeat(accountNumber int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[accountNumber]
	if !ok {
		info = &ConnectionInfo{AccountNumber: accountNumber, ConnectedAt: time.Now().UTC()}
		r.conns[accountNumber] = info
	}
	reconnected := !info.Connected && ok
	info.Connected = true
	info.LastHeartbeat = time.Now().UTC()

	if reconnected {
		r.log.Info().Int64("account", accountNumber).Msg("terminal recovered via heartbeat")
		if r.bus != nil {
			r.bus.PublishConnectionChange(events.EventMT5Reconnected, accountNumber, "heartbeat resumed")
		}
	}
}

// TickSeen records tick flow for an account's terminal
func (r *Registry) TickSeen(accountNumber int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.conns[accountNumber]; ok {
		info.LastTick = time.Now().UTC()
	}
}

// IsConnected reports whether the terminal's heartbeat is fresh
func (r *Registry) IsConnected(accountNumber int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.conns[accountNumber]
	if !ok || !info.Connected {
		return false
	}
	window := time.Duration(r.timing.HeartbeatLost) * time.Second
	return time.Since(info.LastHeartbeat) <= window
}

// Snapshot returns a copy of all connection records
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, info := range r.conns {
		copy := *info
		copy.HealthScore = r.healthScoreLocked(info)
		out = append(out, copy)
	}
	return out
}

// healthScoreLocked derives 0-100 from heartbeat and tick freshness.
// Caller holds at least a read lock.
func (r *Registry) healthScoreLocked(info *ConnectionInfo) int {
	if !info.Connected {
		return 0
	}
	score := 100

	hbAge := time.Since(info.LastHeartbeat)
	hbWindow := time.Duration(r.timing.HeartbeatLost) * time.Second
	if hbWindow > 0 && hbAge > hbWindow/2 {
		score -= 40
	}

	tickWindow := time.Duration(r.timing.TickStale) * time.Second
	if tickWindow > 0 && !info.LastTick.IsZero() && time.Since(info.LastTick) > tickWindow {
		score -= 30
	}
	if info.Disconnects > 3 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Watchdog scans for silent terminals and flips their state. Meant to run
// as a supervised worker every few seconds.
func (r *Registry) Watchdog(ctx context.Context) error {
	hbWindow := time.Duration(r.timing.HeartbeatLost) * time.Second
	tickWindow := time.Duration(r.timing.TickStale) * time.Second
	now := time.Now().UTC()

	r.mu.Lock()
	var lost []int64
	for account, info := range r.conns {
		if !info.Connected {
			continue
		}
		if now.Sub(info.LastHeartbeat) > hbWindow {
			info.Connected = false
			info.Disconnects++
			lost = append(lost, account)
			continue
		}
		if tickFlowStale(info, now, tickWindow) {
			// Tick flow stopped while the heartbeat survives: degraded, not
			// disconnected.
			r.log.Warn().Int64("account", account).
				Dur("tick_age", now.Sub(info.LastTick)).
				Msg("tick flow stale while heartbeat alive")
		}
	}
	r.mu.Unlock()

	for _, account := range lost {
		r.log.Warn().Int64("account", account).Msg("terminal heartbeat lost, auto-trading paused")
		if r.bus != nil {
			r.bus.PublishConnectionChange(events.EventMT5Disconnected, account, "heartbeat timeout")
		}
		err := r.repo.LogDecision(ctx, &database.AIDecisionLog{
			AccountNumber: account,
			DecisionType:  database.DecisionTypeMT5Disconnect,
			Decision:      database.DecisionRejected,
			PrimaryReason: "terminal heartbeat timeout",
			ImpactLevel:   database.ImpactHigh,
		})
		if err != nil {
			r.log.Error().Err(err).Int64("account", account).Msg("decision log write failed")
		}
	}
	return nil
}

// tickFlowStale reports a degraded terminal: tick flow stopped past the
// window while the market is open. Quiet ticks over the weekend are
// normal, not a fault.
func tickFlowStale(info *ConnectionInfo, now time.Time, window time.Duration) bool {
	if window <= 0 || info.LastTick.IsZero() {
		return false
	}
	if now.Sub(info.LastTick) <= window {
		return false
	}
	return marketdata.DetectSession(now) != marketdata.SessionClosed
}

// reconnectAudit builds the decision-log row for a restored terminal
func reconnectAudit(accountNumber int64, reason string) *database.AIDecisionLog {
	return &database.AIDecisionLog{
		AccountNumber: accountNumber,
		DecisionType:  database.DecisionTypeMT5Reconnect,
		Decision:      database.DecisionApproved,
		PrimaryReason: "terminal restored: " + reason,
		ImpactLevel:   database.ImpactMedium,
	}
}

// WireReconnectAudit subscribes the decision-log writer for connection
// restores. The write runs on the bus goroutine, off the ingress paths
// that publish while holding the registry lock.
func (r *Registry) WireReconnectAudit() {
	if r.bus == nil {
		return
	}
	r.bus.Subscribe(events.EventMT5Reconnected, func(ev events.Event) {
		account, _ := ev.Data["account_number"].(int64)
		reason, _ := ev.Data["reason"].(string)
		if err := r.repo.LogDecision(context.Background(), reconnectAudit(account, reason)); err != nil {
			r.log.Error().Err(err).Int64("account", account).Msg("reconnect audit write failed")
		}
	})
}
