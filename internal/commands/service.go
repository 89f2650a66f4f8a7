// Package commands owns the command lifecycle: creation with
// client-generated UUIDs, queue delivery, response handling, timeout
// sweeping and queue recovery after cache loss.
package commands

import (
	"context"
	"time"

	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/logging"

	"github.com/google/uuid"
)

// Service coordinates the durable command store and the Redis delivery
// queue. The DB row is the source of truth; the queue only accelerates
// delivery.
type Service struct {
	repo   *database.Repository
	cache  *cache.CacheService
	bus    *events.EventBus
	logger *logging.Logger
}

// NewService creates the command service
func NewService(repo *database.Repository, cacheSvc *cache.CacheService, bus *events.EventBus, logger *logging.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cacheSvc,
		bus:    bus,
		logger: logger.WithComponent("commands"),
	}
}

// Create persists a new command and enqueues it for delivery. The UUID is
// generated here, never by the database.
func (s *Service) Create(ctx context.Context, accountNumber int64, commandType string, payload map[string]interface{}) (*database.Command, error) {
	cmd := &database.Command{
		ID:            uuid.New().String(),
		AccountNumber: accountNumber,
		CommandType:   commandType,
		Payload:       payload,
		Status:        database.CommandStatusPending,
	}
	if err := s.repo.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	// Queue failures are non-fatal; the next get_commands DB scan will
	// deliver it.
	if s.cache != nil {
		if err := s.cache.EnqueueCommand(ctx, accountNumber, cmd); err != nil && err != cache.ErrUnavailable {
			s.logger.Warn("Command enqueue failed, DB scan will deliver",
				"command_id", cmd.ID, "error", err)
		}
	}

	logging.CommandContext(cmd.ID, commandType, accountNumber).Info("Command created")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventCommandCreated,
			Data: map[string]interface{}{
				"command_id":     cmd.ID,
				"command_type":   commandType,
				"account_number": accountNumber,
			},
		})
	}
	return cmd, nil
}

// Fetch delivers up to limit pending commands for an account, marking
// them sent. The Redis queue is drained opportunistically but the DB
// transition is what counts.
func (s *Service) Fetch(ctx context.Context, accountNumber int64, limit int) ([]*database.Command, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	// Drain the accelerator queue; entries there are duplicates of DB rows
	// and the status transition below is idempotent per command.
	if s.cache != nil {
		_, _ = s.cache.PopCommands(ctx, accountNumber, limit)
	}

	return s.repo.FetchPendingCommands(ctx, accountNumber, limit)
}

// HandleResponse records a terminal's command outcome. Repeated responses
// for the same command are no-ops. Returns the command when the row
// changed.
func (s *Service) HandleResponse(ctx context.Context, commandID string, success bool, response map[string]interface{}) (*database.Command, bool, error) {
	changed, err := s.repo.CompleteCommand(ctx, commandID, success, response)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return nil, false, nil
	}

	cmd, err := s.repo.GetCommandByID(ctx, commandID)
	if err != nil {
		return nil, true, err
	}

	if s.cache != nil {
		_ = s.cache.PublishCommandResponse(ctx, commandID, response)
	}

	eventType := events.EventCommandCompleted
	if !success {
		eventType = events.EventCommandFailed
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: eventType,
			Data: map[string]interface{}{
				"command_id":     commandID,
				"command_type":   cmd.CommandType,
				"account_number": cmd.AccountNumber,
				"success":        success,
			},
		})
	}
	return cmd, true, nil
}

// SweepOverdue fails commands that outlived the timeout and returns them
// for circuit-breaker accounting.
func (s *Service) SweepOverdue(ctx context.Context, timeout time.Duration) ([]*database.Command, error) {
	failed, err := s.repo.FailOverdueCommands(ctx, timeout)
	if err != nil {
		return nil, err
	}
	for _, cmd := range failed {
		logging.CommandContext(cmd.ID, cmd.CommandType, cmd.AccountNumber).Warn("Command timed out")
		if s.bus != nil {
			s.bus.Publish(events.Event{
				Type: events.EventCommandFailed,
				Data: map[string]interface{}{
					"command_id":     cmd.ID,
					"command_type":   cmd.CommandType,
					"account_number": cmd.AccountNumber,
					"reason":         "timeout",
				},
			})
		}
	}
	return failed, nil
}

// RecoverQueue rebuilds an account's Redis queue from incomplete DB rows.
// Called after a cache restart or on terminal reconnect.
func (s *Service) RecoverQueue(ctx context.Context, accountNumber int64) (int, error) {
	incomplete, err := s.repo.GetIncompleteCommands(ctx, accountNumber)
	if err != nil {
		return 0, err
	}
	if len(incomplete) == 0 || s.cache == nil {
		return 0, nil
	}

	if err := s.cache.ClearQueue(ctx, accountNumber); err != nil && err != cache.ErrUnavailable {
		return 0, err
	}
	recovered := 0
	for _, cmd := range incomplete {
		if cmd.Status != database.CommandStatusPending {
			continue
		}
		if err := s.cache.EnqueueCommand(ctx, accountNumber, cmd); err != nil {
			break
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("Command queue recovered", "account", accountNumber, "commands", recovered)
	}
	return recovered, nil
}
