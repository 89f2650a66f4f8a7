package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// COMMANDS
// ============================================================================

const commandColumns = `id, account_number, command_type, payload, status, response, created_at, executed_at`

func scanCommand(row pgx.Row) (*Command, error) {
	c := &Command{}
	var payload, response []byte
	err := row.Scan(&c.ID, &c.AccountNumber, &c.CommandType, &payload, &c.Status, &response, &c.CreatedAt, &c.ExecutedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &c.Payload)
	}
	if len(response) > 0 {
		_ = json.Unmarshal(response, &c.Response)
	}
	return c, nil
}

// CreateCommand inserts a new command in pending status. The caller must
// have set a UUID id.
func (r *Repository) CreateCommand(ctx context.Context, c *Command) error {
	if c.ID == "" {
		return fmt.Errorf("command id must be set before insert")
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}
	if c.Status == "" {
		c.Status = CommandStatusPending
	}
	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO commands (id, account_number, command_type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.AccountNumber, c.CommandType, payload, c.Status).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// GetCommandByID retrieves one command
func (r *Repository) GetCommandByID(ctx context.Context, id string) (*Command, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id)
	return scanCommand(row)
}

// FetchPendingCommands atomically transitions up to limit pending commands
// to sent and returns them, oldest first. This is the DB half of
// /api/get_commands; the Redis queue is only an accelerator.
func (r *Repository) FetchPendingCommands(ctx context.Context, accountNumber int64, limit int) ([]*Command, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE commands SET status = 'sent'
		WHERE id IN (
			SELECT id FROM commands
			WHERE account_number = $1 AND status = 'pending'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+commandColumns+`
	`, accountNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// CompleteCommand records the terminal's outcome for a sent command.
// Status transitions are monotonic: only a pending/sent command moves to
// completed/failed, so a repeated response is a no-op. Returns true when
// the row changed.
func (r *Repository) CompleteCommand(ctx context.Context, id string, success bool, response map[string]interface{}) (bool, error) {
	status := CommandStatusCompleted
	if !success {
		status = CommandStatusFailed
	}
	resp, err := json.Marshal(response)
	if err != nil {
		return false, fmt.Errorf("marshal command response: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE commands SET status = $2, response = $3, executed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'sent')
	`, id, status, resp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailOverdueCommands marks commands older than timeout and still not
// completed as failed. Returns the commands it failed so the circuit
// breaker can count them.
func (r *Repository) FailOverdueCommands(ctx context.Context, timeout time.Duration) ([]*Command, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE commands SET status = 'failed',
			response = jsonb_build_object('error', 'command timeout'),
			executed_at = NOW()
		WHERE status IN ('pending', 'sent') AND created_at < NOW() - $1::interval
		RETURNING `+commandColumns+`
	`, timeout.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// GetIncompleteCommands returns pending/sent commands for queue recovery
// after a cache loss.
func (r *Repository) GetIncompleteCommands(ctx context.Context, accountNumber int64) ([]*Command, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE account_number = $1 AND status IN ('pending', 'sent')
		ORDER BY created_at
	`, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// FindOpenCommandByTicket locates the completed OPEN_TRADE command whose
// response carried the given ticket, for linking trades back to commands.
func (r *Repository) FindOpenCommandByTicket(ctx context.Context, accountNumber, ticket int64) (*Command, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE account_number = $1 AND command_type = 'OPEN_TRADE'
		  AND (response->>'ticket')::bigint = $2
		ORDER BY created_at DESC LIMIT 1
	`, accountNumber, ticket)
	return scanCommand(row)
}
