package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// COMMAND QUEUE
// ============================================================================

// The command queue is a per-account Redis list holding serialized commands
// in creation order. The database row is authoritative; if the list and the
// DB disagree, the poll path re-checks command status before delivery.

// EnqueueCommand pushes one serialized command onto the account's queue
func (cs *CacheService) EnqueueCommand(ctx context.Context, accountNumber int64, command interface{}) error {
	if err := cs.guard(); err != nil {
		return err
	}
	data, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	key := fmt.Sprintf(keyCommandQueue, accountNumber)
	if err := cs.client.RPush(ctx, key, data).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// PopCommands pops up to limit serialized commands from the head of the
// account's queue, preserving creation order.
func (cs *CacheService) PopCommands(ctx context.Context, accountNumber int64, limit int) ([][]byte, error) {
	if err := cs.guard(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf(keyCommandQueue, accountNumber)
	values, err := cs.client.LPopCount(ctx, key, limit).Result()
	if err != nil {
		if err == redis.Nil {
			cs.recordSuccess()
			return nil, nil
		}
		cs.recordFailure()
		return nil, fmt.Errorf("redis lpop failed: %w", err)
	}
	cs.recordSuccess()

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

// QueueLength returns the account's pending queue depth
func (cs *CacheService) QueueLength(ctx context.Context, accountNumber int64) (int64, error) {
	if err := cs.guard(); err != nil {
		return 0, err
	}
	key := fmt.Sprintf(keyCommandQueue, accountNumber)
	n, err := cs.client.LLen(ctx, key).Result()
	if err != nil {
		cs.recordFailure()
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	cs.recordSuccess()
	return n, nil
}

// ClearQueue drops the account's queue. Used before a DB rebuild so
// recovered commands are not duplicated.
func (cs *CacheService) ClearQueue(ctx context.Context, accountNumber int64) error {
	if err := cs.guard(); err != nil {
		return err
	}
	key := fmt.Sprintf(keyCommandQueue, accountNumber)
	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis del failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// ============================================================================
// COMMAND RESPONSE PUB-SUB
// ============================================================================

// PublishCommandResponse notifies any waiter that a command reached a
// terminal status.
func (cs *CacheService) PublishCommandResponse(ctx context.Context, commandID string, response interface{}) error {
	if err := cs.guard(); err != nil {
		return err
	}
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal command response: %w", err)
	}
	channel := fmt.Sprintf(keyCommandResponse, commandID)
	if err := cs.client.Publish(ctx, channel, data).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis publish failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// WaitCommandResponse blocks until the command's response is published or
// the timeout elapses. Returns (nil, nil) on timeout; callers fall back to
// polling the DB row.
func (cs *CacheService) WaitCommandResponse(ctx context.Context, commandID string, timeout time.Duration) ([]byte, error) {
	if err := cs.guard(); err != nil {
		return nil, err
	}
	channel := fmt.Sprintf(keyCommandResponse, commandID)
	sub := cs.client.Subscribe(ctx, channel)
	defer sub.Close()

	// Confirm the subscription before waiting so a fast publisher is not
	// missed.
	if _, err := sub.Receive(ctx); err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	cs.recordSuccess()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, nil
		}
		return []byte(msg.Payload), nil
	case <-waitCtx.Done():
		return nil, nil
	}
}
