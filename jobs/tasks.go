// Package jobs holds the till's background maintenance tasks. Handlers
// are mounted on an asynq worker owned by admin tooling; this package
// only defines the task types, payloads and handler wiring.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "till:idempotency_cleanup"
	// TaskSessionCacheWarm precomputes a closed session's aggregates.
	TaskSessionCacheWarm = "till:session_cache_warm"
)

// IdempotencyCleanupPayload bounds the cleanup to keys older than
// Retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task. A zero retention
// uses the handler default.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// SessionCacheWarmPayload names the session whose totals to warm.
type SessionCacheWarmPayload struct {
	SessionID int64 `json:"session_id"`
}

// NewSessionCacheWarmTask constructs an Asynq task, typically enqueued
// right after a session closes.
func NewSessionCacheWarmTask(sessionID int64) (*asynq.Task, error) {
	body, err := json.Marshal(SessionCacheWarmPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionCacheWarm, body, asynq.Queue(QueueDefault)), nil
}
