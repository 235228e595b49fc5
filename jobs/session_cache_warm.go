package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// SessionWarmer is the slice of the session service the warm job needs.
type SessionWarmer interface {
	WarmTotals(ctx context.Context, sessionID int64) error
}

// SessionCacheWarmJob computes and caches a closed session's aggregates
// so the first cash-up report after close is served hot.
type SessionCacheWarmJob struct {
	Sessions SessionWarmer
	Logger   *slog.Logger
}

// NewSessionCacheWarmJob constructs the handler.
func NewSessionCacheWarmJob(sessions SessionWarmer, logger *slog.Logger) *SessionCacheWarmJob {
	return &SessionCacheWarmJob{Sessions: sessions, Logger: logger}
}

// Handle executes the warm-up.
func (j *SessionCacheWarmJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("session cache warm: handler not configured")
	}
	var payload SessionCacheWarmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.SessionID <= 0 {
		return asynq.SkipRetry
	}
	if err := j.Sessions.WarmTotals(ctx, payload.SessionID); err != nil {
		if j.Logger != nil {
			j.Logger.Error("session cache warm",
				slog.Int64("session_id", payload.SessionID), slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("session totals warmed", slog.Int64("session_id", payload.SessionID))
	}
	return nil
}
