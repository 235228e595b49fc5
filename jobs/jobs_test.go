package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeWarmer struct {
	warmed []int64
	err    error
}

func (f *fakeWarmer) WarmTotals(ctx context.Context, sessionID int64) error {
	if f.err != nil {
		return f.err
	}
	f.warmed = append(f.warmed, sessionID)
	return nil
}

func TestSessionCacheWarmHandle(t *testing.T) {
	warmer := &fakeWarmer{}
	job := NewSessionCacheWarmJob(warmer, nil)

	task, err := NewSessionCacheWarmTask(42)
	require.NoError(t, err)
	require.Equal(t, TaskSessionCacheWarm, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{42}, warmer.warmed)
}

func TestSessionCacheWarmBadPayload(t *testing.T) {
	job := NewSessionCacheWarmJob(&fakeWarmer{}, nil)

	task := asynq.NewTask(TaskSessionCacheWarm, []byte("not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	body, err := json.Marshal(SessionCacheWarmPayload{SessionID: 0})
	require.NoError(t, err)
	task = asynq.NewTask(TaskSessionCacheWarm, body)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestSessionCacheWarmPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	job := NewSessionCacheWarmJob(&fakeWarmer{err: boom}, nil)

	task, err := NewSessionCacheWarmTask(7)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestIdempotencyCleanupTaskPayload(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())

	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Zero(t, payload.Retention)
}

func TestIdempotencyCleanupNotConfigured(t *testing.T) {
	var job *IdempotencyCleanupJob
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}
