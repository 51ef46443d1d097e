package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goSubmitter 为每个任务启动一个协程。
type goSubmitter struct{ err error }

func (g goSubmitter) Submit(task func()) error {
	if g.err != nil {
		return g.err
	}
	go task()
	return nil
}

type blockingIngester struct {
	release chan struct{}
	err     error
	ctxErr  error
}

func (b *blockingIngester) IngestDocument(ctx context.Context, _ string, _ map[string]any) (*IngestResult, error) {
	if b.release != nil {
		<-b.release
	}
	b.ctxErr = ctx.Err()
	if b.err != nil {
		return nil, b.err
	}
	return &IngestResult{IDs: []string{"r1", "r2"}}, nil
}

func waitDone(t *testing.T, task *IngestTask) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestTaskManager_Success(t *testing.T) {
	ingester := &blockingIngester{release: make(chan struct{})}
	m := NewTaskManager(ingester, goSubmitter{}, TaskConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	task, err := m.Submit(ctx, "note", map[string]any{"patient_id": "P1"})
	require.NoError(t, err)
	assert.Len(t, task.ID(), 26, "ULID")
	cancel()

	info := task.Info()
	assert.False(t, info.Status.Finished())
	close(ingester.release)
	waitDone(t, task)

	info = task.Info()
	assert.Equal(t, TaskSucceeded, info.Status)
	assert.Equal(t, 2, info.Chunks)
	assert.NotNil(t, info.FinishedAt)
	assert.NoError(t, ingester.ctxErr, "task outlives the submitting request")

	got, ok := m.Get(task.ID())
	require.True(t, ok)
	assert.Same(t, task, got)
}

func TestTaskManager_Failure(t *testing.T) {
	m := NewTaskManager(&blockingIngester{err: errors.New("embed failed")}, goSubmitter{}, TaskConfig{})

	task, err := m.Submit(context.Background(), "note", nil)
	require.NoError(t, err)

	info, err := m.Wait(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, info.Status)
	assert.Equal(t, "embed failed", info.Error)
	assert.EqualError(t, task.Err(), "embed failed")
}

func TestTaskManager_QueueFull(t *testing.T) {
	m := NewTaskManager(&blockingIngester{}, goSubmitter{err: errors.New("too many goroutines")}, TaskConfig{})

	_, err := m.Submit(context.Background(), "note", nil)
	assert.ErrorIs(t, err, ErrTaskQueueFull)
	assert.Zero(t, m.Counts()[TaskPending])
}

func TestTaskManager_WaitUnknown(t *testing.T) {
	m := NewTaskManager(&blockingIngester{}, goSubmitter{}, TaskConfig{})
	_, err := m.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskManager_WaitContextCancelled(t *testing.T) {
	ingester := &blockingIngester{release: make(chan struct{})}
	defer close(ingester.release)
	m := NewTaskManager(ingester, goSubmitter{}, TaskConfig{})

	task, err := m.Submit(context.Background(), "note", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, task.ID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskManager_Prune(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewTaskManager(&blockingIngester{}, goSubmitter{}, TaskConfig{Retention: time.Hour})
	m.now = func() time.Time { return now }

	task, err := m.Submit(context.Background(), "note", nil)
	require.NoError(t, err)
	waitDone(t, task)

	assert.Zero(t, m.Prune(), "within retention")
	assert.Equal(t, 1, m.Counts()[TaskSucceeded])

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Prune())
	_, ok := m.Get(task.ID())
	assert.False(t, ok)
}
