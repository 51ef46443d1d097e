package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
)

// 任务相关错误。
var (
	ErrTaskNotFound  = errors.New("ingest task not found")
	ErrTaskQueueFull = errors.New("ingest queue is full")
)

// TaskStatus 异步入库任务状态。
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Finished 报告任务是否已结束。
func (s TaskStatus) Finished() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Ingester 执行实际入库，由 Pipeline 实现。
type Ingester interface {
	IngestDocument(ctx context.Context, text string, meta map[string]any) (*IngestResult, error)
}

// Submitter 将函数提交到协程池执行。
type Submitter interface {
	Submit(task func()) error
}

// TaskInfo 任务状态快照。
type TaskInfo struct {
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Chunks     int        `json:"chunks"`
	IDs        []string   `json:"ids,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IngestTask 一个异步入库任务。Done 在任务结束后关闭。
type IngestTask struct {
	id        string
	createdAt time.Time
	done      chan struct{}

	mu         sync.RWMutex
	status     TaskStatus
	result     *IngestResult
	err        error
	finishedAt time.Time
}

// ID 返回任务 ID。
func (t *IngestTask) ID() string { return t.id }

// Done 返回任务结束时关闭的通道。
func (t *IngestTask) Done() <-chan struct{} { return t.done }

// Err 返回失败原因，未结束或成功时为 nil。
func (t *IngestTask) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Info 返回状态快照。
func (t *IngestTask) Info() TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := TaskInfo{
		ID:        t.id,
		Status:    t.status,
		CreatedAt: t.createdAt,
	}
	if t.result != nil {
		info.Chunks = t.result.Chunks()
		info.IDs = append([]string(nil), t.result.IDs...)
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		info.FinishedAt = &finished
	}
	return info
}

func (t *IngestTask) setRunning() {
	t.mu.Lock()
	t.status = TaskRunning
	t.mu.Unlock()
}

func (t *IngestTask) finish(result *IngestResult, err error, at time.Time) {
	t.mu.Lock()
	t.result = result
	t.err = err
	t.finishedAt = at
	if err != nil {
		t.status = TaskFailed
	} else {
		t.status = TaskSucceeded
	}
	t.mu.Unlock()
	close(t.done)
}

func (t *IngestTask) finishedBefore(cutoff time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Finished() && t.finishedAt.Before(cutoff)
}

// TaskConfig 任务管理器配置。
type TaskConfig struct {
	// Timeout 单个任务的执行超时。
	Timeout time.Duration
	// Retention 已结束任务的保留时长。
	Retention time.Duration
}

// TaskManager 管理异步入库任务。
type TaskManager struct {
	ingester  Ingester
	submitter Submitter
	config    TaskConfig
	now       func() time.Time

	mu    sync.RWMutex
	tasks map[string]*IngestTask
}

// NewTaskManager 创建任务管理器。
func NewTaskManager(ingester Ingester, submitter Submitter, config TaskConfig) *TaskManager {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	return &TaskManager{
		ingester:  ingester,
		submitter: submitter,
		config:    config,
		now:       time.Now,
		tasks:     make(map[string]*IngestTask),
	}
}

// Submit 提交入库任务并立即返回。任务脱离 ctx 的取消，但继承其值（如 trace）。
func (m *TaskManager) Submit(ctx context.Context, text string, meta map[string]any) (*IngestTask, error) {
	task := &IngestTask{
		id:        ulid.Make().String(),
		createdAt: m.now(),
		done:      make(chan struct{}),
		status:    TaskPending,
	}

	m.mu.Lock()
	m.tasks[task.id] = task
	m.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	meta = cloneMetadata(meta)
	err := m.submitter.Submit(func() {
		m.run(runCtx, task, text, meta)
	})
	if err != nil {
		m.mu.Lock()
		delete(m.tasks, task.id)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTaskQueueFull, err)
	}

	logger.Infow("ingest task submitted", "task_id", task.id, "text_length", len(text))
	return task, nil
}

func (m *TaskManager) run(ctx context.Context, task *IngestTask, text string, meta map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	task.setRunning()
	var (
		result *IngestResult
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		result, err = m.ingester.IngestDocument(ctx, text, meta)
	}()
	task.finish(result, err, m.now())

	if err != nil {
		logger.Errorw("ingest task failed", "task_id", task.id, "error", err.Error())
		return
	}
	logger.Infow("ingest task succeeded", "task_id", task.id, "chunks", result.Chunks())
}

// Get 按 ID 查找任务。
func (m *TaskManager) Get(id string) (*IngestTask, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Wait 等待任务结束或 ctx 取消。
func (m *TaskManager) Wait(ctx context.Context, id string) (TaskInfo, error) {
	task, ok := m.Get(id)
	if !ok {
		return TaskInfo{}, ErrTaskNotFound
	}
	select {
	case <-task.Done():
		return task.Info(), nil
	case <-ctx.Done():
		return task.Info(), ctx.Err()
	}
}

// Prune 删除结束时间早于保留期的任务，返回删除数量。
func (m *TaskManager) Prune() int {
	cutoff := m.now().Add(-m.config.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, t := range m.tasks {
		if t.finishedBefore(cutoff) {
			delete(m.tasks, id)
			pruned++
		}
	}
	if pruned > 0 {
		logger.Infow("pruned finished ingest tasks", "pruned", pruned, "remaining", len(m.tasks))
	}
	return pruned
}

// Counts 按状态统计任务数。
func (m *TaskManager) Counts() map[TaskStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[TaskStatus]int{
		TaskPending:   0,
		TaskRunning:   0,
		TaskSucceeded: 0,
		TaskFailed:    0,
	}
	for _, t := range m.tasks {
		t.mu.RLock()
		counts[t.status]++
		t.mu.RUnlock()
	}
	return counts
}
