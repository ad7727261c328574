package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/clock"
)

// MemoryQueue keeps tasks in process. Tasks are lost on restart.
type MemoryQueue struct {
	mu           sync.Mutex
	pending      []Task
	clock        clock.Clock
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewMemoryQueue creates an in-process queue polled every pollInterval
func NewMemoryQueue(clk clock.Clock, pollInterval time.Duration, logger *zap.Logger) *MemoryQueue {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &MemoryQueue{
		clock:        clk,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (q *MemoryQueue) Schedule(_ context.Context, runAt time.Time, name string, payload any, group string) error {
	task, err := NewTask(runAt, name, payload, group)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	return nil
}

// Pending returns a copy of the tasks not yet run
func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.pending...)
}

// RunDue runs every task whose run-at time has passed, in run-at order, and
// returns how many ran. A started task runs to completion even if ctx is
// cancelled.
func (q *MemoryQueue) RunDue(ctx context.Context, handlers *Registry) int {
	now := q.clock.Now()

	q.mu.Lock()
	var due, later []Task
	for _, task := range q.pending {
		if task.RunAt.After(now) {
			later = append(later, task)
		} else {
			due = append(due, task)
		}
	}
	q.pending = later
	q.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })

	runCtx := context.WithoutCancel(ctx)
	for _, task := range due {
		task.Attempts++
		if err := handlers.Handle(runCtx, task); err != nil {
			q.logger.Error("Scheduled task failed",
				zap.String("task", task.Name),
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
		}
	}
	return len(due)
}

func (q *MemoryQueue) Run(ctx context.Context, handlers *Registry) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.RunDue(ctx, handlers)
		}
	}
}
