// Package scheduler defers work off the request path. A task is a named JSON
// payload with a run-at time; workers deliver each task to the handler registered
// for its name at least once.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownTask is returned when no handler is registered for a task name
var ErrUnknownTask = errors.New("no handler registered for task")

// Task is one unit of deferred work
type Task struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Group    string          `json:"group"`
	Payload  json.RawMessage `json:"payload"`
	RunAt    time.Time       `json:"run_at"`
	Attempts int             `json:"attempts"`
}

// Decode unmarshals the task payload into v
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Name, err)
	}
	return nil
}

// NewTask builds a task with a fresh id
func NewTask(runAt time.Time, name string, payload any, group string) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return Task{
		ID:      uuid.New(),
		Name:    name,
		Group:   group,
		Payload: data,
		RunAt:   runAt,
	}, nil
}

// Scheduler accepts tasks for later execution
type Scheduler interface {
	Schedule(ctx context.Context, runAt time.Time, name string, payload any, group string) error
}

// Queue is a scheduler that also runs its own workers until ctx is done
type Queue interface {
	Scheduler
	Run(ctx context.Context, handlers *Registry) error
}

// Handler processes one task. A returned error marks the task failed; it is not
// retried.
type Handler func(ctx context.Context, task Task) error

// Registry maps task names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to name, replacing any previous handler
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Handle runs the handler registered for the task's name
func (r *Registry) Handle(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.Name)
	}
	return h(ctx, task)
}
