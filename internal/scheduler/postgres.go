package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/ordertrack/internal/config"
)

const (
	taskStatusPending  = "pending"
	taskStatusRunning  = "running"
	taskStatusComplete = "complete"
	taskStatusFailed   = "failed"
)

// PostgresQueue stores tasks in scheduled_tasks. Workers claim due rows with
// FOR UPDATE SKIP LOCKED and hold them under a lease that is extended every third
// of its length while the handler runs. A running row is claimed again only after
// its worker stopped extending the lease for a whole lease period.
type PostgresQueue struct {
	db     *pgxpool.Pool
	cfg    config.SchedulerConfig
	logger *zap.Logger
}

// NewPostgresQueue creates a queue over the scheduled_tasks table
func NewPostgresQueue(db *pgxpool.Pool, cfg config.SchedulerConfig, logger *zap.Logger) *PostgresQueue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &PostgresQueue{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

func (q *PostgresQueue) Schedule(ctx context.Context, runAt time.Time, name string, payload any, group string) error {
	task, err := NewTask(runAt, name, payload, group)
	if err != nil {
		return err
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO scheduled_tasks (id, name, group_name, payload, run_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
	`, task.ID, task.Name, task.Group, []byte(task.Payload), task.RunAt, taskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled task: %w", err)
	}

	q.logger.Debug("Task scheduled",
		zap.String("task", name),
		zap.String("task_id", task.ID.String()),
		zap.String("group", group),
		zap.Time("run_at", runAt),
	)
	return nil
}

func (q *PostgresQueue) Run(ctx context.Context, handlers *Registry) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.processBatch(ctx, handlers)
		}
	}
}

func (q *PostgresQueue) processBatch(ctx context.Context, handlers *Registry) {
	tasks, err := q.claim(ctx)
	if err != nil {
		q.logger.Error("Failed to claim scheduled tasks", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	q.logger.Debug("Processing scheduled tasks", zap.Int("count", len(tasks)))

	// Handlers run to completion even if ctx is cancelled mid-batch.
	runCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(q.cfg.Concurrency)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			q.runTask(runCtx, handlers, task)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *PostgresQueue) claim(ctx context.Context) ([]Task, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE scheduled_tasks
		SET status = $1,
		    attempts = attempts + 1,
		    locked_until = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		WHERE id IN (
			SELECT id
			FROM scheduled_tasks
			WHERE (status = $3 AND run_at <= NOW())
			   OR (status = $1 AND locked_until < NOW())
			ORDER BY run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, group_name, payload, run_at, attempts
	`, taskStatusRunning, q.cfg.Lease.Seconds(), taskStatusPending, q.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var payload []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Group, &payload, &t.RunAt, &t.Attempts); err != nil {
			return nil, err
		}
		t.Payload = json.RawMessage(payload)
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (q *PostgresQueue) runTask(ctx context.Context, handlers *Registry, task Task) {
	stop := q.keepLease(ctx, task)
	err := handlers.Handle(ctx, task)
	stop()

	if err != nil {
		q.logger.Error("Scheduled task failed",
			zap.String("task", task.Name),
			zap.String("task_id", task.ID.String()),
			zap.Int("attempts", task.Attempts),
			zap.Error(err),
		)
		if _, dbErr := q.db.Exec(ctx, `
			UPDATE scheduled_tasks
			SET status = $2, last_error = $3, locked_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, task.ID, taskStatusFailed, err.Error()); dbErr != nil {
			q.logger.Error("Failed to record task failure", zap.String("task_id", task.ID.String()), zap.Error(dbErr))
		}
		return
	}

	if _, err := q.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, task.ID, taskStatusComplete); err != nil {
		// The lease will expire and the task will run again.
		q.logger.Error("Failed to record task completion", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}

// keepLease extends the task's lease until the returned func is called
func (q *PostgresQueue) keepLease(ctx context.Context, task Task) func() {
	interval := q.cfg.Lease / 3
	if interval <= 0 {
		interval = q.cfg.Lease
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := q.extendLease(hbCtx, task.ID); err != nil && hbCtx.Err() == nil {
					q.logger.Warn("Failed to extend task lease",
						zap.String("task", task.Name),
						zap.String("task_id", task.ID.String()),
						zap.Error(err),
					)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (q *PostgresQueue) extendLease(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET locked_until = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, q.cfg.Lease.Seconds(), taskStatusRunning)
	return err
}
