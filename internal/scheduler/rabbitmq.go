package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/ordertrack/internal/config"
)

// RabbitQueue publishes tasks to a durable queue and consumes them with a bounded
// number of in-flight deliveries. A task published with a future run-at time is
// held by the consumer until it is due.
type RabbitQueue struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queue       string
	concurrency int
	logger      *zap.Logger
}

// NewRabbitQueue dials RabbitMQ, retrying while the broker starts, and declares
// the task queue
func NewRabbitQueue(cfg config.SchedulerConfig, logger *zap.Logger) (*RabbitQueue, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(cfg.RabbitMQURL)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.RabbitQueue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &RabbitQueue{
		conn:        conn,
		channel:     ch,
		queue:       cfg.RabbitQueue,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (q *RabbitQueue) Schedule(ctx context.Context, runAt time.Time, name string, payload any, group string) error {
	task, err := NewTask(runAt, name, payload, group)
	if err != nil {
		return err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		"",      // exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    task.ID.String(),
			Type:         name,
			AppId:        group,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	q.logger.Debug("Task published",
		zap.String("task", name),
		zap.String("task_id", task.ID.String()),
		zap.String("queue", q.queue),
	)
	return nil
}

func (q *RabbitQueue) Run(ctx context.Context, handlers *Registry) error {
	if err := q.channel.Qos(q.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := q.channel.Consume(
		q.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	runCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(q.concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			g.Go(func() error {
				q.handleDelivery(ctx, runCtx, handlers, d)
				return nil
			})
		}
	}
}

func (q *RabbitQueue) handleDelivery(waitCtx, runCtx context.Context, handlers *Registry, d amqp.Delivery) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		q.logger.Error("Dropping malformed task", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if wait := time.Until(task.RunAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			// Not started yet; hand it back for another consumer.
			_ = d.Nack(false, true)
			return
		case <-timer.C:
		}
	}

	// The broker only reports whether a message was delivered before.
	task.Attempts = 1
	if d.Redelivered {
		task.Attempts = 2
	}

	if err := handlers.Handle(runCtx, task); err != nil {
		q.logger.Error("Scheduled task failed",
			zap.String("task", task.Name),
			zap.String("task_id", task.ID.String()),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		q.logger.Error("Failed to ack task", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}

func (q *RabbitQueue) Close() {
	q.channel.Close()
	q.conn.Close()
}
