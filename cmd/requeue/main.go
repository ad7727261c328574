package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/repository/postgres"
	"github.com/jafarshop/ordertrack/internal/scheduler"
	"github.com/jafarshop/ordertrack/internal/service"
	"github.com/jafarshop/ordertrack/internal/tracking"
)

// Requeues placed-order milestones that were scheduled but never delivered.
// With order ids as arguments only those orders are requeued.
func main() {
	limit := flag.Int("limit", 100, "maximum number of scheduled milestones to requeue")
	olderThan := flag.Duration("older-than", 10*time.Minute, "only requeue milestones scheduled at least this long ago")
	flag.Usage = func() {
		fmt.Println("Usage: go run cmd/requeue/main.go [-limit N] [-older-than D] [order-id ...]")
		fmt.Println("Example: go run cmd/requeue/main.go 1001 1002")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "-limit must be at least 1")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Scheduler.Backend == config.SchedulerBackendMemory {
		fmt.Fprintln(os.Stderr, "The memory scheduler lives inside the server process; requeue through the admin API instead")
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var queue scheduler.Scheduler
	if cfg.Scheduler.Backend == config.SchedulerBackendRabbitMQ {
		q, err := scheduler.NewRabbitQueue(cfg.Scheduler, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to RabbitMQ: %v\n", err)
			os.Exit(1)
		}
		defer q.Close()
		queue = q
	} else {
		pool, err := pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create pgx pool: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
		queue = scheduler.NewPostgresQueue(pool, cfg.Scheduler, logger)
	}

	repos := postgres.NewRepositories(db, logger)
	coord := service.NewCoordinator(repos, tracking.NewClient(cfg.Tracking, logger), queue, clock.NewSystem(), cfg.Scheduler.Group, logger)

	if flag.NArg() == 0 {
		queued, err := coord.RequeueScheduled(ctx, *olderThan, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to requeue: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Requeued %d order(s): %v\n", len(queued), queued)
		return
	}

	failed := false
	for _, arg := range flag.Args() {
		orderID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid order id %q\n", arg)
			failed = true
			continue
		}
		outcome, err := coord.Requeue(ctx, orderID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Order %d: %v\n", orderID, err)
			failed = true
			continue
		}
		fmt.Printf("Order %d: %s\n", orderID, outcome)
	}
	if failed {
		os.Exit(1)
	}
}
