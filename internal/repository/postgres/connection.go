package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/repository"
)

// NewConnection opens and pings a lib/pq connection pool
func NewConnection(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewRepositories wires every postgres repository onto db
func NewRepositories(db *sql.DB, logger *zap.Logger) *repository.Repositories {
	return &repository.Repositories{
		Order:         NewOrderRepository(db, logger),
		Catalog:       NewCatalogRepository(db, logger),
		DispatchState: NewDispatchStateRepository(db, logger),
		SignalSource:  NewSignalSourceRepository(db, logger),
	}
}
