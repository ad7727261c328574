package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

type signalSourceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSignalSourceRepository creates a new signal source repository
func NewSignalSourceRepository(db *sql.DB, logger *zap.Logger) *signalSourceRepository {
	return &signalSourceRepository{
		db:     db,
		logger: logger,
	}
}

func (r *signalSourceRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.SignalSource, error) {
	// bcrypt hashes are salted, so every active source is checked in turn.
	query := `
		SELECT id, name, api_key_hash, is_active, created_at, updated_at
		FROM signal_sources
		WHERE is_active = true
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query signal sources", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source domain.SignalSource

		err := rows.Scan(
			&source.ID,
			&source.Name,
			&source.APIKeyHash,
			&source.IsActive,
			&source.CreatedAt,
			&source.UpdatedAt,
		)
		if err != nil {
			continue
		}

		if err := bcrypt.CompareHashAndPassword([]byte(source.APIKeyHash), []byte(apiKey)); err == nil {
			return &source, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nil, &errors.ErrUnauthorized{Message: "invalid API key"}
}

func (r *signalSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SignalSource, error) {
	query := `
		SELECT id, name, api_key_hash, is_active, created_at, updated_at
		FROM signal_sources
		WHERE id = $1
	`

	var source domain.SignalSource

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&source.ID,
		&source.Name,
		&source.APIKeyHash,
		&source.IsActive,
		&source.CreatedAt,
		&source.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "signal source", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get signal source by ID", zap.Error(err))
		return nil, err
	}

	return &source, nil
}

func (r *signalSourceRepository) Create(ctx context.Context, source *domain.SignalSource) error {
	query := `
		INSERT INTO signal_sources (id, name, api_key_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	if source.UpdatedAt.IsZero() {
		source.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.APIKeyHash,
		source.IsActive,
		source.CreatedAt,
		source.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create signal source", zap.Error(err))
		return err
	}

	return nil
}

func (r *signalSourceRepository) Update(ctx context.Context, source *domain.SignalSource) error {
	query := `
		UPDATE signal_sources
		SET name = $2, api_key_hash = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`

	source.UpdatedAt = time.Now()

	res, err := r.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.APIKeyHash,
		source.IsActive,
		source.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update signal source", zap.Error(err))
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &errors.ErrNotFound{Resource: "signal source", ID: source.ID.String()}
	}

	return nil
}
