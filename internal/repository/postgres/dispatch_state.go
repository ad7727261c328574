package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
)

// metaKeyPrefix namespaces dispatch state rows inside order_meta
const metaKeyPrefix = "_tracking_dispatch:"

func metaKey(unit domain.DispatchUnit) string {
	return metaKeyPrefix + string(unit)
}

type dispatchStateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDispatchStateRepository creates a dispatch state repository backed by order_meta
func NewDispatchStateRepository(db *sql.DB, logger *zap.Logger) *dispatchStateRepository {
	return &dispatchStateRepository{
		db:     db,
		logger: logger,
	}
}

// BeginDispatch is one conditional upsert: the conflict branch only updates rows
// that are not delivered, so zero affected rows means the unit is already done.
func (r *dispatchStateRepository) BeginDispatch(ctx context.Context, orderID int64, unit domain.DispatchUnit) (bool, error) {
	query := `
		INSERT INTO order_meta (order_id, meta_key, meta_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (order_id, meta_key) DO UPDATE
		SET meta_value = EXCLUDED.meta_value, updated_at = NOW()
		WHERE order_meta.meta_value <> $4
	`

	res, err := r.db.ExecContext(ctx, query,
		orderID,
		metaKey(unit),
		string(domain.DispatchStateScheduled),
		string(domain.DispatchStateDelivered),
	)
	if err != nil {
		r.logger.Error("Failed to begin dispatch",
			zap.Int64("order_id", orderID),
			zap.String("unit", string(unit)),
			zap.Error(err),
		)
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (r *dispatchStateRepository) MarkDelivered(ctx context.Context, orderID int64, unit domain.DispatchUnit) error {
	query := `
		INSERT INTO order_meta (order_id, meta_key, meta_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (order_id, meta_key) DO UPDATE
		SET meta_value = EXCLUDED.meta_value, updated_at = NOW()
		WHERE order_meta.meta_value <> EXCLUDED.meta_value
	`

	_, err := r.db.ExecContext(ctx, query, orderID, metaKey(unit), string(domain.DispatchStateDelivered))
	if err != nil {
		r.logger.Error("Failed to mark dispatch delivered",
			zap.Int64("order_id", orderID),
			zap.String("unit", string(unit)),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (r *dispatchStateRepository) Get(ctx context.Context, orderID int64, unit domain.DispatchUnit) (domain.DispatchState, error) {
	query := `SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $2`

	var value string
	err := r.db.QueryRowContext(ctx, query, orderID, metaKey(unit)).Scan(&value)
	if err == sql.ErrNoRows {
		return domain.DispatchStateNotStarted, nil
	}
	if err != nil {
		r.logger.Error("Failed to get dispatch state", zap.Int64("order_id", orderID), zap.Error(err))
		return "", err
	}

	return domain.DispatchState(value), nil
}

func (r *dispatchStateRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.DispatchRecord, error) {
	query := `
		SELECT order_id, meta_key, meta_value, updated_at
		FROM order_meta
		WHERE order_id = $1 AND meta_key LIKE $2
		ORDER BY meta_key
	`

	return r.list(ctx, query, orderID, metaKeyPrefix+"%")
}

func (r *dispatchStateRepository) ListByState(ctx context.Context, unit domain.DispatchUnit, state domain.DispatchState, limit, offset int) ([]domain.DispatchRecord, error) {
	query := `
		SELECT order_id, meta_key, meta_value, updated_at
		FROM order_meta
		WHERE meta_key = $1 AND meta_value = $2
		ORDER BY updated_at, order_id
		LIMIT $3 OFFSET $4
	`

	return r.list(ctx, query, metaKey(unit), string(state), limit, offset)
}

func (r *dispatchStateRepository) ListStale(ctx context.Context, unit domain.DispatchUnit, state domain.DispatchState, olderThan time.Duration, limit int) ([]domain.DispatchRecord, error) {
	query := `
		SELECT order_id, meta_key, meta_value, updated_at
		FROM order_meta
		WHERE meta_key = $1 AND meta_value = $2
		  AND updated_at <= NOW() - make_interval(secs => $3)
		ORDER BY updated_at, order_id
		LIMIT $4
	`

	return r.list(ctx, query, metaKey(unit), string(state), olderThan.Seconds(), limit)
}

func (r *dispatchStateRepository) list(ctx context.Context, query string, args ...any) ([]domain.DispatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list dispatch states", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var records []domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var key, value string
		if err := rows.Scan(&rec.OrderID, &key, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Unit = domain.DispatchUnit(strings.TrimPrefix(key, metaKeyPrefix))
		rec.State = domain.DispatchState(value)
		records = append(records, rec)
	}

	return records, rows.Err()
}
