package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/infrastructure/persistence/sqlite"
)

// SnapshotRepository implements port.SnapshotRepository on sqlite
type SnapshotRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sqlite.DB, logger *zap.Logger) *SnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores a new snapshot
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *port.PlanSnapshot) error {
	query := `
		INSERT INTO plan_snapshots (id, name, payload, task_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		snapshot.ID,
		snapshot.Name,
		snapshot.Payload,
		snapshot.TaskCount,
		snapshot.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to save snapshot", zap.String("snapshot_id", snapshot.ID), zap.Error(err))
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by id
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*port.PlanSnapshot, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT id, name, payload, task_count, created_at
		FROM plan_snapshots
		WHERE id = ?
	`, id)
	return r.scan(row, id)
}

// Latest retrieves the most recent snapshot stored under name
func (r *SnapshotRepository) Latest(ctx context.Context, name string) (*port.PlanSnapshot, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT id, name, payload, task_count, created_at
		FROM plan_snapshots
		WHERE name = ?
		ORDER BY seq DESC
		LIMIT 1
	`, name)
	return r.scan(row, name)
}

// List returns snapshot headers newest first. Payloads are not loaded.
func (r *SnapshotRepository) List(ctx context.Context, limit int) ([]*port.PlanSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, name, task_count, created_at
		FROM plan_snapshots
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		r.logger.Error("Failed to list snapshots", zap.Error(err))
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*port.PlanSnapshot
	for rows.Next() {
		var s port.PlanSnapshot
		if err := rows.Scan(&s.ID, &s.Name, &s.TaskCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

func (r *SnapshotRepository) scan(row *sql.Row, key string) (*port.PlanSnapshot, error) {
	var s port.PlanSnapshot
	err := row.Scan(&s.ID, &s.Name, &s.Payload, &s.TaskCount, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", port.ErrSnapshotNotFound, key)
	}
	if err != nil {
		r.logger.Error("Failed to load snapshot", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &s, nil
}

// Verify interface compliance
var _ port.SnapshotRepository = (*SnapshotRepository)(nil)
