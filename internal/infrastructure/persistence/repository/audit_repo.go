package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditRepository on sqlite
type AuditRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlite.DB, logger *zap.Logger) *AuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `
	id, request_id, task_id, command, decision, actor, reason,
	risk_zone, risk_score, confidence, warning_count, requested_at, decided_at,
	outcome_success, outcome_error, outcome_started_at, outcome_completed_at`

// Append inserts one entry. Entries are never updated except for the outcome.
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("audit entry requires an id")
	}

	query := `
		INSERT INTO audit_entries (
			id, request_id, task_id, command, decision, actor, reason,
			risk_zone, risk_score, confidence, warning_count, requested_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.TaskID,
		entry.Command,
		string(entry.Decision),
		entry.Actor,
		entry.Reason,
		string(entry.RiskZone),
		entry.RiskScore,
		entry.Confidence,
		entry.WarningCount,
		entry.RequestedAt.UTC(),
		entry.DecidedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("entry_id", entry.ID),
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if entry.Outcome != nil {
		return r.AttachOutcome(ctx, entry.ID, *entry.Outcome)
	}
	return nil
}

// AttachOutcome records the execution outcome of an entry exactly once
func (r *AuditRepository) AttachOutcome(ctx context.Context, entryID string, outcome entity.ExecutionOutcome) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)

		var recorded bool
		err := exec.QueryRowContext(ctx,
			"SELECT outcome_success IS NOT NULL FROM audit_entries WHERE id = ?", entryID,
		).Scan(&recorded)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", port.ErrAuditEntryNotFound, entryID)
		}
		if err != nil {
			return fmt.Errorf("failed to load audit entry: %w", err)
		}
		if recorded {
			return fmt.Errorf("%w: %s", port.ErrOutcomeRecorded, entryID)
		}

		_, err = exec.ExecContext(ctx, `
			UPDATE audit_entries
			SET outcome_success = ?, outcome_error = ?, outcome_started_at = ?, outcome_completed_at = ?
			WHERE id = ?
		`, outcome.Success, outcome.Error, outcome.StartedAt.UTC(), outcome.CompletedAt.UTC(), entryID)
		if err != nil {
			r.logger.Error("Failed to attach outcome", zap.String("entry_id", entryID), zap.Error(err))
			return fmt.Errorf("failed to attach outcome: %w", err)
		}
		return nil
	})
}

// List returns matching entries oldest first. With a limit, the most recent
// entries are kept.
func (r *AuditRepository) List(ctx context.Context, filter port.AuditFilter) ([]*entity.AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.CommandContains != "" {
		where = append(where, "LOWER(command) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(filter.CommandContains))+"%")
	}
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(filter.Decision))
	}
	if filter.RiskZone != "" {
		where = append(where, "risk_zone = ?")
		args = append(args, string(filter.RiskZone))
	}
	if !filter.From.IsZero() {
		where = append(where, "decided_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "decided_at < ?")
		args = append(args, filter.To.UTC())
	}

	query := "SELECT " + auditColumns + " FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows came newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func scanAuditEntry(rows *sql.Rows) (*entity.AuditEntry, error) {
	var (
		e                  entity.AuditEntry
		decision, zone     string
		success            sql.NullBool
		outcomeErr         sql.NullString
		started, completed sql.NullTime
	)
	err := rows.Scan(
		&e.ID,
		&e.RequestID,
		&e.TaskID,
		&e.Command,
		&decision,
		&e.Actor,
		&e.Reason,
		&zone,
		&e.RiskScore,
		&e.Confidence,
		&e.WarningCount,
		&e.RequestedAt,
		&e.DecidedAt,
		&success,
		&outcomeErr,
		&started,
		&completed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.Decision = entity.AuditDecision(decision)
	e.RiskZone = entity.RiskZone(zone)
	if success.Valid {
		e.Outcome = &entity.ExecutionOutcome{
			Success:     success.Bool,
			Error:       outcomeErr.String,
			StartedAt:   nullTime(started),
			CompletedAt: nullTime(completed),
		}
	}
	return &e, nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
