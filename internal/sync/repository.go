package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/store"
	"github.com/synaxhq/synax/internal/ulid"
)

// LogFilter narrows ListSyncLogs
type LogFilter struct {
	Kind       store.Kind
	EntityType store.EntityType
	EntityID   string
	FailedOnly bool
	Limit      int
	Offset     int
}

// Repository defines operations for managing sync logs in the database
type Repository interface {
	// CreateSyncLog appends one attempt
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// ListSyncLogs returns attempts newest first
	ListSyncLogs(ctx context.Context, filter LogFilter) ([]*SyncLog, error)

	// GetLatestSyncLog returns the most recent attempt for an entity
	GetLatestSyncLog(ctx context.Context, entityType store.EntityType, entityID string) (*SyncLog, error)

	// PruneSyncLogs deletes attempts that started before the cutoff
	PruneSyncLogs(ctx context.Context, before time.Time) (int64, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

var syncLogColumns = []string{
	"id", "cycle_id", "kind", "record_id", "entity_type", "entity_id", "action",
	"success", "error_type", "error_message", "started_at", "completed_at",
}

// CreateSyncLog appends one attempt
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncLogID()
	}

	query, args, err := squirrel.Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(
			log.ID, log.CycleID, string(log.Kind), log.RecordID, string(log.EntityType), log.EntityID, string(log.Action),
			log.Success, string(log.ErrorType), log.ErrorMessage, log.StartedAt.UnixNano(), log.CompletedAt.UnixNano(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}
	return nil
}

// ListSyncLogs returns attempts newest first
func (r *SQLRepository) ListSyncLogs(ctx context.Context, filter LogFilter) ([]*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		OrderBy("started_at DESC", "id DESC")

	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": string(filter.Kind)})
	}
	if filter.EntityType != "" {
		q = q.Where(squirrel.Eq{"entity_type": string(filter.EntityType)})
	}
	if filter.EntityID != "" {
		q = q.Where(squirrel.Eq{"entity_id": filter.EntityID})
	}
	if filter.FailedOnly {
		q = q.Where(squirrel.Eq{"success": false})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}
	return logs, nil
}

// GetLatestSyncLog returns the most recent attempt for an entity
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, entityType store.EntityType, entityID string) (*SyncLog, error) {
	logs, err := r.ListSyncLogs(ctx, LogFilter{EntityType: entityType, EntityID: entityID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, store.ErrNotFound
	}
	return logs[0], nil
}

// PruneSyncLogs deletes attempts that started before the cutoff
func (r *SQLRepository) PruneSyncLogs(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := squirrel.Delete("sync_logs").
		Where(squirrel.Lt{"started_at": before.UnixNano()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building prune sync logs query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing prune sync logs query: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading pruned rows: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var (
		log                  SyncLog
		kind, entity, action string
		errorType            string
		started, completed   int64
	)
	err := row.Scan(
		&log.ID,
		&log.CycleID,
		&kind,
		&log.RecordID,
		&entity,
		&log.EntityID,
		&action,
		&log.Success,
		&errorType,
		&log.ErrorMessage,
		&started,
		&completed,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sync log row: %w", err)
	}

	log.Kind = store.Kind(kind)
	log.EntityType = store.EntityType(entity)
	log.Action = store.Action(action)
	log.ErrorType = ErrorType(errorType)
	log.StartedAt = time.Unix(0, started)
	log.CompletedAt = time.Unix(0, completed)
	return &log, nil
}
