package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
)

// Repository is the local store used by the outbox, the sync engine and the CLI
type Repository interface {
	// EnqueueMutation appends a pending mutation stamped with the current time
	EnqueueMutation(ctx context.Context, entityType EntityType, entityID string, action Action, data json.RawMessage) (int64, error)

	// EnqueueImage appends a pending image; img.Blob must be set
	EnqueueImage(ctx context.Context, img *PendingImage) (int64, error)

	// ListPendingMutations returns pending mutations in replay order
	ListPendingMutations(ctx context.Context) ([]*Mutation, error)

	// ListPendingImages returns pending images in replay order, without blobs
	ListPendingImages(ctx context.Context) ([]*PendingImage, error)

	// ListReplayableMutations returns pending mutations plus failed ones whose
	// retry count is still below maxRetries, in replay order
	ListReplayableMutations(ctx context.Context, maxRetries int) ([]*Mutation, error)

	// ListReplayableImages is ListReplayableMutations for the image queue
	ListReplayableImages(ctx context.Context, maxRetries int) ([]*PendingImage, error)

	// ListMutations lists mutations for display, optionally filtered by status
	ListMutations(ctx context.Context, status Status, limit int) ([]*Mutation, error)

	// ListImages lists images for display, optionally filtered by status
	ListImages(ctx context.Context, status Status, limit int) ([]*PendingImage, error)

	// GetMutation loads one mutation
	GetMutation(ctx context.Context, id int64) (*Mutation, error)

	// LoadImageBlob reads the bytes of one queued image
	LoadImageBlob(ctx context.Context, id int64) ([]byte, error)

	// UpdateStatus sets status and error of one record, leaving retry count alone
	UpdateStatus(ctx context.Context, kind Kind, id int64, status Status, errMsg string) error

	// IncrementRetry bumps the retry count of one record
	IncrementRetry(ctx context.Context, kind Kind, id int64) error

	// Remove deletes one record; removing a missing record is not an error
	Remove(ctx context.Context, kind Kind, id int64) error

	// CountByStatus counts records of a queue in the given status
	CountByStatus(ctx context.Context, kind Kind, status Status) (int, error)

	// Counts returns pending and failed counts for both queues
	Counts(ctx context.Context) (Counts, error)

	// ResetFailed moves failed records back to pending and returns how many moved
	ResetFailed(ctx context.Context, kind Kind) (int64, error)

	// PurgeFailed deletes failed records and returns how many were deleted
	PurgeFailed(ctx context.Context, kind Kind) (int64, error)

	// RecoverInterrupted returns records stuck in syncing to pending
	RecoverInterrupted(ctx context.Context) (int64, error)

	// ClearAll wipes both queues, the entity cache and the sync logs
	ClearAll(ctx context.Context) error

	EntityCache
}

var mutationColumns = []string{"id", "timestamp", "entity_type", "entity_id", "action", "data", "status", "retry_count", "error"}

var imageColumns = []string{"id", "timestamp", "mutation_id", "entity_type", "entity_id", "LENGTH(blob)", "filename", "status", "retry_count", "error"}

var orderReplay = []string{"timestamp ASC", "id ASC"}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
	now    func() time.Time
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the timestamp source, for tests
func (r *SQLRepository) WithClock(now func() time.Time) *SQLRepository {
	r.now = now
	return r
}

// EnqueueMutation appends a pending mutation
func (r *SQLRepository) EnqueueMutation(ctx context.Context, entityType EntityType, entityID string, action Action, data json.RawMessage) (int64, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	q := squirrel.Insert("mutations").
		Columns("timestamp", "entity_type", "entity_id", "action", "data", "status", "retry_count").
		Values(r.now().UnixNano(), entityType, entityID, action, string(data), StatusPending, 0)

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building enqueue mutation query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing enqueue mutation query: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading mutation id: %w", err)
	}

	r.logger.Debug("Mutation enqueued", "id", id, "entity_type", entityType, "entity_id", entityID, "action", action)
	return id, nil
}

// EnqueueImage appends a pending image
func (r *SQLRepository) EnqueueImage(ctx context.Context, img *PendingImage) (int64, error) {
	if len(img.Blob) == 0 {
		return 0, fmt.Errorf("image blob cannot be empty")
	}

	var mutationID interface{}
	if img.MutationID != nil {
		mutationID = *img.MutationID
	}

	q := squirrel.Insert("images").
		Columns("timestamp", "mutation_id", "entity_type", "entity_id", "blob", "filename", "status", "retry_count").
		Values(r.now().UnixNano(), mutationID, img.EntityType, img.EntityID, img.Blob, img.Filename, StatusPending, 0)

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building enqueue image query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing enqueue image query: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading image id: %w", err)
	}

	r.logger.Debug("Image enqueued", "id", id, "entity_type", img.EntityType, "entity_id", img.EntityID, "bytes", len(img.Blob))
	return id, nil
}

// ListPendingMutations returns pending mutations in replay order
func (r *SQLRepository) ListPendingMutations(ctx context.Context) ([]*Mutation, error) {
	return r.queryMutations(ctx, squirrel.Eq{"status": StatusPending}, 0)
}

// ListPendingImages returns pending images in replay order
func (r *SQLRepository) ListPendingImages(ctx context.Context) ([]*PendingImage, error) {
	return r.queryImages(ctx, squirrel.Eq{"status": StatusPending}, 0)
}

// ListReplayableMutations returns pending and retryable failed mutations
func (r *SQLRepository) ListReplayableMutations(ctx context.Context, maxRetries int) ([]*Mutation, error) {
	return r.queryMutations(ctx, replayable(maxRetries), 0)
}

// ListReplayableImages returns pending and retryable failed images
func (r *SQLRepository) ListReplayableImages(ctx context.Context, maxRetries int) ([]*PendingImage, error) {
	return r.queryImages(ctx, replayable(maxRetries), 0)
}

// ListMutations lists mutations, all statuses when status is empty
func (r *SQLRepository) ListMutations(ctx context.Context, status Status, limit int) ([]*Mutation, error) {
	return r.queryMutations(ctx, statusFilter(status), limit)
}

// ListImages lists images, all statuses when status is empty
func (r *SQLRepository) ListImages(ctx context.Context, status Status, limit int) ([]*PendingImage, error) {
	return r.queryImages(ctx, statusFilter(status), limit)
}

func replayable(maxRetries int) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.Eq{"status": StatusPending},
		squirrel.And{
			squirrel.Eq{"status": StatusFailed},
			squirrel.Lt{"retry_count": maxRetries},
		},
	}
}

func statusFilter(status Status) squirrel.Sqlizer {
	if status == "" {
		return squirrel.Expr("1 = 1")
	}
	return squirrel.Eq{"status": status}
}

// GetMutation loads one mutation
func (r *SQLRepository) GetMutation(ctx context.Context, id int64) (*Mutation, error) {
	mutations, err := r.queryMutations(ctx, squirrel.Eq{"id": id}, 1)
	if err != nil {
		return nil, err
	}
	if len(mutations) == 0 {
		return nil, ErrNotFound
	}
	return mutations[0], nil
}

func (r *SQLRepository) queryMutations(ctx context.Context, where squirrel.Sqlizer, limit int) ([]*Mutation, error) {
	q := squirrel.Select(mutationColumns...).
		From("mutations").
		Where(where).
		OrderBy(orderReplay...)
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list mutations query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list mutations query: %w", err)
	}
	defer rows.Close()

	var mutations []*Mutation
	for rows.Next() {
		var (
			m       Mutation
			ts      int64
			data    string
			errText sql.NullString
		)
		if err := rows.Scan(&m.ID, &ts, &m.EntityType, &m.EntityID, &m.Action, &data, &m.Status, &m.RetryCount, &errText); err != nil {
			return nil, fmt.Errorf("scanning mutation row: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		m.Data = json.RawMessage(data)
		m.Error = errText.String
		mutations = append(mutations, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mutation rows: %w", err)
	}

	return mutations, nil
}

func (r *SQLRepository) queryImages(ctx context.Context, where squirrel.Sqlizer, limit int) ([]*PendingImage, error) {
	q := squirrel.Select(imageColumns...).
		From("images").
		Where(where).
		OrderBy(orderReplay...)
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list images query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list images query: %w", err)
	}
	defer rows.Close()

	var images []*PendingImage
	for rows.Next() {
		var (
			img        PendingImage
			ts         int64
			mutationID sql.NullInt64
			errText    sql.NullString
		)
		if err := rows.Scan(&img.ID, &ts, &mutationID, &img.EntityType, &img.EntityID, &img.Size, &img.Filename, &img.Status, &img.RetryCount, &errText); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		img.Timestamp = time.Unix(0, ts)
		if mutationID.Valid {
			id := mutationID.Int64
			img.MutationID = &id
		}
		img.Error = errText.String
		images = append(images, &img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image rows: %w", err)
	}

	return images, nil
}

// LoadImageBlob reads the bytes of one queued image
func (r *SQLRepository) LoadImageBlob(ctx context.Context, id int64) ([]byte, error) {
	query, args, err := squirrel.Select("blob").From("images").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building load image query: %w", err)
	}

	var blob []byte
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("executing load image query: %w", err)
	}
	return blob, nil
}

// UpdateStatus sets status and error of one record. It returns ErrNotFound
// when the record is gone.
func (r *SQLRepository) UpdateStatus(ctx context.Context, kind Kind, id int64, status Status, errMsg string) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	var errValue interface{}
	if errMsg != "" {
		errValue = errMsg
	}

	query, args, err := squirrel.Update(table).
		Set("status", status).
		Set("error", errValue).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update status query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update status query: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading update status result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the retry count of one record
func (r *SQLRepository) IncrementRetry(ctx context.Context, kind Kind, id int64) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Update(table).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building increment retry query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing increment retry query: %w", err)
	}
	return nil
}

// Remove deletes one record
func (r *SQLRepository) Remove(ctx context.Context, kind Kind, id int64) error {
	table, err := kind.table()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Delete(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building remove query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing remove query: %w", err)
	}
	return nil
}

// CountByStatus counts records of a queue in the given status
func (r *SQLRepository) CountByStatus(ctx context.Context, kind Kind, status Status) (int, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}

	query, args, err := squirrel.Select("COUNT(*)").
		From(table).
		Where(squirrel.Eq{"status": status}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("executing count query: %w", err)
	}
	return n, nil
}

// Counts returns pending and failed counts for both queues
func (r *SQLRepository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		kind   Kind
		status Status
		dst    *int
	}{
		{KindMutation, StatusPending, &c.PendingMutations},
		{KindMutation, StatusFailed, &c.FailedMutations},
		{KindImage, StatusPending, &c.PendingImages},
		{KindImage, StatusFailed, &c.FailedImages},
	}

	for _, t := range targets {
		n, err := r.CountByStatus(ctx, t.kind, t.status)
		if err != nil {
			return Counts{}, err
		}
		*t.dst = n
	}
	return c, nil
}

// ResetFailed moves failed records back to pending. Retry counts are kept.
func (r *SQLRepository) ResetFailed(ctx context.Context, kind Kind) (int64, error) {
	return r.transition(ctx, kind, StatusFailed, StatusPending)
}

// RecoverInterrupted returns records left in syncing by a crashed cycle to pending
func (r *SQLRepository) RecoverInterrupted(ctx context.Context) (int64, error) {
	var total int64
	for _, kind := range []Kind{KindMutation, KindImage} {
		n, err := r.transition(ctx, kind, StatusSyncing, StatusPending)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		r.logger.Warn("Recovered records interrupted mid-sync", "count", total)
	}
	return total, nil
}

func (r *SQLRepository) transition(ctx context.Context, kind Kind, from, to Status) (int64, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}

	query, args, err := squirrel.Update(table).
		Set("status", to).
		Where(squirrel.Eq{"status": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building status transition query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing status transition query: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFailed deletes failed records
func (r *SQLRepository) PurgeFailed(ctx context.Context, kind Kind) (int64, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}

	query, args, err := squirrel.Delete(table).Where(squirrel.Eq{"status": StatusFailed}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building purge query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing purge query: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll wipes every user-data table in one transaction. Settings survive;
// the caller clears the credential slot separately.
func (r *SQLRepository) ClearAll(ctx context.Context) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		for _, table := range []string{"mutations", "images", "entity_cache", "sync_logs"} {
			query, args, err := squirrel.Delete(table).ToSql()
			if err != nil {
				return fmt.Errorf("building clear %s query: %w", table, err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("executing clear %s query: %w", table, err)
			}
		}
		r.logger.Info("Local store cleared")
		return nil
	})
}
