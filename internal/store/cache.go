package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
)

// EntityCache is the read-cache half of the local store
type EntityCache interface {
	// PutEntity inserts or replaces a cached entity
	PutEntity(ctx context.Context, e *CachedEntity) error

	// GetEntity returns a cached entity or ErrNotFound
	GetEntity(ctx context.Context, entityType EntityType, entityID string) (*CachedEntity, error)

	// DeleteEntity drops a cached entity; missing entries are ignored
	DeleteEntity(ctx context.Context, entityType EntityType, entityID string) error

	// CountEntities returns the number of cached entities per type
	CountEntities(ctx context.Context) (map[EntityType]int, error)
}

// PutEntity inserts or replaces a cached entity
func (r *SQLRepository) PutEntity(ctx context.Context, e *CachedEntity) error {
	if e.EntityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now()
	}

	query, args, err := squirrel.Insert("entity_cache").
		Columns("entity_type", "entity_id", "data", "local_edit", "updated_at").
		Values(e.EntityType, e.EntityID, string(e.Data), e.LocalEdit, e.UpdatedAt.UnixNano()).
		Suffix("ON CONFLICT(entity_type, entity_id) DO UPDATE SET data = excluded.data, local_edit = excluded.local_edit, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building put entity query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing put entity query: %w", err)
	}
	return nil
}

// GetEntity returns a cached entity
func (r *SQLRepository) GetEntity(ctx context.Context, entityType EntityType, entityID string) (*CachedEntity, error) {
	query, args, err := squirrel.Select("data", "local_edit", "updated_at").
		From("entity_cache").
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get entity query: %w", err)
	}

	var (
		data      string
		localEdit bool
		updatedAt int64
	)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&data, &localEdit, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("executing get entity query: %w", err)
	}

	return &CachedEntity{
		EntityType: entityType,
		EntityID:   entityID,
		Data:       json.RawMessage(data),
		LocalEdit:  localEdit,
		UpdatedAt:  time.Unix(0, updatedAt),
	}, nil
}

// DeleteEntity drops a cached entity
func (r *SQLRepository) DeleteEntity(ctx context.Context, entityType EntityType, entityID string) error {
	query, args, err := squirrel.Delete("entity_cache").
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete entity query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete entity query: %w", err)
	}
	return nil
}

// CountEntities returns cached entity counts per type
func (r *SQLRepository) CountEntities(ctx context.Context) (map[EntityType]int, error) {
	query, args, err := squirrel.Select("entity_type", "COUNT(*)").
		From("entity_cache").
		GroupBy("entity_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count entities query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing count entities query: %w", err)
	}
	defer rows.Close()

	counts := make(map[EntityType]int)
	for rows.Next() {
		var (
			t EntityType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scanning entity count row: %w", err)
		}
		counts[t] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity count rows: %w", err)
	}
	return counts, nil
}
