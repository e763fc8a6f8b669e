// Package cache fronts the SQLite entity read cache with an in-memory LRU
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/synaxhq/synax/internal/store"
)

type key struct {
	entityType store.EntityType
	entityID   string
}

// Service is a write-through LRU over a store.EntityCache. Entries expire
// after ttl so that edits made by other processes on the same database show
// up eventually.
type Service struct {
	backend store.EntityCache
	lru     *expirable.LRU[key, *store.CachedEntity]
}

// New creates a cache holding at most size entries for ttl
func New(backend store.EntityCache, size int, ttl time.Duration) *Service {
	if size <= 0 {
		size = 512
	}
	return &Service{
		backend: backend,
		lru:     expirable.NewLRU[key, *store.CachedEntity](size, nil, ttl),
	}
}

// PutEntity writes through to the backend
func (s *Service) PutEntity(ctx context.Context, e *store.CachedEntity) error {
	if err := s.backend.PutEntity(ctx, e); err != nil {
		return err
	}
	s.lru.Add(key{e.EntityType, e.EntityID}, clone(e))
	return nil
}

// GetEntity serves from memory when it can
func (s *Service) GetEntity(ctx context.Context, entityType store.EntityType, entityID string) (*store.CachedEntity, error) {
	k := key{entityType, entityID}
	if e, ok := s.lru.Get(k); ok {
		return clone(e), nil
	}

	e, err := s.backend.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	s.lru.Add(k, clone(e))
	return e, nil
}

// DeleteEntity removes from both layers
func (s *Service) DeleteEntity(ctx context.Context, entityType store.EntityType, entityID string) error {
	s.lru.Remove(key{entityType, entityID})
	return s.backend.DeleteEntity(ctx, entityType, entityID)
}

// CountEntities always asks the backend
func (s *Service) CountEntities(ctx context.Context) (map[store.EntityType]int, error) {
	return s.backend.CountEntities(ctx)
}

// Len is the number of entries held in memory
func (s *Service) Len() int {
	return s.lru.Len()
}

// Purge drops every in-memory entry. Call it after the backend is wiped.
func (s *Service) Purge() {
	s.lru.Purge()
}

func clone(e *store.CachedEntity) *store.CachedEntity {
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	return &c
}
