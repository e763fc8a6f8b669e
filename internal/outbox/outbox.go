// Package outbox is the entry point for recording offline changes. It
// validates them, queues them in the local store and applies them to the
// entity read cache so offline reads see local edits.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaxhq/synax/internal/domain"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/store"
)

// ErrInvalidChange is returned for a change that cannot be queued
var ErrInvalidChange = errors.New("invalid change")

// Queue is the part of the store the outbox writes to
type Queue interface {
	EnqueueMutation(ctx context.Context, entityType store.EntityType, entityID string, action store.Action, data json.RawMessage) (int64, error)
	EnqueueImage(ctx context.Context, img *store.PendingImage) (int64, error)
}

// NotifyFunc runs after every successful enqueue
type NotifyFunc func(ctx context.Context, kind store.Kind, id int64)

// Service records offline changes
type Service struct {
	queue  Queue
	cache  store.EntityCache
	notify NotifyFunc
	logger *loggy.Logger
}

// NewService creates a new outbox. cache and notify may be nil.
func NewService(queue Queue, cache store.EntityCache, notify NotifyFunc, logger *loggy.Logger) *Service {
	return &Service{queue: queue, cache: cache, notify: notify, logger: logger}
}

// Enqueue records an untyped change, as posted by the UI. Data for entity
// types and actions the API knows is checked against their typed body.
func (s *Service) Enqueue(ctx context.Context, entityType store.EntityType, entityID string, action store.Action, data map[string]any) (int64, error) {
	if err := checkChange(entityType, entityID, action); err != nil {
		return 0, err
	}

	raw := json.RawMessage("{}")
	if len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("%w: encoding data: %v", ErrInvalidChange, err)
		}
		raw = encoded
	}

	payload, err := domain.Decode(entityType, action, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	return s.enqueue(ctx, entityType, entityID, action, raw, payload)
}

// EnqueueChange records a typed change
func (s *Service) EnqueueChange(ctx context.Context, entityID string, payload domain.Payload) (int64, error) {
	if err := checkChange(payload.Entity(), entityID, payload.Action()); err != nil {
		return 0, err
	}

	raw, err := domain.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	return s.enqueue(ctx, payload.Entity(), entityID, payload.Action(), raw, payload)
}

func (s *Service) enqueue(ctx context.Context, entityType store.EntityType, entityID string, action store.Action, raw json.RawMessage, payload domain.Payload) (int64, error) {
	id, err := s.queue.EnqueueMutation(ctx, entityType, entityID, action, raw)
	if err != nil {
		return 0, fmt.Errorf("queueing %s %s: %w", action, entityType, err)
	}

	if err := s.applyToCache(ctx, entityID, action, payload); err != nil {
		// the change is queued; a stale read cache is not fatal
		s.logger.Warn("Failed to apply change to entity cache",
			"entity_type", entityType, "entity_id", entityID, "error", err)
	}

	s.logger.Info("Change queued", "id", id, "entity_type", entityType, "entity_id", entityID, "action", action)
	if s.notify != nil {
		s.notify(ctx, store.KindMutation, id)
	}
	return id, nil
}

func (s *Service) applyToCache(ctx context.Context, entityID string, action store.Action, payload domain.Payload) error {
	if s.cache == nil {
		return nil
	}
	entityType := payload.Entity()

	if action == store.ActionDelete {
		return s.cache.DeleteEntity(ctx, entityType, entityID)
	}

	var base json.RawMessage
	current, err := s.cache.GetEntity(ctx, entityType, entityID)
	switch {
	case err == nil:
		base = current.Data
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}

	merged, err := domain.Merge(base, payload)
	if err != nil {
		return err
	}
	return s.cache.PutEntity(ctx, &store.CachedEntity{
		EntityType: entityType,
		EntityID:   entityID,
		Data:       merged,
		LocalEdit:  true,
	})
}

// ImageInput is a photo to queue. Data wins over Path when both are set.
type ImageInput struct {
	EntityType store.EntityType
	EntityID   string
	MutationID *int64
	Filename   string
	Path       string
	Data       []byte
}

// EnqueueImage queues a photo for upload
func (s *Service) EnqueueImage(ctx context.Context, in ImageInput) (int64, error) {
	if strings.TrimSpace(in.EntityID) == "" {
		return 0, fmt.Errorf("%w: entity id is required", ErrInvalidChange)
	}
	if strings.TrimSpace(string(in.EntityType)) == "" {
		return 0, fmt.Errorf("%w: entity type is required", ErrInvalidChange)
	}

	data := in.Data
	filename := in.Filename
	if len(data) == 0 && in.Path != "" {
		read, err := os.ReadFile(in.Path)
		if err != nil {
			return 0, fmt.Errorf("reading image: %w", err)
		}
		data = read
		if filename == "" {
			filename = filepath.Base(in.Path)
		}
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: image is empty", ErrInvalidChange)
	}

	id, err := s.queue.EnqueueImage(ctx, &store.PendingImage{
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		MutationID: in.MutationID,
		Filename:   filename,
		Blob:       data,
	})
	if err != nil {
		return 0, fmt.Errorf("queueing image: %w", err)
	}

	s.logger.Info("Image queued", "id", id, "entity_type", in.EntityType, "entity_id", in.EntityID, "bytes", len(data))
	if s.notify != nil {
		s.notify(ctx, store.KindImage, id)
	}
	return id, nil
}

func checkChange(entityType store.EntityType, entityID string, action store.Action) error {
	if strings.TrimSpace(string(entityType)) == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidChange)
	}
	if strings.TrimSpace(entityID) == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidChange)
	}
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidChange, action)
	}
	return nil
}
