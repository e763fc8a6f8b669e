package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/store"
)

// memBackend counts reads so tests can see cache hits
type memBackend struct {
	items map[key]*store.CachedEntity
	gets  int
}

func newMemBackend() *memBackend {
	return &memBackend{items: map[key]*store.CachedEntity{}}
}

func (m *memBackend) PutEntity(_ context.Context, e *store.CachedEntity) error {
	m.items[key{e.EntityType, e.EntityID}] = clone(e)
	return nil
}

func (m *memBackend) GetEntity(_ context.Context, t store.EntityType, id string) (*store.CachedEntity, error) {
	m.gets++
	e, ok := m.items[key{t, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

func (m *memBackend) DeleteEntity(_ context.Context, t store.EntityType, id string) error {
	delete(m.items, key{t, id})
	return nil
}

func (m *memBackend) CountEntities(context.Context) (map[store.EntityType]int, error) {
	out := map[store.EntityType]int{}
	for k := range m.items {
		out[k.entityType]++
	}
	return out, nil
}

func TestWriteThroughAndHit(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, 8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.PutEntity(ctx, &store.CachedEntity{EntityType: store.EntityRoom, EntityID: "r1", Data: json.RawMessage(`{"name":"Lab"}`)}))
	assert.Contains(t, backend.items, key{store.EntityRoom, "r1"})

	e, err := c.GetEntity(ctx, store.EntityRoom, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Lab"}`, string(e.Data))
	assert.Zero(t, backend.gets)

	// callers cannot mutate the cached copy
	e.Data[2] = 'X'
	again, err := c.GetEntity(ctx, store.EntityRoom, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Lab"}`, string(again.Data))
}

func TestMissFallsBackToBackend(t *testing.T) {
	backend := newMemBackend()
	backend.items[key{store.EntityAsset, "a1"}] = &store.CachedEntity{EntityType: store.EntityAsset, EntityID: "a1", Data: json.RawMessage(`{}`)}
	c := New(backend, 8, time.Minute)
	ctx := context.Background()

	_, err := c.GetEntity(ctx, store.EntityAsset, "a1")
	require.NoError(t, err)
	_, err = c.GetEntity(ctx, store.EntityAsset, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.gets)

	_, err = c.GetEntity(ctx, store.EntityAsset, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAndPurge(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, 8, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, c.PutEntity(ctx, &store.CachedEntity{EntityType: store.EntityRoom, EntityID: id}))
	}
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.DeleteEntity(ctx, store.EntityRoom, "r1"))
	_, err := c.GetEntity(ctx, store.EntityRoom, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	counts, err := c.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[store.EntityRoom])

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestEviction(t *testing.T) {
	c := New(newMemBackend(), 2, time.Minute)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.PutEntity(ctx, &store.CachedEntity{EntityType: store.EntityIssue, EntityID: id}))
	}
	assert.Equal(t, 2, c.Len())
}
