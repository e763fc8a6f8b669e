package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
)

// fakeClock hands out strictly increasing timestamps
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	logger := loggy.NewNoopLogger()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"}, logger)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, logger))
	t.Cleanup(func() { db.Close() })
	return db
}

func setupRepo(t *testing.T) *SQLRepository {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	return NewSQLRepository(setupTestDB(t), loggy.NewNoopLogger()).WithClock(clock.Now)
}

func TestEnqueueMutationDefaults(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, json.RawMessage(`{"name":"Lab 2"}`))
	require.NoError(t, err)
	assert.Positive(t, id)

	m, err := repo.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EntityRoom, m.EntityType)
	assert.Equal(t, "r1", m.EntityID)
	assert.Equal(t, ActionUpdate, m.Action)
	assert.JSONEq(t, `{"name":"Lab 2"}`, string(m.Data))
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, 0, m.RetryCount)
	assert.Empty(t, m.Error)
	assert.False(t, m.Timestamp.IsZero())

	id, err = repo.EnqueueMutation(ctx, EntityAsset, "a1", ActionDelete, nil)
	require.NoError(t, err)
	m, err = repo.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(m.Data))

	_, err = repo.GetMutation(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPendingOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	var ids []int64
	for i := 0; i < 25; i++ {
		id, err := repo.EnqueueMutation(ctx, EntityIssue, "i1", ActionUpdate, json.RawMessage(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Knock a random subset out of the pending state
	removed := map[int64]bool{}
	for _, id := range ids {
		switch rng.Intn(3) {
		case 0:
			require.NoError(t, repo.Remove(ctx, KindMutation, id))
			removed[id] = true
		case 1:
			require.NoError(t, repo.UpdateStatus(ctx, KindMutation, id, StatusFailed, "nope"))
			removed[id] = true
		}
	}

	pending, err := repo.ListPendingMutations(ctx)
	require.NoError(t, err)

	var want []int64
	for _, id := range ids {
		if !removed[id] {
			want = append(want, id)
		}
	}
	var got []int64
	for i, m := range pending {
		got = append(got, m.ID)
		assert.Equal(t, StatusPending, m.Status)
		if i > 0 {
			assert.False(t, m.Timestamp.Before(pending[i-1].Timestamp))
		}
	}
	assert.Equal(t, want, got)
}

func TestListPendingTieBreaksOnID(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewSQLRepository(setupTestDB(t), loggy.NewNoopLogger()).WithClock(func() time.Time { return fixed })
	ctx := context.Background()

	first, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	require.NoError(t, err)
	second, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	require.NoError(t, err)

	pending, err := repo.ListPendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
}

func TestUpdateStatusKeepsRetryCount(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueMutation(ctx, EntityAsset, "a1", ActionCreate, nil)
	require.NoError(t, err)

	require.NoError(t, repo.IncrementRetry(ctx, KindMutation, id))
	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, id, StatusFailed, "HTTP 500"))

	m, err := repo.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, "HTTP 500", m.Error)
	assert.Equal(t, 1, m.RetryCount)

	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, id, StatusSyncing, ""))
	m, err = repo.GetMutation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSyncing, m.Status)
	assert.Empty(t, m.Error)
	assert.Equal(t, 1, m.RetryCount)

	assert.Error(t, repo.UpdateStatus(ctx, KindMutation, id, Status("bogus"), ""))
	assert.Error(t, repo.UpdateStatus(ctx, Kind("bogus"), id, StatusPending, ""))
}

func TestUpdateStatusMissingRecord(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	require.NoError(t, err)
	require.NoError(t, repo.ClearAll(ctx))

	assert.ErrorIs(t, repo.UpdateStatus(ctx, KindMutation, id, StatusSyncing, ""), ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, KindImage, 999, StatusFailed, "x"), ErrNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	require.NoError(t, err)

	require.NoError(t, repo.Remove(ctx, KindMutation, id))
	require.NoError(t, repo.Remove(ctx, KindMutation, id))
	require.NoError(t, repo.Remove(ctx, KindImage, 12345))

	n, err := repo.CountByStatus(ctx, KindMutation, StatusPending)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayableIncludesFailedBelowCap(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	pending, _ := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	retryable, _ := repo.EnqueueMutation(ctx, EntityRoom, "r2", ActionUpdate, nil)
	exhausted, _ := repo.EnqueueMutation(ctx, EntityRoom, "r3", ActionUpdate, nil)

	require.NoError(t, repo.IncrementRetry(ctx, KindMutation, retryable))
	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, retryable, StatusFailed, "x"))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.IncrementRetry(ctx, KindMutation, exhausted))
	}
	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, exhausted, StatusFailed, "x"))

	list, err := repo.ListReplayableMutations(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, pending, list[0].ID)
	assert.Equal(t, retryable, list[1].ID)

	list, err = repo.ListReplayableMutations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending, list[0].ID)

	moved, err := repo.ResetFailed(ctx, KindMutation)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	m, err := repo.GetMutation(ctx, exhausted)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, 3, m.RetryCount)
}

func TestImagesQueue(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	mutationID := int64(42)
	id, err := repo.EnqueueImage(ctx, &PendingImage{
		MutationID: &mutationID,
		EntityType: EntityIssue,
		EntityID:   "iss-1",
		Blob:       []byte{0xff, 0xd8, 0xff, 0xe0},
		Filename:   "crack.jpg",
	})
	require.NoError(t, err)

	_, err = repo.EnqueueImage(ctx, &PendingImage{EntityType: EntityIssue, EntityID: "iss-1", Filename: "empty.jpg"})
	assert.Error(t, err)

	images, err := repo.ListPendingImages(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	img := images[0]
	assert.Equal(t, id, img.ID)
	assert.Nil(t, img.Blob)
	assert.Equal(t, int64(4), img.Size)
	require.NotNil(t, img.MutationID)
	assert.Equal(t, mutationID, *img.MutationID)
	assert.Equal(t, "crack.jpg", img.Filename)

	blob, err := repo.LoadImageBlob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, blob)

	_, err = repo.LoadImageBlob(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.IncrementRetry(ctx, KindImage, id))
	require.NoError(t, repo.UpdateStatus(ctx, KindImage, id, StatusFailed, "HTTP 413"))

	failed, err := repo.ListImages(ctx, StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)
	assert.Equal(t, "HTTP 413", failed[0].Error)

	purged, err := repo.PurgeFailed(ctx, KindImage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestCountsAndRecoverInterrupted(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a, _ := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	b, _ := repo.EnqueueMutation(ctx, EntityRoom, "r2", ActionUpdate, nil)
	_, _ = repo.EnqueueMutation(ctx, EntityRoom, "r3", ActionUpdate, nil)
	_, err := repo.EnqueueImage(ctx, &PendingImage{EntityType: EntityChecklistItem, EntityID: "c1", Blob: []byte("x"), Filename: "a.png"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, a, StatusFailed, "boom"))
	require.NoError(t, repo.UpdateStatus(ctx, KindMutation, b, StatusSyncing, ""))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{PendingMutations: 1, FailedMutations: 1, PendingImages: 1}, counts)

	n, err := repo.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.PendingMutations)
}

func TestClearAll(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.EnqueueMutation(ctx, EntityRoom, "r1", ActionUpdate, nil)
	require.NoError(t, err)
	_, err = repo.EnqueueImage(ctx, &PendingImage{EntityType: EntityIssue, EntityID: "i1", Blob: []byte("x"), Filename: "a.png"})
	require.NoError(t, err)
	require.NoError(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityRoom, EntityID: "r1", Data: json.RawMessage(`{"name":"Lab"}`)}))

	require.NoError(t, repo.ClearAll(ctx))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	entities, err := repo.CountEntities(ctx)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestEntityCache(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityRoom, EntityID: "r1", Data: json.RawMessage(`{"name":"Lab"}`)}))
	require.NoError(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityRoom, EntityID: "r2", Data: json.RawMessage(`{}`)}))
	require.NoError(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityAsset, EntityID: "a1", Data: json.RawMessage(`{}`)}))

	// replace
	require.NoError(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityRoom, EntityID: "r1", Data: json.RawMessage(`{"name":"Lab 2"}`), LocalEdit: true}))

	e, err := repo.GetEntity(ctx, EntityRoom, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Lab 2"}`, string(e.Data))
	assert.True(t, e.LocalEdit)

	counts, err := repo.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[EntityType]int{EntityRoom: 2, EntityAsset: 1}, counts)

	require.NoError(t, repo.DeleteEntity(ctx, EntityRoom, "r2"))
	_, err = repo.GetEntity(ctx, EntityRoom, "r2")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.PutEntity(ctx, &CachedEntity{EntityType: EntityRoom}))
}

func TestListPendingQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, loggy.NewNoopLogger())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, timestamp, entity_type, entity_id, action, data, status, retry_count, error FROM mutations WHERE status = ? ORDER BY timestamp ASC, id ASC")).
		WithArgs("pending").
		WillReturnError(errors.New("disk I/O error"))

	_, err = repo.ListPendingMutations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing list mutations query")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueMutationSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewSQLRepository(db, loggy.NewNoopLogger()).WithClock(func() time.Time { return at })

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mutations (timestamp,entity_type,entity_id,action,data,status,retry_count) VALUES (?,?,?,?,?,?,?)")).
		WithArgs(at.UnixNano(), "room", "r1", "update", `{"name":"Lab 2"}`, "pending", 0).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := repo.EnqueueMutation(context.Background(), EntityRoom, "r1", ActionUpdate, json.RawMessage(`{"name":"Lab 2"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("images")
	require.NoError(t, err)
	assert.Equal(t, KindImage, k)

	k, err = ParseKind("mutation")
	require.NoError(t, err)
	assert.Equal(t, KindMutation, k)

	_, err = ParseKind("widgets")
	assert.Error(t, err)

	assert.True(t, EntityChecklistItem.Known())
	assert.False(t, EntityType("widget").Known())
}
