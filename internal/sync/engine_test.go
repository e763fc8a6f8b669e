package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/domain"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/remote"
	"github.com/synaxhq/synax/internal/store"
	"github.com/synaxhq/synax/internal/syncstate"
)

type sentRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeDispatcher records requests and fails the ones its hook says to
type fakeDispatcher struct {
	mu      stdsync.Mutex
	sent    []sentRequest
	uploads []*remote.Upload
	onSend  func(req *remote.Request) error
}

func (d *fakeDispatcher) Send(_ context.Context, req *remote.Request) error {
	body, _ := json.Marshal(req.Body)
	d.mu.Lock()
	d.sent = append(d.sent, sentRequest{Method: req.Method, Path: req.Path, Body: string(body)})
	hook := d.onSend
	d.mu.Unlock()

	if hook != nil {
		return hook(req)
	}
	return nil
}

func (d *fakeDispatcher) Upload(_ context.Context, u *remote.Upload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, u)
	return nil
}

func (d *fakeDispatcher) Sent() []sentRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentRequest(nil), d.sent...)
}

type fixture struct {
	db     *sql.DB
	repo   *store.SQLRepository
	logs   *SQLRepository
	state  *syncstate.State
	remote *fakeDispatcher
	engine *Engine
	reg    *prometheus.Registry
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	logger := loggy.NewNoopLogger()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"}, logger)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, logger))
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var clockMu stdsync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}

	f := &fixture{
		db:     db,
		repo:   store.NewSQLRepository(db, logger).WithClock(now),
		logs:   NewSQLRepository(db, logger),
		state:  syncstate.New(),
		remote: &fakeDispatcher{},
		reg:    prometheus.NewRegistry(),
	}
	f.engine = NewEngine(f.repo, f.remote, f.state, Options{
		MaxRetries: maxRetries,
		Logs:       f.logs,
		Metrics:    NewMetrics(f.reg),
		Now:        now,
	}, logger)
	f.state.SetOnline(true)
	return f
}

func (f *fixture) enqueue(t *testing.T, entity store.EntityType, id string, action store.Action, data string) int64 {
	t.Helper()
	rid, err := f.repo.EnqueueMutation(context.Background(), entity, id, action, json.RawMessage(data))
	require.NoError(t, err)
	return rid
}

func TestSyncNowOffline(t *testing.T) {
	f := newFixture(t, 3)
	f.state.SetOnline(false)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"Lab 2"}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipOffline, res.SkipReason)
	assert.Empty(t, f.remote.Sent())

	pending, err := f.repo.ListPendingMutations(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRoomUpdateScenario(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"Lab 2"}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 1, res.MutationsSynced)

	assert.Equal(t, []sentRequest{{Method: "PUT", Path: "/rooms/r1", Body: `{"name":"Lab 2"}`}}, f.remote.Sent())

	pending, err := f.repo.ListPendingMutations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	snap := f.state.Snapshot()
	assert.False(t, snap.IsSyncing)
	assert.Equal(t, 100.0, snap.SyncProgress)
	assert.NotNil(t, snap.LastSyncAt)
	assert.Zero(t, snap.PendingMutations)
}

func TestExplicitNullIsReplayed(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityIssue, "i1", store.ActionUpdate, `{"assignedTo":null,"title":"x"}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MutationsSynced)

	sent := f.remote.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "/issues/i1", sent[0].Path)
	assert.JSONEq(t, `{"title":"x","assignedTo":null}`, sent[0].Body)
}

func TestUnmappedWidgetScenario(t *testing.T) {
	f := newFixture(t, 3)
	id := f.enqueue(t, "widget", "w1", store.ActionUpdate, `{}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedItems)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ErrorTypeMapping, res.Failures[0].ErrorType)
	assert.Empty(t, f.remote.Sent())

	m, err := f.repo.GetMutation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, m.Status)
	assert.Equal(t, 1, m.RetryCount)
	assert.Contains(t, m.Error, "no remote route")

	snap := f.state.Snapshot()
	assert.Equal(t, 1, snap.FailedMutations)
	assert.Empty(t, snap.SyncError)
}

func TestFailureIsolation(t *testing.T) {
	f := newFixture(t, 3)
	first := f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)
	f.enqueue(t, store.EntityRoom, "r2", store.ActionUpdate, `{"name":"B"}`)

	f.remote.onSend = func(req *remote.Request) error {
		if req.Path == "/rooms/r1" {
			return &remote.APIError{StatusCode: 422, Message: "name taken"}
		}
		return nil
	}

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalItems)
	assert.Equal(t, 1, res.SuccessItems)
	assert.Equal(t, 1, res.FailedItems)
	assert.Len(t, f.remote.Sent(), 2)

	m, err := f.repo.GetMutation(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, m.Status)
	assert.Equal(t, "name taken", m.Error)
	assert.Equal(t, 1, m.RetryCount)

	all, err := f.repo.ListMutations(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	logs, err := f.logs.ListSyncLogs(context.Background(), LogFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ErrorTypeClient, logs[0].ErrorType)
	assert.Equal(t, res.CycleID, logs[0].CycleID)
}

func TestSameEntityOrdering(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityIssue, "i1", store.ActionUpdate, `{"status":"in_progress"}`)
	f.enqueue(t, store.EntityIssue, "i1", store.ActionUpdate, `{"status":"resolved"}`)
	f.enqueue(t, store.EntityIssue, "i1", store.ActionUpdate, `{"resolution":"patched"}`)

	_, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)

	sent := f.remote.Sent()
	require.Len(t, sent, 3)
	assert.JSONEq(t, `{"status":"in_progress"}`, sent[0].Body)
	assert.JSONEq(t, `{"status":"resolved"}`, sent[1].Body)
	assert.JSONEq(t, `{"resolution":"patched"}`, sent[2].Body)
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)

	enqueued := false
	f.remote.onSend = func(*remote.Request) error {
		if !enqueued {
			enqueued = true
			f.enqueue(t, store.EntityRoom, "r2", store.ActionUpdate, `{"name":"B"}`)
		}
		return nil
	}

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalItems)
	assert.Len(t, f.remote.Sent(), 1)

	pending, err := f.repo.ListPendingMutations(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].EntityID)

	res, err = f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MutationsSynced)
}

func TestSingleCycle(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.onSend = func(*remote.Request) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan *SyncResult)
	go func() {
		res, _ := f.engine.SyncNow(context.Background())
		done <- res
	}()

	<-entered
	assert.True(t, f.engine.IsSyncing())
	assert.True(t, f.state.Snapshot().IsSyncing)

	for i := 0; i < 5; i++ {
		res, err := f.engine.SyncNow(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, SkipBusy, res.SkipReason)
	}

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.MutationsSynced)
	assert.False(t, f.engine.IsSyncing())
	assert.Len(t, f.remote.Sent(), 1)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.engine.metrics.cycles.WithLabelValues("skipped_busy")))
}

func TestProgressMonotonic(t *testing.T) {
	f := newFixture(t, 3)
	for i := 0; i < 4; i++ {
		f.enqueue(t, store.EntityRoom, fmt.Sprintf("r%d", i), store.ActionUpdate, `{"name":"x"}`)
	}
	_, err := f.repo.EnqueueImage(context.Background(), &store.PendingImage{
		EntityType: store.EntityIssue,
		EntityID:   "i1",
		Blob:       []byte("jpeg"),
		Filename:   "leak.jpg",
	})
	require.NoError(t, err)

	var seen []float64
	f.remote.onSend = func(*remote.Request) error {
		seen = append(seen, f.state.Snapshot().SyncProgress)
		if len(seen) == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalItems)
	assert.Equal(t, 1, res.ImagesSynced)

	assert.Equal(t, []float64{0, 20, 40, 60}, seen)
	assert.Equal(t, 100.0, f.state.Snapshot().SyncProgress)

	f.remote.mu.Lock()
	require.Len(t, f.remote.uploads, 1)
	assert.Equal(t, "/issues/i1/photos", f.remote.uploads[0].Path)
	assert.Equal(t, []byte("jpeg"), f.remote.uploads[0].Data)
	f.remote.mu.Unlock()
}

func TestClearAllDuringCycleStopsReplay(t *testing.T) {
	for _, firstFails := range []bool{false, true} {
		t.Run(fmt.Sprintf("first_fails=%v", firstFails), func(t *testing.T) {
			f := newFixture(t, 3)
			f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)
			f.enqueue(t, store.EntityRoom, "r2", store.ActionUpdate, `{"name":"B"}`)
			_, err := f.repo.EnqueueImage(context.Background(), &store.PendingImage{
				EntityType: store.EntityIssue,
				EntityID:   "i1",
				Blob:       []byte("jpeg"),
			})
			require.NoError(t, err)

			f.remote.onSend = func(*remote.Request) error {
				require.NoError(t, f.repo.ClearAll(context.Background()))
				if firstFails {
					return errors.New("connection reset")
				}
				return nil
			}

			res, err := f.engine.SyncNow(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, res.FailedItems)

			sent := f.remote.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, "/rooms/r1", sent[0].Path)

			f.remote.mu.Lock()
			assert.Empty(t, f.remote.uploads)
			f.remote.mu.Unlock()

			for _, status := range []store.Status{store.StatusPending, store.StatusFailed} {
				n, err := f.repo.CountByStatus(context.Background(), store.KindMutation, status)
				require.NoError(t, err)
				assert.Zero(t, n)
			}
		})
	}
}

func TestHoldWaitsForRunningCycle(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.remote.onSend = func(*remote.Request) error {
		close(entered)
		<-unblock
		return nil
	}

	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		_, _ = f.engine.SyncNow(context.Background())
	}()
	<-entered

	held := make(chan func())
	go func() {
		release, err := f.engine.Hold(context.Background())
		assert.NoError(t, err)
		held <- release
	}()

	select {
	case <-held:
		t.Fatal("Hold returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	<-cycleDone
	release := <-held

	f.remote.onSend = nil
	f.enqueue(t, store.EntityRoom, "r2", store.ActionUpdate, `{"name":"B"}`)
	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipBusy, res.SkipReason)

	release()
	res, err = f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.MutationsSynced)
}

func TestHoldHonorsContext(t *testing.T) {
	f := newFixture(t, 3)
	release, err := f.engine.Hold(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.engine.Hold(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCancelledContextDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)
	f.enqueue(t, store.EntityRoom, "r2", store.ActionUpdate, `{"name":"B"}`)

	ctx, cancel := context.WithCancel(context.Background())
	f.remote.onSend = func(*remote.Request) error {
		cancel()
		return nil
	}

	res, err := f.engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MutationsSynced)
}

func TestRetryCap(t *testing.T) {
	f := newFixture(t, 2)
	id := f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)
	f.remote.onSend = func(*remote.Request) error {
		return &remote.APIError{StatusCode: 503, Message: "HTTP 503"}
	}

	for i := 0; i < 4; i++ {
		_, err := f.engine.SyncNow(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, f.remote.Sent(), 2)

	m, err := f.repo.GetMutation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, m.RetryCount)
	assert.Equal(t, store.StatusFailed, m.Status)

	n, err := f.repo.ResetFailed(context.Background(), store.KindMutation)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	f.remote.onSend = nil
	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MutationsSynced)
}

func TestZeroMaxRetriesNeverReplaysFailures(t *testing.T) {
	f := newFixture(t, 0)
	f.enqueue(t, "widget", "w1", store.ActionUpdate, `{}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedItems)

	res, err = f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.TotalItems)
}

// brokenOutbox fails queue reads
type brokenOutbox struct {
	*store.SQLRepository
}

func (brokenOutbox) ListReplayableMutations(context.Context, int) ([]*store.Mutation, error) {
	return nil, errors.New("database is locked")
}

func TestWholeCycleFailure(t *testing.T) {
	f := newFixture(t, 3)
	f.enqueue(t, store.EntityRoom, "r1", store.ActionUpdate, `{"name":"A"}`)
	require.NoError(t, f.engine.RefreshCounts(context.Background()))

	engine := NewEngine(brokenOutbox{f.repo}, f.remote, f.state, Options{MaxRetries: 3}, loggy.NewNoopLogger())
	res, err := engine.SyncNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NotNil(t, res)
	assert.False(t, engine.IsSyncing())

	snap := f.state.Snapshot()
	assert.False(t, snap.IsSyncing)
	assert.Contains(t, snap.SyncError, "database is locked")
	assert.Nil(t, snap.LastSyncAt)
	assert.Equal(t, 1, snap.PendingMutations)

	// the next good cycle clears the error
	res, err = f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MutationsSynced)
	assert.Empty(t, f.state.Snapshot().SyncError)
}

func TestInvalidStoredPayloadIsMappingFailure(t *testing.T) {
	f := newFixture(t, 3)
	id := f.enqueue(t, store.EntityAsset, "a1", store.ActionCreate, `{"name":"no room"}`)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ErrorTypeMapping, res.Failures[0].ErrorType)

	m, err := f.repo.GetMutation(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, m.Error, domain.ErrInvalidPayload.Error())
}

func TestUnmappedImage(t *testing.T) {
	f := newFixture(t, 3)
	id, err := f.repo.EnqueueImage(context.Background(), &store.PendingImage{
		EntityType: store.EntityRoom,
		EntityID:   "r1",
		Blob:       []byte("x"),
		Filename:   "room.jpg",
	})
	require.NoError(t, err)

	res, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedItems)

	images, err := f.repo.ListImages(context.Background(), store.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, id, images[0].ID)
	assert.Equal(t, 1, images[0].RetryCount)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"unmapped", fmt.Errorf("%w for delete project", remote.ErrUnmapped), ErrorTypeMapping},
		{"invalid payload", fmt.Errorf("%w: bad", domain.ErrInvalidPayload), ErrorTypeMapping},
		{"no token", fmt.Errorf("executing request: %w", remote.ErrNoCredentials), ErrorTypeAuth},
		{"401", &remote.APIError{StatusCode: 401, Message: "HTTP 401"}, ErrorTypeAuth},
		{"403", &remote.APIError{StatusCode: 403, Message: "forbidden"}, ErrorTypeAuth},
		{"500", &remote.APIError{StatusCode: 500, Message: "HTTP 500"}, ErrorTypeServer},
		{"404", &remote.APIError{StatusCode: 404, Message: "not found"}, ErrorTypeClient},
		{"timeout", fmt.Errorf("executing request: %w", context.DeadlineExceeded), ErrorTypeNetwork},
		{"other", errors.New("boom"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestHasPendingWork(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	ok, err := f.engine.HasPendingWork(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	f.enqueue(t, "widget", "w1", store.ActionUpdate, `{}`)
	ok, err = f.engine.HasPendingWork(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// failed once, at the cap of 1
	_, err = f.engine.SyncNow(ctx)
	require.NoError(t, err)
	ok, err = f.engine.HasPendingWork(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
