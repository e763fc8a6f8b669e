package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/connectivity"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/outbox"
	"github.com/synaxhq/synax/internal/store"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

type fakeSyncer struct {
	calls   atomic.Int32
	syncing atomic.Bool
}

func (f *fakeSyncer) SyncNow(context.Context) (*synxsync.SyncResult, error) {
	f.calls.Add(1)
	return &synxsync.SyncResult{}, nil
}

func (f *fakeSyncer) IsSyncing() bool { return f.syncing.Load() }

type testAPI struct {
	server  *Server
	http    *httptest.Server
	repo    *store.SQLRepository
	state   *syncstate.State
	syncer  *fakeSyncer
	network *connectivity.ManualSource
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := loggy.NewNoopLogger()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"}, logger)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, logger))
	t.Cleanup(func() { db.Close() })

	repo := store.NewSQLRepository(db, logger)
	state := syncstate.New()
	reg := prometheus.NewRegistry()
	api := &testAPI{
		repo:    repo,
		state:   state,
		syncer:  &fakeSyncer{},
		network: connectivity.NewManualSource(false),
	}

	api.server = New("127.0.0.1:0", Deps{
		Syncer:     api.syncer,
		State:      state,
		Recorder:   outbox.NewService(repo, repo, nil, logger),
		Queue:      repo,
		Cache:      repo,
		Network:    api.network,
		Registerer: reg,
		Gatherer:   reg,
	}, logger)
	api.http = httptest.NewServer(api.server.Handler())
	t.Cleanup(func() {
		api.http.Close()
		_ = api.server.Shutdown(context.Background())
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndState(t *testing.T) {
	api := newTestAPI(t)
	api.state.SetCounts(store.Counts{PendingMutations: 3})

	resp := api.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	resp = api.do(t, http.MethodGet, "/api/sync/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[syncstate.Snapshot](t, resp)
	assert.Equal(t, 3, snap.PendingMutations)
	assert.False(t, snap.IsOnline)
}

func TestSyncNow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/sync/now", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	api.state.SetOnline(true)
	resp = api.do(t, http.MethodPost, "/api/sync/now", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["started"])
	require.Eventually(t, func() bool { return api.syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	api.syncer.syncing.Store(true)
	resp = api.do(t, http.MethodPost, "/api/sync/now", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["started"])
}

func TestEnqueueAndList(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/outbox/mutations", `{"entityType":"room","entityId":"r1","action":"update","data":{"name":"Lab 2"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Positive(t, decode[map[string]int64](t, resp)["id"])

	resp = api.do(t, http.MethodPost, "/api/outbox/mutations", `{"entityType":"room","entityId":"r1","action":"update","data":{"nmae":"typo"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "invalid change")

	resp = api.do(t, http.MethodPost, "/api/outbox/mutations", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/outbox/mutations?status=pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]store.Mutation](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].EntityID)

	resp = api.do(t, http.MethodGet, "/api/outbox/mutations?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/outbox/mutations?status=failed", "")
	assert.Empty(t, decode[[]store.Mutation](t, resp))
}

func TestEnqueueImage(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("entityType", "issue"))
	require.NoError(t, mw.WriteField("entityId", "i1"))
	require.NoError(t, mw.WriteField("mutationId", "12"))
	part, err := mw.CreateFormFile("photo", "crack.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, api.http.URL+"/api/outbox/images", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	images, err := api.repo.ListPendingImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "crack.jpg", images[0].Filename)
	require.NotNil(t, images[0].MutationID)
	assert.Equal(t, int64(12), *images[0].MutationID)

	resp2 := api.do(t, http.MethodPost, "/api/outbox/images", "")
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestNetworkPush(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/network", `{"online":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, api.network.Online(context.Background()))

	resp = api.do(t, http.MethodPost, "/api/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntityCache(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/api/cache/room/r1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/cache/room/r1", `{"id":"r1","name":"Lab"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/cache/room/r1", `{broken`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// a queued update shows through the cache
	resp = api.do(t, http.MethodPost, "/api/outbox/mutations", `{"entityType":"room","entityId":"r1","action":"update","data":{"name":"Lab 2"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/cache/room/r1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Local-Edit"))
	assert.Equal(t, map[string]any{"id": "r1", "name": "Lab 2"}, decode[map[string]any](t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/api/cache/room/r9", "")

	resp := api.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `synax_agent_http_requests_total{method="GET",route="/api/cache/{entityType}/{entityID}",status="404"} 1`)
}

func TestStateStream(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(api.http.URL, "http") + "/api/sync/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snap syncstate.Snapshot
	require.NoError(t, wsjson.Read(ctx, conn, &snap))
	assert.False(t, snap.IsOnline)

	api.state.SetOnline(true)
	for !snap.IsOnline {
		require.NoError(t, wsjson.Read(ctx, conn, &snap))
	}
	assert.NotNil(t, snap.LastOnlineAt)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
