package sync

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/store"
)

func TestSyncLogRoundTrip(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	ok := NewSyncLog("cyc-1", store.KindMutation, 1, store.EntityRoom, "r1", base)
	ok.Action = store.ActionUpdate
	ok.MarkSuccessful(base.Add(time.Second))
	require.NoError(t, f.logs.CreateSyncLog(ctx, ok))
	assert.NotEmpty(t, ok.ID)

	bad := NewSyncLog("cyc-1", store.KindImage, 2, store.EntityIssue, "i1", base.Add(2*time.Second))
	bad.MarkFailed(ErrorTypeServer, "HTTP 502", base.Add(3*time.Second))
	require.NoError(t, f.logs.CreateSyncLog(ctx, bad))

	logs, err := f.logs.ListSyncLogs(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, bad.ID, logs[0].ID)
	assert.Equal(t, store.KindImage, logs[0].Kind)
	assert.Equal(t, ErrorTypeServer, logs[0].ErrorType)
	assert.Equal(t, "HTTP 502", logs[0].ErrorMessage)
	assert.True(t, logs[0].StartedAt.Equal(base.Add(2*time.Second)))
	assert.True(t, logs[1].Success)
	assert.Equal(t, store.ActionUpdate, logs[1].Action)

	failed, err := f.logs.ListSyncLogs(ctx, LogFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "i1", failed[0].EntityID)

	latest, err := f.logs.GetLatestSyncLog(ctx, store.EntityRoom, "r1")
	require.NoError(t, err)
	assert.Equal(t, ok.ID, latest.ID)

	_, err = f.logs.GetLatestSyncLog(ctx, store.EntityAsset, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := f.logs.PruneSyncLogs(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err = f.logs.ListSyncLogs(ctx, LogFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestListSyncLogsQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db, loggy.NewNoopLogger())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, cycle_id, kind, record_id, entity_type, entity_id, action, success, error_type, error_message, started_at, completed_at FROM sync_logs WHERE kind = ? AND success = ? ORDER BY started_at DESC, id DESC LIMIT 5")).
		WithArgs("mutation", false).
		WillReturnRows(sqlmock.NewRows(syncLogColumns).
			AddRow("slog-1", "cyc-1", "mutation", 7, "room", "r1", "update", false, "client", "HTTP 400", int64(10), int64(20)))

	logs, err := repo.ListSyncLogs(context.Background(), LogFilter{Kind: store.KindMutation, FailedOnly: true, Limit: 5})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(7), logs[0].RecordID)
	assert.Equal(t, ErrorTypeClient, logs[0].ErrorType)
	assert.Equal(t, time.Unix(0, 20), logs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
