package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/synaxhq/synax/internal/domain"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/remote"
	"github.com/synaxhq/synax/internal/store"
	"github.com/synaxhq/synax/internal/syncstate"
	"github.com/synaxhq/synax/internal/ulid"
)

// Outbox is the part of the local store the engine drains
type Outbox interface {
	ListReplayableMutations(ctx context.Context, maxRetries int) ([]*store.Mutation, error)
	ListReplayableImages(ctx context.Context, maxRetries int) ([]*store.PendingImage, error)
	LoadImageBlob(ctx context.Context, id int64) ([]byte, error)
	UpdateStatus(ctx context.Context, kind store.Kind, id int64, status store.Status, errMsg string) error
	IncrementRetry(ctx context.Context, kind store.Kind, id int64) error
	Remove(ctx context.Context, kind store.Kind, id int64) error
	Counts(ctx context.Context) (store.Counts, error)
	CountEntities(ctx context.Context) (map[store.EntityType]int, error)
}

// Dispatcher delivers requests to the remote API
type Dispatcher interface {
	Send(ctx context.Context, req *remote.Request) error
	Upload(ctx context.Context, u *remote.Upload) error
}

// Options configures an Engine
type Options struct {
	MaxRetries int
	Logs       Repository // optional
	Metrics    *Metrics   // optional
	Now        func() time.Time
}

// Engine replays the outbox. At most one cycle runs at a time.
type Engine struct {
	outbox     Outbox
	dispatcher Dispatcher
	state      *syncstate.State
	logs       Repository
	metrics    *Metrics
	maxRetries int
	now        func() time.Time
	logger     *loggy.Logger

	running atomic.Bool
}

// NewEngine creates a new sync engine
func NewEngine(outbox Outbox, dispatcher Dispatcher, state *syncstate.State, opts Options, logger *loggy.Logger) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		outbox:     outbox,
		dispatcher: dispatcher,
		state:      state,
		logs:       opts.Logs,
		metrics:    opts.Metrics,
		maxRetries: opts.MaxRetries,
		now:        now,
		logger:     logger,
	}
}

// IsSyncing reports whether a cycle is running
func (e *Engine) IsSyncing() bool {
	return e.running.Load()
}

// holdPoll is how often Hold retries the guard while a cycle runs
const holdPoll = 20 * time.Millisecond

// Hold waits for any running cycle to finish and then keeps new cycles from
// starting until release is called. SyncNow reports SkipBusy meanwhile.
func (e *Engine) Hold(ctx context.Context) (release func(), err error) {
	ticker := time.NewTicker(holdPoll)
	defer ticker.Stop()

	for !e.running.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for sync cycle to finish: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return func() { e.running.Store(false) }, nil
}

// RefreshCounts reloads queue depths and cache counts into the state
func (e *Engine) RefreshCounts(ctx context.Context) error {
	counts, err := e.outbox.Counts(ctx)
	if err != nil {
		return fmt.Errorf("counting outbox: %w", err)
	}
	e.state.SetCounts(counts)
	e.metrics.SetQueueDepth(counts)

	entities, err := e.outbox.CountEntities(ctx)
	if err != nil {
		return fmt.Errorf("counting cached entities: %w", err)
	}
	e.state.SetCachedEntities(entities)
	return nil
}

// HasPendingWork reports whether a cycle would replay anything
func (e *Engine) HasPendingWork(ctx context.Context) (bool, error) {
	mutations, err := e.outbox.ListReplayableMutations(ctx, e.maxRetries)
	if err != nil {
		return false, fmt.Errorf("reading mutation queue: %w", err)
	}
	if len(mutations) > 0 {
		return true, nil
	}
	images, err := e.outbox.ListReplayableImages(ctx, e.maxRetries)
	if err != nil {
		return false, fmt.Errorf("reading image queue: %w", err)
	}
	return len(images) > 0, nil
}

// SyncNow runs one drain cycle. It is a no-op when offline or when a cycle
// is already running. Cancelling ctx does not abort a started cycle.
//
// The returned error is a whole-cycle failure (queue read or status write).
// Per-record failures are recorded on the records and in the result.
func (e *Engine) SyncNow(ctx context.Context) (*SyncResult, error) {
	if !e.state.IsOnline() {
		e.metrics.cycle("skipped_offline", 0)
		return &SyncResult{Skipped: true, SkipReason: SkipOffline}, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.cycle("skipped_busy", 0)
		return &SyncResult{Skipped: true, SkipReason: SkipBusy}, nil
	}
	defer e.running.Store(false)

	ctx = context.WithoutCancel(ctx)
	c := &cycle{
		engine: e,
		result: &SyncResult{CycleID: ulid.CycleID()},
		start:  e.now(),
	}
	c.logger = e.logger.With("cycle_id", c.result.CycleID)

	e.state.BeginCycle()
	err := c.run(ctx)
	c.result.Duration = e.now().Sub(c.start)

	if err != nil {
		e.state.FailCycle(err)
		e.metrics.cycle("failed", c.result.Duration)
		c.logger.Error("Sync cycle aborted", "error", err, "done", c.done, "total", c.total)
		return c.result, err
	}

	if err := e.RefreshCounts(ctx); err != nil {
		c.logger.Warn("Failed to refresh counts after sync", "error", err)
	}
	e.state.CompleteCycle()
	e.metrics.cycle("completed", c.result.Duration)

	c.logger.Info("Sync cycle completed",
		"total", c.result.TotalItems,
		"synced", c.result.SuccessItems,
		"failed", c.result.FailedItems,
		"duration", c.result.Duration)
	return c.result, nil
}

type cycle struct {
	engine *Engine
	result *SyncResult
	logger *loggy.Logger
	start  time.Time
	total  int
	done   int
}

func (c *cycle) run(ctx context.Context) error {
	e := c.engine

	mutations, err := e.outbox.ListReplayableMutations(ctx, e.maxRetries)
	if err != nil {
		return fmt.Errorf("reading mutation queue: %w", err)
	}
	images, err := e.outbox.ListReplayableImages(ctx, e.maxRetries)
	if err != nil {
		return fmt.Errorf("reading image queue: %w", err)
	}

	c.total = len(mutations) + len(images)
	c.result.TotalItems = c.total
	c.logger.Debug("Sync cycle started", "mutations", len(mutations), "images", len(images))

	for _, m := range mutations {
		if err := c.replayMutation(ctx, m); err != nil {
			return err
		}
		c.advance()
	}

	for _, img := range images {
		if err := c.replayImage(ctx, img); err != nil {
			return err
		}
		c.advance()
	}
	return nil
}

func (c *cycle) advance() {
	c.done++
	c.engine.state.SetProgress(float64(c.done) / float64(c.total) * 100)
}

func (c *cycle) replayMutation(ctx context.Context, m *store.Mutation) error {
	e := c.engine
	log := NewSyncLog(c.result.CycleID, store.KindMutation, m.ID, m.EntityType, m.EntityID, e.now())
	log.Action = m.Action

	err := e.outbox.UpdateStatus(ctx, store.KindMutation, m.ID, store.StatusSyncing, "")
	if errors.Is(err, store.ErrNotFound) {
		// removed since the snapshot, e.g. by ClearAll
		c.logger.Debug("Skipping removed mutation", "id", m.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("marking mutation %d syncing: %w", m.ID, err)
	}

	req, sendErr := remote.MutationRequest(m)
	if sendErr == nil {
		sendErr = e.dispatcher.Send(ctx, req)
	}

	if sendErr == nil {
		if err := e.outbox.Remove(ctx, store.KindMutation, m.ID); err != nil {
			return fmt.Errorf("removing synced mutation %d: %w", m.ID, err)
		}
		c.result.SuccessItems++
		c.result.MutationsSynced++
		log.MarkSuccessful(e.now())
		c.record(ctx, log)
		return nil
	}

	return c.fail(ctx, store.KindMutation, m.ID, log, sendErr)
}

func (c *cycle) replayImage(ctx context.Context, img *store.PendingImage) error {
	e := c.engine
	log := NewSyncLog(c.result.CycleID, store.KindImage, img.ID, img.EntityType, img.EntityID, e.now())

	err := e.outbox.UpdateStatus(ctx, store.KindImage, img.ID, store.StatusSyncing, "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("marking image %d syncing: %w", img.ID, err)
	}

	var blob []byte
	if err == nil {
		blob, err = e.outbox.LoadImageBlob(ctx, img.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		// removed since the snapshot, e.g. by ClearAll
		c.logger.Debug("Skipping removed image", "id", img.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading image %d: %w", img.ID, err)
	}

	path, sendErr := remote.ImageRoute(img.EntityType, img.EntityID)
	if sendErr == nil {
		sendErr = e.dispatcher.Upload(ctx, &remote.Upload{Path: path, Filename: img.Filename, Data: blob})
	}

	if sendErr == nil {
		if err := e.outbox.Remove(ctx, store.KindImage, img.ID); err != nil {
			return fmt.Errorf("removing uploaded image %d: %w", img.ID, err)
		}
		c.result.SuccessItems++
		c.result.ImagesSynced++
		log.MarkSuccessful(e.now())
		c.record(ctx, log)
		return nil
	}

	return c.fail(ctx, store.KindImage, img.ID, log, sendErr)
}

func (c *cycle) fail(ctx context.Context, kind store.Kind, id int64, log *SyncLog, cause error) error {
	e := c.engine
	errorType := classifyError(cause)
	message := cause.Error()

	err := e.outbox.UpdateStatus(ctx, kind, id, store.StatusFailed, message)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("Dropping failure of removed record", "kind", kind, "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("marking %s %d failed: %w", kind, id, err)
	}
	if err := e.outbox.IncrementRetry(ctx, kind, id); err != nil {
		return fmt.Errorf("incrementing retry of %s %d: %w", kind, id, err)
	}

	c.result.FailedItems++
	c.result.Failures = append(c.result.Failures, ItemFailure{
		Kind:       kind,
		RecordID:   id,
		EntityType: log.EntityType,
		EntityID:   log.EntityID,
		ErrorType:  errorType,
		Message:    message,
	})

	level := c.logger.Warn
	if errorType == ErrorTypeMapping {
		level = c.logger.Error
	}
	level("Record failed to sync",
		"kind", kind,
		"id", id,
		"entity_type", log.EntityType,
		"entity_id", log.EntityID,
		"error_type", errorType,
		"error", message)

	log.MarkFailed(errorType, message, e.now())
	c.record(ctx, log)
	return nil
}

// record stores the attempt. Log failures never fail the cycle.
func (c *cycle) record(ctx context.Context, log *SyncLog) {
	c.engine.metrics.item(log.Kind, log.ErrorType)
	if c.engine.logs == nil {
		return
	}
	if err := c.engine.logs.CreateSyncLog(ctx, log); err != nil {
		c.logger.Warn("Failed to write sync log", "error", err, "record_id", log.RecordID)
	}
}

func classifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, remote.ErrUnmapped) || errors.Is(err, domain.ErrInvalidPayload) {
		return ErrorTypeMapping
	}
	if errors.Is(err, remote.ErrNoCredentials) {
		return ErrorTypeAuth
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ErrorTypeAuth
		case apiErr.StatusCode >= 500:
			return ErrorTypeServer
		default:
			return ErrorTypeClient
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
