// Package statusapi is the local HTTP API the Synax UI shell talks to. It
// exposes sync state, accepts outbox writes and serves the entity cache.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/outbox"
	"github.com/synaxhq/synax/internal/store"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

// Syncer runs drain cycles
type Syncer interface {
	SyncNow(ctx context.Context) (*synxsync.SyncResult, error)
	IsSyncing() bool
}

// Recorder queues offline changes
type Recorder interface {
	Enqueue(ctx context.Context, entityType store.EntityType, entityID string, action store.Action, data map[string]any) (int64, error)
	EnqueueImage(ctx context.Context, in outbox.ImageInput) (int64, error)
}

// Lister reads the mutation queue
type Lister interface {
	ListMutations(ctx context.Context, status store.Status, limit int) ([]*store.Mutation, error)
}

// NetworkSetter accepts connectivity pushed by the platform shell
type NetworkSetter interface {
	Set(online bool, reason string)
}

// Deps are the components the API serves
type Deps struct {
	Syncer   Syncer
	State    *syncstate.State
	Recorder Recorder
	Queue    Lister
	Cache    store.EntityCache
	Network  NetworkSetter // nil unless the network source is push

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the local agent API
type Server struct {
	deps    Deps
	logger  *loggy.Logger
	router  chi.Router
	metrics *httpMetrics

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
}

// maxUploadBytes caps one multipart photo upload
const maxUploadBytes = 32 << 20

// New creates the API server listening on addr
func New(addr string, deps Deps, logger *loggy.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		logger:  logger,
		metrics: newHTTPMetrics(deps.Registerer),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sync/state", s.handleState)
		r.Post("/sync/now", s.handleSyncNow)
		r.Get("/sync/ws", s.handleStateStream)

		r.Get("/outbox/mutations", s.handleListMutations)
		r.Post("/outbox/mutations", s.handleEnqueue)
		r.Post("/outbox/images", s.handleEnqueueImage)

		r.Post("/network", s.handleNetwork)

		r.Get("/cache/{entityType}/{entityID}", s.handleGetEntity)
		r.Put("/cache/{entityType}/{entityID}", s.handlePutEntity)
	})
	return r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe binds the address and serves until Shutdown. It returns
// once the listener is bound; serve errors go to the returned channel.
func (s *Server) ListenAndServe() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Local agent API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Shutdown stops accepting requests, closes streams and waits for syncs the
// API started
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
