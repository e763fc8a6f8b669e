package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/outbox"
	"github.com/synaxhq/synax/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.State.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"online":    snap.IsOnline,
		"isSyncing": snap.IsSyncing,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if !s.deps.State.IsOnline() {
		writeError(w, http.StatusConflict, "device is offline")
		return
	}
	if s.deps.Syncer.IsSyncing() {
		writeJSON(w, http.StatusAccepted, map[string]any{"started": false, "reason": "sync already in progress"})
		return
	}

	logger := loggy.FromContext(r.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx := loggy.WithLogger(s.ctx, logger)
		if _, err := s.deps.Syncer.SyncNow(ctx); err != nil {
			logger.Error("Requested sync failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// handleStateStream pushes a snapshot on every state change until either
// side closes
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		loggy.FromContext(r.Context()).Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(s.ctx)
	updates, cancel := s.deps.State.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "closing")
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, snap)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

type enqueueRequest struct {
	EntityType store.EntityType `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Action     store.Action     `json:"action"`
	Data       map[string]any   `json:"data"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.deps.Recorder.Enqueue(r.Context(), req.EntityType, req.EntityID, req.Action, req.Data)
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleEnqueueImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing photo file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading photo")
		return
	}

	in := outbox.ImageInput{
		EntityType: store.EntityType(r.FormValue("entityType")),
		EntityID:   r.FormValue("entityId"),
		Filename:   header.Filename,
		Data:       data,
	}
	if raw := r.FormValue("mutationId"); raw != "" {
		mid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "mutationId must be an integer")
			return
		}
		in.MutationID = &mid
	}

	id, err := s.deps.Recorder.EnqueueImage(r.Context(), in)
	if err != nil {
		s.writeOutboxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) writeOutboxError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, outbox.ErrInvalidChange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loggy.FromContext(r.Context()).Error("Failed to queue change", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to queue change")
}

func (s *Server) handleListMutations(w http.ResponseWriter, r *http.Request) {
	status := store.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	mutations, err := s.deps.Queue.ListMutations(r.Context(), status, limit)
	if err != nil {
		loggy.FromContext(r.Context()).Error("Failed to list mutations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list mutations")
		return
	}
	if mutations == nil {
		mutations = []*store.Mutation{}
	}
	writeJSON(w, http.StatusOK, mutations)
}

type networkRequest struct {
	Online *bool  `json:"online"`
	Reason string `json:"reason"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.deps.Network == nil {
		writeError(w, http.StatusConflict, "network source is not push")
		return
	}

	var req networkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `body must be {"online": true|false}`)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "pushed by shell"
	}
	s.deps.Network.Set(*req.Online, reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entityType := store.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")

	e, err := s.deps.Cache.GetEntity(r.Context(), entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not cached")
		return
	}
	if err != nil {
		loggy.FromContext(r.Context()).Error("Failed to read entity cache", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read entity cache")
		return
	}

	w.Header().Set("X-Local-Edit", strconv.FormatBool(e.LocalEdit))
	w.Header().Set("Last-Modified", e.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Data)
}

func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	entityType := store.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be a JSON document")
		return
	}

	err = s.deps.Cache.PutEntity(r.Context(), &store.CachedEntity{
		EntityType: entityType,
		EntityID:   entityID,
		Data:       body,
	})
	if err != nil {
		loggy.FromContext(r.Context()).Error("Failed to write entity cache", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write entity cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
