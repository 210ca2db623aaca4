package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"record-sync-service/internal/config"
	"record-sync-service/internal/network"
	"record-sync-service/internal/store"
	syncpkg "record-sync-service/internal/sync"
)

// Handler is the HTTP control surface: trigger syncs, read engine and
// network status, query counts, review conflicts, manage the error log.
type Handler struct {
	engine  *syncpkg.Engine
	audit   store.Store
	monitor *network.Monitor
	cfg     config.ServerConfig
}

func NewHandler(engine *syncpkg.Engine, audit store.Store, monitor *network.Monitor, cfg config.ServerConfig) *Handler {
	return &Handler{
		engine:  engine,
		audit:   audit,
		monitor: monitor,
		cfg:     cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/collections/{name}/trigger", h.TriggerCollectionSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/counts", h.GetCounts)
		r.Get("/sync/history", h.GetHistory)

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		r.Get("/errors", h.ListErrors)
		r.Delete("/errors", h.ClearErrors)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// TriggerSync starts a full bidirectional cycle in the background.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.engine.State() != syncpkg.StateIdle {
		writeError(w, http.StatusConflict, "sync already running")
		return
	}
	if !h.monitor.IsGoodForSync() {
		writeError(w, http.StatusServiceUnavailable, "network not good for sync")
		return
	}

	// Detached from the request context: the cycle outlives the
	// HTTP response.
	go h.engine.Sync(context.Background())

	// Headers must land before the status line.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// TriggerCollectionSync runs a single-collection cycle synchronously,
// for latency-sensitive actions that want the result.
func (h *Handler) TriggerCollectionSync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := h.engine.SyncCollection(r.Context(), name)
	switch {
	case errors.Is(err, syncpkg.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "sync already running")
		return
	case errors.Is(err, syncpkg.ErrNetworkUnavailable):
		writeError(w, http.StatusServiceUnavailable, "network not good for sync")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, result)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	state := h.monitor.State()
	writeJSON(w, map[string]any{
		"state": h.engine.State(),
		"network": map[string]any{
			"connected":   state.Connected,
			"quality":     state.Quality,
			"goodForSync": h.monitor.IsGoodForSync(),
		},
	})
}

func (h *Handler) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.engine.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, counts)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	history, err := h.audit.GetSyncHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"history": history})
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	pendingOnly := r.URL.Query().Get("pending") == "true"

	conflicts, err := h.audit.ListConflicts(r.Context(), pendingOnly, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"conflicts": conflicts})
}

type resolveRequest struct {
	Resolution string         `json:"resolution"` // "local", "remote", or "merged"
	Payload    map[string]any `json:"payload,omitempty"`
}

// ResolveConflict completes the manual-review loop: the reviewer picks
// a side (or supplies a merged payload), the conflict row closes, and
// the chosen payload re-enters the local store as pending so the next
// cycle publishes it.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conflict, err := h.audit.GetConflict(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflict == nil {
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	}

	var payload map[string]any
	switch req.Resolution {
	case store.ResolutionLocal:
		payload = decodePayload(conflict.LocalPayload)
	case store.ResolutionRemote:
		payload = decodePayload(conflict.RemotePayload)
	case store.ResolutionMerged:
		if req.Payload == nil {
			writeError(w, http.StatusBadRequest, "merged resolution requires a payload")
			return
		}
		payload = req.Payload
	default:
		writeError(w, http.StatusBadRequest, "resolution must be local, remote, or merged")
		return
	}

	resolvedJSON, _ := json.Marshal(payload)
	if err := h.audit.ResolveConflict(r.Context(), id, req.Resolution, resolvedJSON); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if _, err := h.engine.SaveRecord(r.Context(), conflict.Collection, conflict.RecordID, payload); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]string{"status": "resolved"})
}

func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	entries, err := h.audit.ListErrors(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"errors": entries})
}

func (h *Handler) ClearErrors(w http.ResponseWriter, r *http.Request) {
	if err := h.audit.ClearErrors(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	origins := "*"
	if len(h.cfg.CorsOrigins) > 0 {
		origins = strings.Join(h.cfg.CorsOrigins, ", ")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != h.cfg.AuthToken {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodePayload(raw json.RawMessage) map[string]any {
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)
	return payload
}
