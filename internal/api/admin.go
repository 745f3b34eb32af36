package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/reconcile"
	"github.com/starford/berkano/internal/result"
	"github.com/starford/berkano/internal/store"
)

// AdminHandler exposes the reconciliation engine and the dispatcher's WAL
// over HTTP.
type AdminHandler struct {
	engine *reconcile.Engine
	disp   *dispatch.Dispatcher
	db     *store.Store
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(engine *reconcile.Engine, disp *dispatch.Dispatcher, db *store.Store) *AdminHandler {
	return &AdminHandler{engine: engine, disp: disp, db: db}
}

// writeResult maps an operation result to a response: 200 for success,
// 409 for no-backups or scope conflicts, 500 otherwise. The body is the
// result envelope either way.
func writeResult(w http.ResponseWriter, res result.Result) {
	status := http.StatusOK
	if !res.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// Check handles POST /admin/check.
func (h *AdminHandler) Check(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.engine.Check(r.Context()))
}

// Fix handles POST /admin/fix. The level query parameter selects safe
// (default) or aggressive repair.
func (h *AdminHandler) Fix(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	if level == "" {
		level = reconcile.LevelSafe
	}
	writeResult(w, h.engine.Fix(r.Context(), level))
}

// Rebuild handles POST /admin/rebuild.
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.engine.Rebuild(r.Context()))
}

// Rollback handles POST /admin/rollback.
func (h *AdminHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	res := h.engine.Rollback(r.Context())
	if !res.OK && res.Error == apperr.ErrNoBackups.Error() {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeResult(w, res)
}

// Drain handles POST /admin/drain: every retryable WAL row is executed once,
// and the per-row outcomes are returned.
func (h *AdminHandler) Drain(w http.ResponseWriter, r *http.Request) {
	results, err := h.disp.Drain(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrClosed) {
			writeJSON(w, http.StatusConflict, errorBody("dispatcher is shut down"))
			return
		}
		slog.Error("drain failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []dispatch.DrainResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drained": results})
}

// Events handles GET /admin/events: the most recent WAL rows, newest first.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	events, err := store.ListEvents(h.db.Conn(), limit)
	if err != nil {
		slog.Error("list events failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if events == nil {
		events = []store.WALEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
