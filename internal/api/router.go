package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/reconcile"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; the health
// endpoint is always open.
func NewRouter(svc *content.Service, coord *txn.Coordinator, engine *reconcile.Engine, disp *dispatch.Dispatcher, db *store.Store, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc, coord, db)
	ah := NewAdminHandler(engine, disp, db)

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		// Records CRUD.
		r.Get("/records", h.ListRecords)
		r.Post("/records", h.CreateRecord)
		r.Get("/records/{id}", h.GetRecord)
		r.Put("/records/{id}", h.UpdateRecord)
		r.Delete("/records/{id}", h.DeleteRecord)

		// Search.
		r.Get("/search", h.Search)

		// Graph.
		r.Get("/graph", h.Graph)

		// Reconciliation and dispatcher admin.
		r.Post("/admin/check", ah.Check)
		r.Post("/admin/fix", ah.Fix)
		r.Post("/admin/rebuild", ah.Rebuild)
		r.Post("/admin/rollback", ah.Rollback)
		r.Post("/admin/drain", ah.Drain)
		r.Get("/admin/events", ah.Events)
	})

	return r
}
