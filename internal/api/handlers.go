package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/berkano/internal/apperr"
	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
)

// Handler holds API route handlers.
type Handler struct {
	svc   *content.Service
	coord *txn.Coordinator
	db    *store.Store
}

// NewHandler creates a new Handler.
func NewHandler(svc *content.Service, coord *txn.Coordinator, db *store.Store) *Handler {
	return &Handler{svc: svc, coord: coord, db: db}
}

// CreateRecordRequest is the request body for creating a record.
type CreateRecordRequest struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Subtype string   `json:"subtype,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Status  string   `json:"status,omitempty"`
	Body    string   `json:"body,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// UpdateRecordRequest is the request body for updating a record. Absent
// fields are left untouched.
type UpdateRecordRequest struct {
	Title  *string   `json:"title,omitempty"`
	Status *string   `json:"status,omitempty"`
	Body   *string   `json:"body,omitempty"`
	Tags   *[]string `json:"tags,omitempty"`
	Links  *[]string `json:"links,omitempty"`
}

// RecordListResponse wraps record listings.
type RecordListResponse struct {
	Records []models.Record `json:"records"`
	Total   int             `json:"total"`
}

// sessionID pulls the caller's session identifier, carried on mutations so
// plugins can tell their own writes apart from everyone else's.
func sessionID(r *http.Request) string {
	return r.Header.Get("X-Session-ID")
}

// ListRecords handles GET /records with optional type, status, and tag
// filters plus limit/offset pagination.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	typeFilter := q.Get("type")
	statusFilter := q.Get("status")
	tagFilter := q.Get("tag")

	records, err := store.AllRecords(h.db.Conn())
	if err != nil {
		slog.Error("list records failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	var taggedIDs map[string]struct{}
	if tagFilter != "" {
		memberships, err := store.AllTagMemberships(h.db.Conn())
		if err != nil {
			slog.Error("list records failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		taggedIDs = make(map[string]struct{})
		for _, m := range memberships {
			if m.Tag == tagFilter {
				taggedIDs[m.RecordID] = struct{}{}
			}
		}
	}

	filtered := records[:0]
	for _, rec := range records {
		if typeFilter != "" && string(rec.Type) != typeFilter {
			continue
		}
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		if taggedIDs != nil {
			if _, ok := taggedIDs[rec.ID]; !ok {
				continue
			}
		}
		filtered = append(filtered, rec)
	}

	total := len(filtered)
	if offset > 0 {
		if offset > len(filtered) {
			offset = len(filtered)
		}
		filtered = filtered[offset:]
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	if filtered == nil {
		filtered = []models.Record{}
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: filtered, Total: total})
}

// GetRecord handles GET /records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get record failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateRecord handles POST /records.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	t, err := models.ParseType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}

	rec, err := h.svc.Create(r.Context(), content.CreateParams{
		Type:      t,
		Title:     req.Title,
		Subtype:   req.Subtype,
		Topic:     req.Topic,
		Status:    req.Status,
		Body:      req.Body,
		Tags:      req.Tags,
		Links:     req.Links,
		SessionID: sessionID(r),
	})
	if err != nil {
		slog.Error("create record failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles PUT /records/{id}.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")
	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	rec, err := h.svc.Update(r.Context(), id, content.UpdateParams{
		Title:     req.Title,
		Status:    req.Status,
		Body:      req.Body,
		Tags:      req.Tags,
		Links:     req.Links,
		SessionID: sessionID(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrScopeOpen):
			writeJSON(w, http.StatusConflict, errorBody("another write is in progress"))
		default:
			slog.Error("update record failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /records/{id}.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id, sessionID(r)); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("delete record failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.db.Search(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GraphNode is a node in the link graph response.
type GraphNode struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Degree int    `json:"degree"`
}

// GraphLink is an edge in the link graph response.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Layer  string `json:"layer"`
}

// Graph handles GET /graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.coord.Graph()
	if err != nil {
		if errors.Is(err, apperr.ErrScopeOpen) {
			writeJSON(w, http.StatusConflict, errorBody("a write is in progress"))
			return
		}
		slog.Error("graph failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	nodes := make([]GraphNode, 0, len(g.Nodes))
	for id, n := range g.Nodes {
		nodes = append(nodes, GraphNode{ID: id, Title: n.Title, Degree: g.Degree(id)})
	}
	var links []GraphLink
	for src, targets := range g.Out {
		for _, e := range targets {
			links = append(links, GraphLink{Source: src, Target: e.TargetID, Layer: e.SourceLayer})
		}
	}
	if links == nil {
		links = []GraphLink{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "links": links})
}
