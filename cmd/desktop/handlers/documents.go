package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/coachsync/internal/docstore"
	"github.com/kimhsiao/coachsync/internal/models"
	syncpkg "github.com/kimhsiao/coachsync/internal/sync"
)

// DocumentHandler routes document writes through the coordinator so they
// are queued while offline.
type DocumentHandler struct {
	coord *syncpkg.Coordinator
	store docstore.Store
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(coord *syncpkg.Coordinator, store docstore.Store) *DocumentHandler {
	return &DocumentHandler{coord: coord, store: store}
}

type writeRequest struct {
	Data     map[string]interface{} `json:"data"`
	Priority models.Priority        `json:"priority"`
}

func writeStatus(res syncpkg.WriteResult) int {
	if res.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// CreateDocument handles POST /collections/{collection}/documents
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var request writeRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.coord.Create(r.Context(), chi.URLParam(r, "collection"), request.Data, request.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	status := writeStatus(res)
	if status == http.StatusOK {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GetDocument handles GET /collections/{collection}/documents/{id}
// Reads go to the remote store and fail while it is unreachable.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpdateDocument handles PATCH /collections/{collection}/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var request writeRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.coord.Update(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), request.Data, request.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(res), res)
}

// DeleteDocument handles DELETE /collections/{collection}/documents/{id}
// The priority query parameter is optional.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	priority := models.Priority(r.URL.Query().Get("priority"))

	res, err := h.coord.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(res), res)
}
