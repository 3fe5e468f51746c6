package handlers

import "github.com/go-chi/chi/v5"

// Register mounts the sync endpoints under r.
func (h *SyncHandler) Register(r chi.Router) {
	r.Get("/sync/status", h.GetStatus)
	r.Post("/sync/now", h.TriggerSync)
	r.Post("/sync/connectivity", h.SetConnectivity)

	r.Get("/sync/queue", h.ListQueue)
	r.Get("/sync/queue/parked", h.ListParked)
	r.Delete("/sync/queue/{id}", h.RemoveAction)
	r.Post("/sync/queue/{id}/retry", h.RetryAction)

	r.Get("/sync/conflicts", h.ListConflicts)
	r.Post("/sync/conflicts/{id}/resolve", h.ResolveConflict)
	r.Delete("/sync/conflicts/{id}", h.DiscardConflict)
}

// Register mounts the document endpoints under r.
func (h *DocumentHandler) Register(r chi.Router) {
	r.Route("/collections/{collection}/documents", func(r chi.Router) {
		r.Post("/", h.CreateDocument)
		r.Get("/{id}", h.GetDocument)
		r.Patch("/{id}", h.UpdateDocument)
		r.Delete("/{id}", h.DeleteDocument)
	})
}
