package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	syncpkg "github.com/kimhsiao/coachsync/internal/sync"
	"github.com/kimhsiao/coachsync/internal/sync/queue"
)

// SyncHandler exposes sync status, manual sync, connectivity, the queue
// and pending conflicts.
type SyncHandler struct {
	coord *syncpkg.Coordinator
	queue *queue.Queue
	wsHub WSSyncBroadcaster
}

// WSSyncBroadcaster receives sync results for WebSocket clients.
type WSSyncBroadcaster interface {
	BroadcastSyncCompleted(result syncpkg.SyncResult)
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(coord *syncpkg.Coordinator, q *queue.Queue) *SyncHandler {
	return &SyncHandler{coord: coord, queue: q}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// =====================================================
// Status and Sync
// =====================================================

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.coord.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     h.coord.State(),
		"status":    status,
		"scheduler": h.coord.SchedulerStatus(),
	})
}

// TriggerSync handles POST /sync/now
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.coord.IsOnline() {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "offline",
			"state": h.coord.State(),
		})
		return
	}

	result := h.coord.ForceSync(r.Context())
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncCompleted(result)
	}
	writeJSON(w, http.StatusOK, result)
}

// SetConnectivity handles POST /sync/connectivity
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}

	h.coord.SetOnline(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": h.coord.State()})
}

// =====================================================
// Queue
// =====================================================

// ListQueue handles GET /sync/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := h.queue.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": nonNil(actions)})
}

// ListParked handles GET /sync/queue/parked
func (h *SyncHandler) ListParked(w http.ResponseWriter, r *http.Request) {
	actions, err := h.queue.Parked(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": nonNil(actions)})
}

// RemoveAction handles DELETE /sync/queue/{id}
func (h *SyncHandler) RemoveAction(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryAction handles POST /sync/queue/{id}/retry
func (h *SyncHandler) RetryAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	logging.Info("Parked action requeued", map[string]interface{}{"action_id": id})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "status": "queued"})
}

func nonNil(actions []models.QueuedAction) []models.QueuedAction {
	if actions == nil {
		return []models.QueuedAction{}
	}
	return actions
}

// =====================================================
// Conflicts
// =====================================================

// ListConflicts handles GET /sync/conflicts
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.coord.PendingConflicts()})
}

// ResolveConflict handles POST /sync/conflicts/{id}/resolve
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Value interface{} `json:"value"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.coord.ResolveManual(r.Context(), chi.URLParam(r, "id"), request.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DiscardConflict handles DELETE /sync/conflicts/{id}
func (h *SyncHandler) DiscardConflict(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DiscardConflict(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
