package sync

import (
	"context"
	"sort"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	"github.com/kimhsiao/coachsync/internal/sync/conflict"
)

// HandleResult is the outcome of reconciling a local and a remote snapshot.
type HandleResult struct {
	// Merged is remote with every automatic resolution applied. Fields
	// awaiting manual resolution keep their remote value.
	Merged        map[string]interface{}      `json:"merged"`
	PendingManual []models.ConflictResolution `json:"pendingManual"`
	Conflicts     []models.ConflictData       `json:"conflicts"`
}

// HandleConflicts detects conflicts between local and remote, notifies
// conflict subscribers and resolves what the strategy table allows.
func (c *Coordinator) HandleConflicts(local, remote map[string]interface{}) HandleResult {
	return c.reconcile("", "", local, remote)
}

// reconcile is HandleConflicts for a known document; its manual
// resolutions are kept as pending conflicts.
func (c *Coordinator) reconcile(collection, docID string, local, remote map[string]interface{}) HandleResult {
	conflicts := c.resolver.DetectConflicts(local, remote)
	if len(conflicts) == 0 {
		return HandleResult{Merged: conflict.ApplyResolutions(remote, nil)}
	}

	c.conflicts.publish(conflicts)

	resolutions := c.resolver.ResolveConflicts(conflicts)
	manual := conflict.ManualResolutionRequired(resolutions)
	result := HandleResult{
		Merged:        conflict.ApplyResolutions(remote, resolutions),
		PendingManual: manual,
		Conflicts:     conflicts,
	}

	if len(manual) > 0 {
		fields := make([]string, 0, len(manual))
		for _, m := range manual {
			fields = append(fields, m.Field)
		}
		logging.Warn("Manual conflict resolution required",
			map[string]interface{}{"collection": collection, "doc_id": docID, "fields": fields})
		if docID != "" {
			c.addPending(collection, docID, manual, conflicts)
		}
	}
	return result
}

func pendingID(collection, docID, field string) string {
	return collection + ":" + docID + ":" + field
}

func (c *Coordinator) addPending(collection, docID string, manual []models.ConflictResolution, conflicts []models.ConflictData) {
	byID := make(map[string]models.ConflictData, len(conflicts))
	for _, cd := range conflicts {
		byID[cd.ID] = cd
	}

	c.pendingMu.Lock()
	for _, res := range manual {
		cd := byID[res.ID]
		pc := models.PendingConflict{
			ConflictResolution: res,
			Collection:         collection,
			DocID:              docID,
			LocalValue:         cd.LocalValue,
			RemoteValue:        cd.RemoteValue,
		}
		pc.ID = pendingID(collection, docID, res.Field)
		c.pending[pc.ID] = pc
	}
	c.pendingMu.Unlock()

	c.publishStatus()
}

func (c *Coordinator) pendingCount() int {
	c.pendingMu.RLock()
	defer c.pendingMu.RUnlock()
	return len(c.pending)
}

// PendingConflicts returns the conflicts waiting for a human decision,
// ordered by id.
func (c *Coordinator) PendingConflicts() []models.PendingConflict {
	c.pendingMu.RLock()
	out := make([]models.PendingConflict, 0, len(c.pending))
	for _, pc := range c.pending {
		out = append(out, pc)
	}
	c.pendingMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveManual writes value to the conflicted field through the normal
// write path and clears the pending conflict.
func (c *Coordinator) ResolveManual(ctx context.Context, id string, value interface{}) (WriteResult, error) {
	c.pendingMu.RLock()
	pc, ok := c.pending[id]
	c.pendingMu.RUnlock()
	if !ok {
		return WriteResult{}, apperrors.Newf(apperrors.ErrNotFound, "pending conflict %s not found", id)
	}

	res, err := c.Update(ctx, pc.Collection, pc.DocID,
		map[string]interface{}{pc.Field: value}, models.PriorityHigh)
	if err != nil {
		return res, err
	}

	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()

	logging.Info("Manual conflict resolved",
		map[string]interface{}{"conflict_id": id, "queued": res.Queued})
	c.publishStatus()
	return res, nil
}

// DiscardConflict drops a pending conflict, keeping the remote value.
func (c *Coordinator) DiscardConflict(id string) error {
	c.pendingMu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "pending conflict %s not found", id)
	}

	logging.Info("Pending conflict discarded", map[string]interface{}{"conflict_id": id})
	c.publishStatus()
	return nil
}
