package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/coachsync/internal/docstore"
	"github.com/kimhsiao/coachsync/internal/models"
	"github.com/kimhsiao/coachsync/internal/sync/queue"
)

// replay applies a queued action. An UPDATE whose target changed remotely
// after the action was queued is reconciled field by field first: fields
// that need a human are withheld from the write and kept pending. Only the
// fields the patch carries are reconciled; remote-only fields are left as
// they are.
func (c *Coordinator) replay(ctx context.Context, a models.QueuedAction) (queue.Report, error) {
	direct := queue.StoreReplayer{Store: c.store}
	if a.Type != models.ActionUpdate || a.Collection == "" || a.DocID == "" {
		return direct.Replay(ctx, a)
	}

	remote, err := c.store.Get(ctx, a.Collection, a.DocID)
	if err != nil {
		return queue.Report{}, err
	}
	remoteAt, ok := timestampOf(remote[UpdatedAtField])
	if !ok || remoteAt <= a.Timestamp {
		return direct.Replay(ctx, a)
	}

	local := make(map[string]interface{}, len(a.Data))
	remoteView := make(map[string]interface{}, len(a.Data))
	for k, v := range a.Data {
		if k == docstore.IDField || k == UpdatedAtField {
			continue
		}
		local[k] = v
		if rv, ok := remote[k]; ok {
			remoteView[k] = rv
		}
	}

	result := c.reconcile(a.Collection, a.DocID, local, remoteView)
	if len(result.Conflicts) == 0 {
		return direct.Replay(ctx, a)
	}

	conflicted := make(map[string]bool, len(result.Conflicts))
	for _, cd := range result.Conflicts {
		conflicted[cd.Field] = true
	}
	withheld := make(map[string]bool, len(result.PendingManual))
	for _, res := range result.PendingManual {
		withheld[res.Field] = true
	}

	patch := make(docstore.Document, len(local)+1)
	for k, v := range local {
		switch {
		case withheld[k]:
		case conflicted[k]:
			// A field the remote lacks has nothing to merge with.
			if merged, ok := result.Merged[k]; ok && merged != nil {
				patch[k] = merged
			} else {
				patch[k] = v
			}
		default:
			patch[k] = v
		}
	}
	patch[UpdatedAtField] = c.now().UnixMilli()

	if err := c.store.Update(ctx, a.Collection, a.DocID, patch); err != nil {
		return queue.Report{}, err
	}
	return queue.Report{Conflicts: len(result.Conflicts)}, nil
}

// timestampOf reads a modification time stored as epoch milliseconds or
// as an RFC 3339 string.
func timestampOf(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case time.Time:
		return t.UnixMilli(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, false
		}
		return parsed.UnixMilli(), true
	}
	return 0, false
}
