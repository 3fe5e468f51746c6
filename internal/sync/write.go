package sync

import (
	"context"

	"github.com/kimhsiao/coachsync/internal/docstore"
	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	"github.com/kimhsiao/coachsync/internal/uuid"
)

// Document fields maintained by the write path.
const (
	UpdatedAtField = "updatedAt"
	UserIDField    = "userId"
)

// WriteResult reports where a write went.
type WriteResult struct {
	DocID    string `json:"docId"`
	Queued   bool   `json:"queued"`
	ActionID string `json:"actionId,omitempty"`
}

// Create writes a new document. While offline, or when the remote write
// fails transiently, the create is queued. The document id is assigned
// before either path runs so a replay cannot create a duplicate.
func (c *Coordinator) Create(ctx context.Context, collection string, data map[string]interface{}, priority models.Priority) (WriteResult, error) {
	if collection == "" {
		return WriteResult{}, apperrors.New(apperrors.ErrValidation, "collection is required")
	}

	doc := c.stamp(data)
	id, _ := doc[docstore.IDField].(string)
	if id == "" {
		id = uuid.New()
	}
	doc[docstore.IDField] = id

	action := models.NewAction{
		Type:       models.ActionCreate,
		Collection: collection,
		DocID:      id,
		Data:       doc,
		Priority:   priority,
	}
	return c.write(ctx, action, func(ctx context.Context) error {
		_, err := c.store.Create(ctx, collection, docstore.Document(doc), id)
		return err
	})
}

// Update merges patch into document id.
func (c *Coordinator) Update(ctx context.Context, collection, id string, patch map[string]interface{}, priority models.Priority) (WriteResult, error) {
	if collection == "" || id == "" {
		return WriteResult{}, apperrors.New(apperrors.ErrValidation, "collection and document id are required")
	}

	doc := c.stamp(patch)
	action := models.NewAction{
		Type:       models.ActionUpdate,
		Collection: collection,
		DocID:      id,
		Data:       doc,
		Priority:   priority,
	}
	return c.write(ctx, action, func(ctx context.Context) error {
		return c.store.Update(ctx, collection, id, docstore.Document(doc))
	})
}

// Delete removes document id. Deleting a document that does not exist
// succeeds.
func (c *Coordinator) Delete(ctx context.Context, collection, id string, priority models.Priority) (WriteResult, error) {
	if collection == "" || id == "" {
		return WriteResult{}, apperrors.New(apperrors.ErrValidation, "collection and document id are required")
	}

	action := models.NewAction{
		Type:       models.ActionDelete,
		Collection: collection,
		DocID:      id,
		Priority:   priority,
	}
	return c.write(ctx, action, func(ctx context.Context) error {
		err := c.store.Delete(ctx, collection, id)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	})
}

// write tries remote first when online and falls back to the queue.
func (c *Coordinator) write(ctx context.Context, action models.NewAction, remote func(context.Context) error) (WriteResult, error) {
	res := WriteResult{DocID: action.DocID}

	if c.online.Load() {
		err := remote(ctx)
		if err == nil {
			return res, nil
		}
		if !apperrors.Retryable(err) || ctx.Err() != nil {
			return res, err
		}
		logging.Warn("Remote write failed, queueing",
			map[string]interface{}{
				"type":       string(action.Type),
				"collection": action.Collection,
				"doc_id":     action.DocID,
				"error":      err.Error(),
			})
	}

	actionID, err := c.queue.Enqueue(ctx, action)
	if err != nil {
		return res, err
	}
	res.Queued = true
	res.ActionID = actionID
	return res, nil
}

// stamp copies data and sets the modification time and owner.
func (c *Coordinator) stamp(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out[UpdatedAtField] = c.now().UnixMilli()
	if _, ok := out[UserIDField]; !ok && c.cfg.UserID != "" {
		out[UserIDField] = c.cfg.UserID
	}
	return out
}
