package queue

import (
	"context"

	"github.com/kimhsiao/coachsync/internal/docstore"
	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/models"
)

// Report describes a successful replay.
type Report struct {
	// Conflicts is the number of field conflicts reconciled while
	// replaying the action.
	Conflicts int
}

// Replayer applies one queued action to the remote store.
type Replayer interface {
	Replay(ctx context.Context, action models.QueuedAction) (Report, error)
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, action models.QueuedAction) (Report, error)

// Replay implements Replayer.
func (f ReplayFunc) Replay(ctx context.Context, action models.QueuedAction) (Report, error) {
	return f(ctx, action)
}

// StoreReplayer replays actions directly against a document store.
type StoreReplayer struct {
	Store docstore.Store
}

// Replay implements Replayer. CREATE with a docId upserts at that id;
// deleting a missing document counts as success.
func (r StoreReplayer) Replay(ctx context.Context, a models.QueuedAction) (Report, error) {
	if err := validateAction(a); err != nil {
		return Report{}, err
	}

	switch a.Type {
	case models.ActionCreate:
		_, err := r.Store.Create(ctx, a.Collection, docstore.Document(a.Data), a.DocID)
		return Report{}, err
	case models.ActionUpdate:
		return Report{}, r.Store.Update(ctx, a.Collection, a.DocID, docstore.Document(a.Data))
	default:
		err := r.Store.Delete(ctx, a.Collection, a.DocID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return Report{}, nil
		}
		return Report{}, err
	}
}

// validateAction reports local defects that no amount of retrying fixes.
func validateAction(a models.QueuedAction) error {
	if a.Collection == "" {
		return apperrors.New(apperrors.ErrValidation, "collection is required")
	}
	if !a.Type.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown action type %q", a.Type)
	}
	if a.Type.RequiresDocID() && a.DocID == "" {
		return apperrors.Newf(apperrors.ErrValidation, "%s requires a docId", a.Type)
	}
	return nil
}
