// Package docstore defines the remote document store contract the sync core
// replays mutations against, together with in-memory and PostgreSQL adapters.
package docstore

import (
	"context"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

// IDField is the document field that carries the document id.
const IDField = "id"

// Document is a schemaless record: field name to JSON-like value.
type Document map[string]interface{}

// ID returns the document id, or "" if absent.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return copyValue(map[string]interface{}(d)).(map[string]interface{})
}

// Store is the remote document store contract.
type Store interface {
	// Create stores data in collection. A non-empty id upserts at that id;
	// an empty id lets the store assign one. The document id is returned.
	Create(ctx context.Context, collection string, data Document, id string) (string, error)

	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// List returns the documents matching q.
	List(ctx context.Context, collection string, q Query) ([]Document, error)

	// Update merges patch into an existing document or returns ErrNotFound.
	Update(ctx context.Context, collection, id string, patch Document) error

	// Delete removes a document or returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe calls fn with the matching documents now and after every
	// change to collection, until the returned function is called or ctx ends.
	Subscribe(ctx context.Context, collection string, q Query, fn func([]Document)) (func(), error)
}

// Pinger is implemented by stores that can cheaply report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = apperrors.New(apperrors.ErrNotFound, "document not found")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = apperrors.New(apperrors.ErrRemoteUnavailable, "document store unavailable")
)

// copyValue deep-copies maps and slices of JSON-like values.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case Document:
		return Document(copyValue(map[string]interface{}(t)).(map[string]interface{}))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
