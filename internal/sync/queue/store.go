package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
)

const (
	// DefaultStorageKey holds the active queue.
	DefaultStorageKey = "offline_queue"
	// ParkedStorageKey holds actions that left automatic replay.
	ParkedStorageKey = "offline_queue_parked"
)

// QueueStore persists the ordered action list. Save must be atomic: a
// failed or interrupted Save leaves the previous list intact.
type QueueStore interface {
	Load(ctx context.Context) ([]models.QueuedAction, error)
	Save(ctx context.Context, actions []models.QueuedAction) error
}

// KV is a minimal durable key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// kvStore serializes the action list as one JSON array under a key.
type kvStore struct {
	kv  KV
	key string
}

// NewKVStore adapts kv into a QueueStore that keeps the list under key.
func NewKVStore(kv KV, key string) QueueStore {
	if key == "" {
		key = DefaultStorageKey
	}
	return &kvStore{kv: kv, key: key}
}

// Load implements QueueStore. Records that fail schema validation are
// dropped and logged; an undecodable document is moved aside to
// "<key>.corrupt" and treated as empty.
func (s *kvStore) Load(ctx context.Context) ([]models.QueuedAction, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePersist, "read queue", err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		logging.ErrorWithCode("Persisted queue is corrupt, starting empty", string(apperrors.ErrQueueCorrupt), err,
			map[string]interface{}{"key": s.key, "bytes": len(raw)})
		if putErr := s.kv.Put(ctx, s.key+".corrupt", raw); putErr != nil {
			logging.Error("Failed to preserve corrupt queue", putErr, map[string]interface{}{"key": s.key})
		}
		return nil, nil
	}

	actions := make([]models.QueuedAction, 0, len(records))
	for i, rec := range records {
		a, err := decodeRecord(rec)
		if err != nil {
			logging.ErrorWithCode("Dropping invalid queued action", string(apperrors.ErrQueueCorrupt), err,
				map[string]interface{}{"key": s.key, "index": i})
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Save implements QueueStore.
func (s *kvStore) Save(ctx context.Context, actions []models.QueuedAction) error {
	if actions == nil {
		actions = []models.QueuedAction{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "encode queue", err)
	}
	if err := s.kv.Put(ctx, s.key, raw); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "write queue", err)
	}
	return nil
}

const actionSchemaURL = "https://coachsync.local/schema/queued-action.json"

const actionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "type", "collection", "timestamp"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"enum": ["CREATE", "UPDATE", "DELETE"]},
		"collection": {"type": "string", "minLength": 1},
		"docId": {"type": "string"},
		"data": {"type": ["object", "null"]},
		"timestamp": {"type": "integer", "minimum": 0},
		"retryCount": {"type": "integer", "minimum": 0},
		"lastAttempt": {"type": ["integer", "null"]},
		"priority": {"enum": ["", "low", "medium", "high", "critical"]},
		"lastError": {"type": "string"},
		"failure": {"enum": ["", "exhausted", "validation", "rejected"]}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func actionValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(actionSchema)))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(actionSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(actionSchemaURL)
	})
	return schema, schemaErr
}

func decodeRecord(rec json.RawMessage) (models.QueuedAction, error) {
	var a models.QueuedAction

	sch, err := actionValidator()
	if err != nil {
		return a, apperrors.Wrap(apperrors.ErrInternal, "compile queued action schema", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(rec))
	if err != nil {
		return a, err
	}
	if err := sch.Validate(inst); err != nil {
		return a, err
	}
	if err := json.Unmarshal(rec, &a); err != nil {
		return a, err
	}
	if a.Priority == "" {
		a.Priority = models.PriorityMedium
	}
	return a, nil
}

// MemoryKV is a KV held in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements KV.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
