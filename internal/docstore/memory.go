package docstore

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/uuid"
)

// Op names a Store operation, for failure injection and call counting.
type Op string

const (
	OpCreate Op = "create"
	OpGet    Op = "get"
	OpList   Op = "list"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// FailureFunc decides whether an operation should fail. Returning nil lets
// the operation proceed.
type FailureFunc func(op Op, collection, id string) error

// MemoryStore is an in-process Store. It backs tests, demos and offline
// simulation; SetAvailable(false) makes every call fail as if the network
// were down.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	available   bool
	failure     FailureFunc
	calls       map[Op]int

	subMu  sync.Mutex
	subs   map[string]map[int]*memorySub
	nextID int
}

type memorySub struct {
	query  Query
	fn     func([]Document)
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMemoryStore creates an empty, available MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		available:   true,
		calls:       make(map[Op]int),
		subs:        make(map[string]map[int]*memorySub),
	}
}

// SetAvailable simulates connectivity loss (false) and recovery (true).
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// SetFailure installs a failure hook consulted before every operation.
func (s *MemoryStore) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Calls returns how many times op was attempted, failed attempts included.
func (s *MemoryStore) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Ping implements Pinger.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return ErrUnavailable
	}
	return ctx.Err()
}

// begin records the call and applies availability and failure injection.
// Callers must hold s.mu for writing.
func (s *MemoryStore) begin(ctx context.Context, op Op, collection, id string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.available {
		return ErrUnavailable
	}
	if collection == "" {
		return apperrors.New(apperrors.ErrValidation, "collection is required")
	}
	if s.failure != nil {
		if err := s.failure(op, collection, id); err != nil {
			return err
		}
	}
	return nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, collection string, data Document, id string) (string, error) {
	s.mu.Lock()
	if err := s.begin(ctx, OpCreate, collection, id); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if id == "" {
		id = uuid.New()
	}
	doc := data.Clone()
	if doc == nil {
		doc = Document{}
	}
	doc[IDField] = id

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		s.collections[collection] = coll
	}
	coll[id] = doc
	s.mu.Unlock()

	s.publish(collection)
	return id, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpGet, collection, id); err != nil {
		return nil, err
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpList, collection, ""); err != nil {
		return nil, err
	}
	return s.snapshot(collection, q), nil
}

// snapshot returns cloned matching documents. Callers must hold s.mu.
func (s *MemoryStore) snapshot(collection string, q Query) []Document {
	coll := s.collections[collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, coll[id])
	}
	matched := q.Apply(docs)
	for i, d := range matched {
		matched[i] = d.Clone()
	}
	return matched
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch Document) error {
	s.mu.Lock()
	if err := s.begin(ctx, OpUpdate, collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for k, v := range patch.Clone() {
		if k == IDField {
			continue
		}
		doc[k] = v
	}
	s.mu.Unlock()

	s.publish(collection)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.begin(ctx, OpDelete, collection, id); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.publish(collection)
	return nil
}

// Subscribe implements Store. Each subscription runs its own delivery
// goroutine; bursts of changes coalesce into one callback.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, q Query, fn func([]Document)) (func(), error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "subscription callback is required")
	}

	sub := &memorySub{
		query:  q,
		fn:     fn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]*memorySub)
	}
	s.subs[collection][id] = sub
	s.subMu.Unlock()

	unsubscribe := func() {
		sub.once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[collection], id)
			s.subMu.Unlock()
			close(sub.done)
		})
	}

	sub.notify <- struct{}{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-sub.done:
				return
			case <-sub.notify:
				s.mu.RLock()
				docs := s.snapshot(collection, sub.query)
				s.mu.RUnlock()
				sub.fn(docs)
			}
		}
	}()

	return unsubscribe, nil
}

func (s *MemoryStore) publish(collection string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs[collection] {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}
