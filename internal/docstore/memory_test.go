package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

// ===== CRUD =====

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Create(ctx, "clients", Document{"name": "Ada"}, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty id")
	}

	got, err := s.Get(ctx, "clients", id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got["name"] != "Ada" || got.ID() != id {
		t.Errorf("Get() = %v", got)
	}

	// Returned documents are copies.
	got["name"] = "changed"
	again, _ := s.Get(ctx, "clients", id)
	if again["name"] != "Ada" {
		t.Error("mutating a returned document changed the store")
	}
}

func TestMemoryStore_CreateWithIDUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 2; i++ {
		if _, err := s.Create(ctx, "clients", Document{"n": i}, "fixed"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	docs, _ := s.List(ctx, "clients", Query{})
	if len(docs) != 1 {
		t.Fatalf("List() = %d docs, want 1", len(docs))
	}
	if docs[0]["n"] != 1 {
		t.Errorf("n = %v, want 1", docs[0]["n"])
	}
}

func TestMemoryStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Create(ctx, "clients", Document{"name": "Ada", "tier": "gold"}, "")

	if err := s.Update(ctx, "clients", id, Document{"tier": "silver", "id": "hijack"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	doc, _ := s.Get(ctx, "clients", id)
	if doc["tier"] != "silver" || doc["name"] != "Ada" || doc.ID() != id {
		t.Errorf("after Update() doc = %v", doc)
	}

	if err := s.Update(ctx, "clients", "missing", Document{"x": 1}); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want not found", err)
	}

	if err := s.Delete(ctx, "clients", id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "clients", id); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want not found", err)
	}
	if err := s.Delete(ctx, "clients", id); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Delete(deleted) error = %v, want not found", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, "clients", Document{"name": "b", "age": 30}, "1")
	s.Create(ctx, "clients", Document{"name": "a", "age": 40}, "2")
	s.Create(ctx, "clients", Document{"name": "c", "age": 20}, "3")
	s.Create(ctx, "sessions", Document{"name": "z"}, "4")

	docs, err := s.List(ctx, "clients", Query{}.Where("age", OpGreaterEqual, 30).OrderBy("name", Asc))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	assertIDs(t, docs, []string{"2", "1"})

	if _, err := s.List(ctx, "clients", Query{Limit: -1}); err == nil {
		t.Error("List() with invalid query should fail")
	}
}

// ===== Failure injection =====

func TestMemoryStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetAvailable(false)

	if _, err := s.Create(ctx, "clients", Document{}, ""); !apperrors.Is(err, apperrors.ErrRemoteUnavailable) {
		t.Errorf("Create() error = %v, want unavailable", err)
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping() should fail while unavailable")
	}
	if s.Calls(OpCreate) != 1 {
		t.Errorf("Calls(create) = %d, want 1", s.Calls(OpCreate))
	}

	s.SetAvailable(true)
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMemoryStore_SetFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rejected := apperrors.New(apperrors.ErrRemoteRejected, "nope")
	s.SetFailure(func(op Op, collection, id string) error {
		if op == OpUpdate && id == "bad" {
			return rejected
		}
		return nil
	})

	s.Create(ctx, "clients", Document{}, "bad")
	s.Create(ctx, "clients", Document{}, "good")

	if err := s.Update(ctx, "clients", "bad", Document{"x": 1}); err != rejected {
		t.Errorf("Update(bad) error = %v, want injected", err)
	}
	if err := s.Update(ctx, "clients", "good", Document{"x": 1}); err != nil {
		t.Errorf("Update(good) error = %v", err)
	}
}

func TestMemoryStore_RequiresCollection(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Create(context.Background(), "", Document{}, ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Create() error = %v, want validation", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Get(ctx, "clients", "x"); err != context.Canceled {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

// ===== Subscribe =====

type docRecorder struct {
	mu    sync.Mutex
	calls [][]Document
	ch    chan struct{}
}

func newDocRecorder() *docRecorder {
	return &docRecorder{ch: make(chan struct{}, 64)}
}

func (r *docRecorder) fn(docs []Document) {
	r.mu.Lock()
	r.calls = append(r.calls, docs)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *docRecorder) wait(t *testing.T) []Document {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, "clients", Document{"tier": "gold"}, "1")

	rec := newDocRecorder()
	unsubscribe, err := s.Subscribe(ctx, "clients", Query{}.Where("tier", OpEqual, "gold"), rec.fn)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	if docs := rec.wait(t); len(docs) != 1 {
		t.Fatalf("initial callback = %d docs, want 1", len(docs))
	}

	s.Create(ctx, "clients", Document{"tier": "gold"}, "2")
	deadline := time.After(2 * time.Second)
	for {
		docs := rec.wait(t)
		if len(docs) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("never observed second document")
		default:
		}
	}

	unsubscribe()
	unsubscribe()
	for len(rec.ch) > 0 {
		<-rec.ch
	}
	s.Create(ctx, "clients", Document{"tier": "gold"}, "3")
	select {
	case <-rec.ch:
		t.Error("callback after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_SubscribeContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	rec := newDocRecorder()

	if _, err := s.Subscribe(ctx, "clients", Query{}, rec.fn); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	rec.wait(t)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.subMu.Lock()
		n := len(s.subs["clients"])
		s.subMu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("subscription not removed after context cancel")
}

func TestMemoryStore_SubscribeValidation(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Subscribe(context.Background(), "clients", Query{}, nil); err == nil {
		t.Error("Subscribe(nil fn) should fail")
	}
	if _, err := s.Subscribe(context.Background(), "clients", Query{Limit: -2}, func([]Document) {}); err == nil {
		t.Error("Subscribe(invalid query) should fail")
	}
}
