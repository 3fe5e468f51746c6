package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kimhsiao/coachsync/internal/models"
)

func sampleQueue() []models.QueuedAction {
	at := int64(1700000000500)
	return []models.QueuedAction{
		{ID: "a1", Type: models.ActionCreate, Collection: "clients", DocID: "c1",
			Data: map[string]interface{}{"name": "Ada"}, Timestamp: 1700000000000, Priority: models.PriorityHigh},
		{ID: "a2", Type: models.ActionDelete, Collection: "sessions", DocID: "s1",
			Timestamp: 1700000000001, RetryCount: 2, LastAttempt: &at, Priority: models.PriorityLow, LastError: "timeout"},
	}
}

// ===== KV store =====

func TestKVStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(NewMemoryKV(), "")

	got, err := store.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("Load() on empty store = %v, %v", got, err)
	}

	if err := store.Save(ctx, sampleQueue()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("Load() = %+v", got)
	}
	if got[1].LastAttempt == nil || *got[1].LastAttempt != 1700000000500 || got[1].RetryCount != 2 {
		t.Errorf("bookkeeping lost: %+v", got[1])
	}
}

func TestKVStore_SchemaValidation(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	raw := `[
		{"id":"ok","type":"CREATE","collection":"clients","timestamp":1,"retryCount":0},
		{"id":"bad-type","type":"UPSERT","collection":"clients","timestamp":1},
		{"id":"no-collection","type":"CREATE","timestamp":1},
		{"id":"neg-retry","type":"CREATE","collection":"c","timestamp":1,"retryCount":-1},
		{"id":"bad-priority","type":"CREATE","collection":"c","timestamp":1,"priority":"urgent"},
		"not an object"
	]`
	kv.Put(ctx, DefaultStorageKey, []byte(raw))

	got, err := NewKVStore(kv, DefaultStorageKey).Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatalf("Load() = %+v, want only the valid record", got)
	}
	if got[0].Priority != models.PriorityMedium {
		t.Errorf("missing priority loaded as %q, want medium", got[0].Priority)
	}
}

func TestKVStore_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Put(ctx, DefaultStorageKey, []byte("{not json"))

	got, err := NewKVStore(kv, DefaultStorageKey).Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("Load() = %v, %v; want empty queue", got, err)
	}
	saved, ok, _ := kv.Get(ctx, DefaultStorageKey+".corrupt")
	if !ok || string(saved) != "{not json" {
		t.Error("corrupt document was not preserved")
	}
}

func TestKVStore_SaveEmptyWritesArray(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	if err := NewKVStore(kv, "k").Save(ctx, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	raw, _, _ := kv.Get(ctx, "k")
	if string(raw) != "[]" {
		t.Errorf("saved %q, want []", raw)
	}
}

// ===== FileKV =====

func TestFileKV_GetPut(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kv, err := NewFileKV(filepath.Join(dir, "queue"))
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}

	if _, ok, err := kv.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v", ok, err)
	}

	if err := kv.Put(ctx, "offline_queue", []byte(`[1]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := kv.Put(ctx, "offline_queue", []byte(`[2]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok, err := kv.Get(ctx, "offline_queue")
	if err != nil || !ok || string(got) != "[2]" {
		t.Errorf("Get() = %q, %v, %v", got, ok, err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "queue"))
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != ".lock" {
			t.Errorf("leftover file %s", e.Name())
		}
	}
}

func TestFileKV_RejectsUnsafeKeys(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	for _, key := range []string{"", "../escape", "a/b", ".."} {
		if err := kv.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestFileKV_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, _ := NewFileKV(dir)
	b, _ := NewFileKV(dir)

	store := NewKVStore(a, DefaultStorageKey)
	if err := store.Save(ctx, sampleQueue()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := NewKVStore(b, DefaultStorageKey).Load(ctx)
	if err != nil || len(got) != 2 {
		t.Errorf("second instance Load() = %d actions, %v", len(got), err)
	}
}

func TestFileKV_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	kv, _ := NewFileKV(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kv.Put(ctx, "k", []byte(`["value"]`)); err != nil {
				t.Errorf("Put() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok || string(got) != `["value"]` {
		t.Errorf("Get() = %q, %v, %v", got, ok, err)
	}
}
