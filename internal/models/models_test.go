// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// =====================================================
// Priority Tests
// =====================================================

// TestPriority_Rank verifies drain ordering weights.
func TestPriority_Rank(t *testing.T) {
	tests := []struct {
		priority Priority
		want     int
	}{
		{PriorityCritical, 3},
		{PriorityHigh, 2},
		{PriorityMedium, 1},
		{PriorityLow, 0},
		{Priority(""), 1},
		{Priority("urgent"), 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			if got := tt.priority.Rank(); got != tt.want {
				t.Errorf("Rank() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestPriority_Valid verifies only the four known priorities are valid.
func TestPriority_Valid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Priority("urgent").Valid() {
		t.Error("unknown priority should be invalid")
	}
}

// =====================================================
// ActionType Tests
// =====================================================

func TestActionType_RequiresDocID(t *testing.T) {
	if ActionCreate.RequiresDocID() {
		t.Error("CREATE should not require a docId")
	}
	if !ActionUpdate.RequiresDocID() || !ActionDelete.RequiresDocID() {
		t.Error("UPDATE and DELETE should require a docId")
	}
	if ActionType("UPSERT").Valid() {
		t.Error("unknown action type should be invalid")
	}
}

// =====================================================
// QueuedAction Tests
// =====================================================

// TestQueuedAction_JSONFieldNames verifies the persisted layout uses the
// storage field names shared with the web client.
func TestQueuedAction_JSONFieldNames(t *testing.T) {
	at := int64(1700000000500)
	action := QueuedAction{
		ID:          "a-1",
		Type:        ActionUpdate,
		Collection:  "players",
		DocID:       "p-1",
		Data:        map[string]interface{}{"name": "Sam"},
		Timestamp:   1700000000000,
		RetryCount:  2,
		LastAttempt: &at,
		Priority:    PriorityHigh,
	}

	raw, err := json.Marshal(action)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, key := range []string{"id", "type", "collection", "docId", "data", "timestamp", "retryCount", "lastAttempt", "priority"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing JSON field %q in %s", key, raw)
		}
	}
	if _, ok := fields["failure"]; ok {
		t.Error("failure should be omitted for a queued action")
	}
}

// TestQueuedAction_Clone verifies Clone detaches Data and LastAttempt.
func TestQueuedAction_Clone(t *testing.T) {
	at := int64(10)
	original := QueuedAction{
		ID:          "a-1",
		Data:        map[string]interface{}{"name": "Sam"},
		LastAttempt: &at,
	}

	clone := original.Clone()
	clone.Data["name"] = "Alex"
	*clone.LastAttempt = 20

	if original.Data["name"] != "Sam" {
		t.Errorf("original Data modified: %v", original.Data)
	}
	if *original.LastAttempt != 10 {
		t.Errorf("original LastAttempt modified: %d", *original.LastAttempt)
	}
}

// TestQueuedAction_Times verifies millisecond conversions.
func TestQueuedAction_Times(t *testing.T) {
	action := QueuedAction{Timestamp: 1700000000123}

	if got := action.CreatedAt(); !got.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("CreatedAt() = %v", got)
	}
	if !action.LastAttemptTime().IsZero() {
		t.Error("LastAttemptTime() should be zero without an attempt")
	}
	if action.Parked() {
		t.Error("new action should not be parked")
	}

	action.Failure = FailureExhausted
	if !action.Parked() {
		t.Error("action with a failure kind should be parked")
	}
}

// =====================================================
// ConflictResolution Tests
// =====================================================

func TestConflictResolution_IsManual(t *testing.T) {
	manual := ConflictResolution{Resolution: ResolutionManual}
	remote := ConflictResolution{Resolution: ResolutionRemote}

	if !manual.IsManual() {
		t.Error("manual resolution should report IsManual")
	}
	if remote.IsManual() {
		t.Error("remote resolution should not report IsManual")
	}
}
