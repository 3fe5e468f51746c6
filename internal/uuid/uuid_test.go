// Package uuid provides unit tests for identifier generation and validation.
package uuid

import (
	"regexp"
	"sort"
	"testing"
	"time"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
}

// TestNewTimeOrdered tests v7 format and uniqueness.
func TestNewTimeOrdered(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := NewTimeOrdered()
		if !IsValid(id) {
			t.Fatalf("invalid v7 id: %s", id)
		}
		if id[14] != '7' {
			t.Fatalf("expected version nibble 7, got %s", id)
		}
		if ids[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewTimeOrdered_sortsByCreation tests ids created in different
// milliseconds sort in creation order.
func TestNewTimeOrdered_sortsByCreation(t *testing.T) {
	first := NewTimeOrdered()
	time.Sleep(2 * time.Millisecond)
	second := NewTimeOrdered()

	ids := []string{second, first}
	sort.Strings(ids)

	if ids[0] != first {
		t.Errorf("expected %s to sort before %s", first, second)
	}
}

// TestTimestamp tests extracting the creation time from a v7 id.
func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewTimeOrdered()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("Timestamp() = %v, want between %v and %v", ts, before, after)
	}

	if _, err := Timestamp(New()); err == nil {
		t.Error("Timestamp() should reject a v4 id")
	}
	if _, err := Timestamp("not-a-uuid"); err == nil {
		t.Error("Timestamp() should reject garbage")
	}
}

// TestIsValid tests validation edge cases.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"v4", "123e4567-e89b-42d3-a456-426614174000", true},
		{"v7", "01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"uppercase", "123E4567-E89B-42D3-A456-426614174000", true},
		{"v1", "123e4567-e89b-12d3-a456-426614174000", false},
		{"bad variant", "123e4567-e89b-42d3-c456-426614174000", false},
		{"no dashes", "123e4567e89b42d3a456426614174000", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.input); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if err := Validate(tt.input); (err == nil) != tt.want {
				t.Errorf("Validate(%q) error = %v", tt.input, err)
			}
		})
	}
}
