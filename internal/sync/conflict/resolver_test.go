package conflict

import (
	"reflect"
	"testing"
	"time"

	"github.com/kimhsiao/coachsync/internal/models"
)

var fixedClock = func() time.Time { return time.UnixMilli(1700000000000) }

// ===== Detection =====

func TestDetectConflicts_Equality(t *testing.T) {
	r := NewResolver(WithClock(fixedClock))

	got := r.DetectConflicts(
		map[string]interface{}{"a": 1, "b": []interface{}{1, 2}},
		map[string]interface{}{"a": 1, "b": []interface{}{1, 2}},
	)
	if len(got) != 0 {
		t.Errorf("equal objects produced %d conflicts: %v", len(got), got)
	}

	got = r.DetectConflicts(map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2})
	if len(got) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(got))
	}
	c := got[0]
	if c.Field != "a" || c.LocalValue != 1 || c.RemoteValue != 2 {
		t.Errorf("conflict = %+v", c)
	}
	if c.ID != "a_1700000000000" || c.Timestamp != 1700000000000 {
		t.Errorf("id/timestamp = %q/%d", c.ID, c.Timestamp)
	}
	if c.UserID != UnknownUser {
		t.Errorf("UserID = %q, want %q", c.UserID, UnknownUser)
	}
}

func TestDetectConflicts_NestedAndNumeric(t *testing.T) {
	r := NewResolver()

	local := map[string]interface{}{
		"prefs": map[string]interface{}{"theme": "dark", "size": 12},
		"count": int64(3),
	}
	remote := map[string]interface{}{
		"prefs": map[string]interface{}{"theme": "dark", "size": 12.0},
		"count": 3.0,
	}
	if got := r.DetectConflicts(local, remote); len(got) != 0 {
		t.Errorf("numeric type differences produced conflicts: %v", got)
	}

	remote["prefs"] = map[string]interface{}{"theme": "light", "size": 12}
	got := r.DetectConflicts(local, remote)
	if len(got) != 1 || got[0].Field != "prefs" {
		t.Errorf("nested difference = %v, want one conflict on prefs", got)
	}
}

func TestDetectConflicts_PresenceMismatch(t *testing.T) {
	local := map[string]interface{}{"a": 1, "userId": "u1"}
	remote := map[string]interface{}{"b": 2, "userId": "u1"}

	if got := NewResolver().DetectConflicts(local, remote); len(got) != 0 {
		t.Errorf("default mode reported presence mismatch: %v", got)
	}

	got := NewResolver(WithPresenceConflicts(true)).DetectConflicts(local, remote)
	if len(got) != 2 {
		t.Fatalf("strict mode got %d conflicts, want 2", len(got))
	}
	if got[0].Field != "a" || got[1].Field != "b" {
		t.Errorf("conflicts not sorted by field: %s, %s", got[0].Field, got[1].Field)
	}
	if got[0].UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got[0].UserID)
	}
}

// ===== Resolution =====

func TestResolveConflicts_DefaultStrategies(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		field      string
		local      interface{}
		remote     interface{}
		resolution models.ResolutionKind
		want       interface{}
	}{
		{"updatedAt", 1, 2, models.ResolutionRemote, 2},
		{"createdAt", 1, 2, models.ResolutionLocal, 1},
		{"name", "a", "b", models.ResolutionRemote, "b"},
		{"email", "a@x", "b@x", models.ResolutionRemote, "b@x"},
		{"phone", "1", "2", models.ResolutionRemote, "2"},
		{"notes", "X", "Y", models.ResolutionMerge, "X\n---\nY"},
		{"tags", []interface{}{"a", "b"}, []interface{}{"b", "c"}, models.ResolutionMerge, []interface{}{"a", "b", "c"}},
		{"preferences",
			map[string]interface{}{"theme": "dark", "lang": "en"},
			map[string]interface{}{"theme": "light"},
			models.ResolutionMerge,
			map[string]interface{}{"theme": "light", "lang": "en"}},
		{"medicalNotes", "x", "y", models.ResolutionManual, nil},
		{"emergencyContact", "x", "y", models.ResolutionManual, nil},
		{"unregistered", "x", "y", models.ResolutionRemote, "y"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			res := r.ResolveConflicts([]models.ConflictData{{
				ID: tt.field + "_1", Field: tt.field, LocalValue: tt.local, RemoteValue: tt.remote,
			}})
			if len(res) != 1 {
				t.Fatalf("got %d resolutions, want 1", len(res))
			}
			if res[0].Resolution != tt.resolution {
				t.Errorf("Resolution = %s, want %s", res[0].Resolution, tt.resolution)
			}
			if !reflect.DeepEqual(res[0].ResolvedValue, tt.want) {
				t.Errorf("ResolvedValue = %#v, want %#v", res[0].ResolvedValue, tt.want)
			}
			if res[0].ID != tt.field+"_1" {
				t.Errorf("ID = %q", res[0].ID)
			}
		})
	}
}

func TestResolveConflicts_MergeWithoutFunctionFallsBackToRemote(t *testing.T) {
	r := NewResolver()
	if err := r.RegisterStrategy(FieldStrategy{Field: "bio", Strategy: Merge}); err != nil {
		t.Fatalf("RegisterStrategy() error = %v", err)
	}

	res := r.ResolveConflicts([]models.ConflictData{{Field: "bio", LocalValue: "l", RemoteValue: "r"}})
	if res[0].Resolution != models.ResolutionRemote || res[0].ResolvedValue != "r" {
		t.Errorf("got %+v, want remote fallback", res[0])
	}
}

func TestRegisterStrategy(t *testing.T) {
	r := NewResolver()

	if err := r.RegisterStrategy(FieldStrategy{Field: "", Strategy: Manual}); err == nil {
		t.Error("empty field should be rejected")
	}
	if err := r.RegisterStrategy(FieldStrategy{Field: "x", Strategy: "coin-flip"}); err == nil {
		t.Error("unknown strategy should be rejected")
	}

	if err := r.RegisterStrategy(FieldStrategy{Field: "name", Strategy: Manual}); err != nil {
		t.Fatalf("RegisterStrategy() error = %v", err)
	}
	fs, ok := r.Strategy("name")
	if !ok || fs.Strategy != Manual {
		t.Errorf("Strategy(name) = %+v, %v", fs, ok)
	}

	all := r.Strategies()
	for i := 1; i < len(all); i++ {
		if all[i-1].Field > all[i].Field {
			t.Fatalf("Strategies() not sorted at %d", i)
		}
	}
}

func TestConfigure(t *testing.T) {
	r := NewResolver()
	err := r.Configure(map[string]string{"name": "manual", "notes": "merge", "goal": "first_write_wins"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if fs, _ := r.Strategy("goal"); fs.Strategy != FirstWriteWins {
		t.Errorf("goal strategy = %s", fs.Strategy)
	}
	if fs, _ := r.Strategy("notes"); fs.Merge == nil {
		t.Error("configured notes merge lost its built-in merge function")
	}

	if err := r.Configure(map[string]string{"x": "bogus"}); err == nil {
		t.Error("Configure() with bogus strategy should fail")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"last-write-wins", LastWriteWins, false},
		{"FIRST_WRITE_WINS", FirstWriteWins, false},
		{" merge ", Merge, false},
		{"manual", Manual, false},
		{"newest", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// ===== Applying =====

func TestApplyResolutions_ManualFieldsUntouched(t *testing.T) {
	r := NewResolver()
	local := map[string]interface{}{"medicalNotes": "allergic to X", "name": "Ada"}
	remote := map[string]interface{}{"medicalNotes": "none", "name": "Ada L."}

	resolutions := r.ResolveConflicts(r.DetectConflicts(local, remote))
	merged := ApplyResolutions(remote, resolutions)

	if merged["medicalNotes"] != "none" {
		t.Errorf("medicalNotes = %v, want base value preserved", merged["medicalNotes"])
	}
	if merged["name"] != "Ada L." {
		t.Errorf("name = %v", merged["name"])
	}

	manual := ManualResolutionRequired(resolutions)
	if len(manual) != 1 || manual[0].Field != "medicalNotes" || manual[0].ResolvedValue != nil {
		t.Errorf("ManualResolutionRequired() = %+v", manual)
	}
}

func TestApplyResolutions_Idempotent(t *testing.T) {
	base := map[string]interface{}{"notes": "Y", "createdAt": 2, "keep": true}
	resolutions := []models.ConflictResolution{
		{Field: "notes", ResolvedValue: "X\n---\nY", Resolution: models.ResolutionMerge},
		{Field: "createdAt", ResolvedValue: 1, Resolution: models.ResolutionLocal},
		{Field: "medicalNotes", Resolution: models.ResolutionManual},
	}

	first := ApplyResolutions(base, resolutions)
	second := ApplyResolutions(base, resolutions)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ: %v vs %v", first, second)
	}
	if base["notes"] != "Y" || base["createdAt"] != 2 {
		t.Errorf("base mutated: %v", base)
	}
	if _, ok := first["medicalNotes"]; ok {
		t.Error("manual resolution added a field")
	}
	if first["notes"] != "X\n---\nY" || first["createdAt"] != 1 || first["keep"] != true {
		t.Errorf("merged = %v", first)
	}
}
