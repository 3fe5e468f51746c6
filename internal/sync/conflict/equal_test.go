package conflict

import "testing"

func TestDeepEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"nils", nil, nil, true},
		{"nil vs value", nil, 0, false},
		{"int vs float", 1, 1.0, true},
		{"different numbers", 1, 2, false},
		{"number vs string", 1, "1", false},
		{"strings", "a", "a", true},
		{"bools", true, false, false},
		{"equal slices", []interface{}{1, "a"}, []interface{}{1.0, "a"}, true},
		{"typed vs generic slice", []string{"a"}, []interface{}{"a"}, true},
		{"different order", []interface{}{1, 2}, []interface{}{2, 1}, false},
		{"different length", []interface{}{1}, []interface{}{1, 1}, false},
		{"equal maps", map[string]interface{}{"x": []interface{}{1}}, map[string]interface{}{"x": []interface{}{1}}, true},
		{"extra key", map[string]interface{}{"x": 1}, map[string]interface{}{"x": 1, "y": 2}, false},
		{"key set differs", map[string]interface{}{"x": 1}, map[string]interface{}{"y": 1}, false},
		{"map vs slice", map[string]interface{}{}, []interface{}{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeepEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("DeepEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := DeepEqual(tt.b, tt.a); got != tt.want {
				t.Errorf("DeepEqual not symmetric for %v, %v", tt.a, tt.b)
			}
		})
	}
}

func TestMergeFunctions(t *testing.T) {
	if got := MergeNotes("X", nil); got != "X\n---\n" {
		t.Errorf("MergeNotes(X, nil) = %q", got)
	}
	if got := MergeTags([]string{"a"}, "oops"); got != "oops" {
		t.Errorf("MergeTags(non-list) = %v, want remote", got)
	}
	got := MergeTags([]string{"a", "b"}, []string{"b", "c"}).([]interface{})
	if len(got) != 3 {
		t.Errorf("MergeTags() = %v, want 3 items", got)
	}
	prefs := MergePreferences(nil, map[string]interface{}{"a": 1}).(map[string]interface{})
	if prefs["a"] != 1 {
		t.Errorf("MergePreferences(nil, remote) = %v", prefs)
	}
}
