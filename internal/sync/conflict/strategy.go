package conflict

import (
	"fmt"
	"reflect"
	"strings"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

// Strategy decides how a conflicting field is resolved.
type Strategy string

const (
	LastWriteWins  Strategy = "last-write-wins"
	FirstWriteWins Strategy = "first-write-wins"
	Merge          Strategy = "merge"
	Manual         Strategy = "manual"
)

// MergeFunc combines a local and a remote value into one.
type MergeFunc func(local, remote interface{}) interface{}

// FieldStrategy binds a Strategy (and for Merge, a MergeFunc) to a field.
type FieldStrategy struct {
	Field    string
	Strategy Strategy
	Merge    MergeFunc
}

// NotesSeparator joins local and remote notes when they are merged.
const NotesSeparator = "\n---\n"

// ParseStrategy parses a strategy name. Underscores are accepted in place
// of dashes so config files can use either form.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	switch st {
	case LastWriteWins, FirstWriteWins, Merge, Manual:
		return st, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalid, "unknown conflict strategy %q", s)
}

// DefaultStrategies returns the built-in field strategy table.
func DefaultStrategies() []FieldStrategy {
	return []FieldStrategy{
		{Field: "updatedAt", Strategy: LastWriteWins},
		{Field: "createdAt", Strategy: FirstWriteWins},
		{Field: "name", Strategy: LastWriteWins},
		{Field: "email", Strategy: LastWriteWins},
		{Field: "phone", Strategy: LastWriteWins},
		{Field: "notes", Strategy: Merge, Merge: MergeNotes},
		{Field: "tags", Strategy: Merge, Merge: MergeTags},
		{Field: "preferences", Strategy: Merge, Merge: MergePreferences},
		{Field: "medicalNotes", Strategy: Manual},
		{Field: "emergencyContact", Strategy: Manual},
	}
}

// builtinMerges lets a configured merge strategy pick up the matching
// merge function by field name.
var builtinMerges = map[string]MergeFunc{
	"notes":       MergeNotes,
	"tags":        MergeTags,
	"preferences": MergePreferences,
}

// MergeNotes concatenates local and remote text, local first.
func MergeNotes(local, remote interface{}) interface{} {
	return text(local) + NotesSeparator + text(remote)
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return fmt.Sprint(v)
}

// MergeTags returns the union of two lists: local items in order, then
// remote items not already present. Non-list input resolves to remote.
func MergeTags(local, remote interface{}) interface{} {
	l, lok := toList(local)
	r, rok := toList(remote)
	if !lok || !rok {
		return remote
	}

	out := make([]interface{}, 0, len(l)+len(r))
	for _, items := range [][]interface{}{l, r} {
		for _, item := range items {
			if !containsValue(out, item) {
				out = append(out, item)
			}
		}
	}
	return out
}

func toList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, true
	}
	if l, ok := v.([]interface{}); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// MergePreferences spreads remote over local: keys from both, remote wins
// on collision. Non-object input resolves to remote.
func MergePreferences(local, remote interface{}) interface{} {
	l, lok := toObject(local)
	r, rok := toObject(remote)
	if !lok || !rok {
		return remote
	}

	out := make(map[string]interface{}, len(l)+len(r))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range r {
		out[k] = v
	}
	return out
}

func toObject(v interface{}) (map[string]interface{}, bool) {
	if v == nil {
		return nil, true
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
