package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

// Operator is a comparison used by a Filter.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter restricts a query to documents whose Field compares to Value.
type Filter struct {
	Field string      `json:"field"`
	Op    Operator    `json:"operator"`
	Value interface{} `json:"value"`
}

// Sort orders query results by Field.
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Query selects, orders and limits documents of one collection.
type Query struct {
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Where returns a copy of q with an extra filter.
func (q Query) Where(field string, op Operator, value interface{}) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy returns a copy of q with an extra sort clause.
func (q Query) OrderBy(field string, dir Direction) Query {
	q.Sorts = append(append([]Sort(nil), q.Sorts...), Sort{Field: field, Direction: dir})
	return q
}

// Validate rejects unknown operators and directions and negative limits.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return apperrors.New(apperrors.ErrInvalid, "filter field is required")
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		case OpIn:
			if kind := reflect.ValueOf(f.Value).Kind(); kind != reflect.Slice && kind != reflect.Array {
				return apperrors.Newf(apperrors.ErrInvalid, "filter %q: in requires a list value", f.Field)
			}
		default:
			return apperrors.Newf(apperrors.ErrInvalid, "filter %q: unknown operator %q", f.Field, f.Op)
		}
	}
	for _, s := range q.Sorts {
		if s.Field == "" {
			return apperrors.New(apperrors.ErrInvalid, "sort field is required")
		}
		switch Direction(strings.ToLower(string(s.Direction))) {
		case Asc, Desc, "":
		default:
			return apperrors.Newf(apperrors.ErrInvalid, "sort %q: unknown direction %q", s.Field, s.Direction)
		}
	}
	if q.Limit < 0 {
		return apperrors.New(apperrors.ErrInvalid, "limit must not be negative")
	}
	return nil
}

// Matches reports whether doc satisfies every filter of q.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits docs in memory. docs is not modified.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, s := range q.Sorts {
			c, ok := compareValues(out[i][s.Field], out[j][s.Field])
			if !ok {
				c = compareMissing(out[i][s.Field], out[j][s.Field])
			}
			if c == 0 {
				continue
			}
			if Direction(strings.ToLower(string(s.Direction))) == Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (f Filter) matches(doc Document) bool {
	v, present := doc[f.Field]

	switch f.Op {
	case OpEqual:
		return present && valuesEqual(v, f.Value)
	case OpNotEqual:
		return !present || !valuesEqual(v, f.Value)
	case OpIn:
		if !present {
			return false
		}
		list := reflect.ValueOf(f.Value)
		if list.Kind() != reflect.Slice && list.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < list.Len(); i++ {
			if valuesEqual(v, list.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	if !present {
		return false
	}
	c, ok := compareValues(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// compareMissing sorts nil/incomparable values before everything else.
func compareMissing(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func valuesEqual(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders numbers, strings, times and booleans. ok is false
// when the values are not mutually comparable.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
