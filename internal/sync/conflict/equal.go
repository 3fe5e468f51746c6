package conflict

import "reflect"

// DeepEqual reports whether two JSON-like values are structurally equal.
// Numbers compare by value regardless of Go type, so 1 and 1.0 are equal.
// Maps must have the same key set; slices the same length and order.
func DeepEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, ok := number(a); ok {
		bf, ok := number(b)
		return ok && af == bf
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch av.Kind() {
	case reflect.Map:
		if bv.Kind() != reflect.Map || av.Len() != bv.Len() {
			return false
		}
		iter := av.MapRange()
		for iter.Next() {
			other := lookup(bv, iter.Key())
			if !other.IsValid() {
				return false
			}
			if !DeepEqual(iter.Value().Interface(), other.Interface()) {
				return false
			}
		}
		return true

	case reflect.Slice, reflect.Array:
		if bv.Kind() != reflect.Slice && bv.Kind() != reflect.Array {
			return false
		}
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !DeepEqual(av.Index(i).Interface(), bv.Index(i).Interface()) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// lookup finds key in m, converting between string-keyed map types.
func lookup(m reflect.Value, key reflect.Value) reflect.Value {
	kt := m.Type().Key()
	if !key.Type().AssignableTo(kt) {
		if !key.Type().ConvertibleTo(kt) {
			return reflect.Value{}
		}
		key = key.Convert(kt)
	}
	return m.MapIndex(key)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
