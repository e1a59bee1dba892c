// Package serialize converts arbitrary host values into JSON-safe values
// for inclusion in decision contexts and results.
package serialize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// DefaultMaxDepth bounds recursion before falling back to the display
// string of a value.
const DefaultMaxDepth = 32

// Value converts v into a nested combination of strings, numbers,
// booleans, nil, []any, and map[string]any. Values that cannot be
// decomposed degrade to their display string; this is lossy, not an
// error. Cyclic and arbitrarily deep graphs terminate via a visited set
// and a depth limit. Value is idempotent on already JSON-safe input.
func Value(v any) any {
	return ValueDepth(v, DefaultMaxDepth)
}

// ValueDepth is Value with an explicit recursion limit.
func ValueDepth(v any, maxDepth int) any {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	w := walker{maxDepth: maxDepth, seen: make(map[uintptr]struct{})}
	return w.walk(reflect.ValueOf(v), 0)
}

// Truncate caps s at limit bytes without splitting a rune. A limit of
// zero or less leaves s untouched.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

type walker struct {
	maxDepth int
	seen     map[uintptr]struct{}
}

func (w *walker) walk(rv reflect.Value, depth int) any {
	if !rv.IsValid() {
		return nil
	}
	if depth >= w.maxDepth {
		return fallback(rv)
	}

	if rv.CanInterface() {
		if err, ok := rv.Interface().(error); ok && err != nil {
			return errString(err)
		}
	}

	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		// Primitive scalars pass through unchanged, keeping Value
		// idempotent on JSON-safe input.
		if rv.CanInterface() {
			return rv.Interface()
		}
		return display(rv)

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return w.walk(rv.Elem(), depth)

	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if _, cyclic := w.seen[ptr]; cyclic {
			return refString(rv)
		}
		w.seen[ptr] = struct{}{}
		out := w.walk(rv.Elem(), depth+1)
		delete(w.seen, ptr)
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return display(rv)
		}
		ptr := rv.Pointer()
		if _, cyclic := w.seen[ptr]; cyclic {
			return refString(rv)
		}
		w.seen[ptr] = struct{}{}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = w.walk(iter.Value(), depth+1)
		}
		delete(w.seen, ptr)
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		return w.walkSeq(rv, depth)

	case reflect.Array:
		return w.walkSeq(rv, depth)

	case reflect.Struct:
		if out, ok := w.fromMarshaler(rv, depth); ok {
			return out
		}
		return w.walkStruct(rv, depth)

	default:
		return display(rv)
	}
}

func (w *walker) walkSeq(rv reflect.Value, depth int) any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = w.walk(rv.Index(i), depth+1)
	}
	return out
}

// walkStruct serializes the exported fields of a struct as a mapping,
// honoring json tags for naming.
func (w *walker) walkStruct(rv reflect.Value, depth int) any {
	t := rv.Type()
	out := make(map[string]any)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = w.walk(rv.Field(i), depth+1)
	}
	return out
}

// fromMarshaler handles values exposing a canonical JSON form, such as
// time.Time. One level of unwrapping, then the result is walked again.
func (w *walker) fromMarshaler(rv reflect.Value, depth int) (any, bool) {
	if !rv.CanInterface() {
		return nil, false
	}
	m, ok := rv.Interface().(json.Marshaler)
	if !ok {
		return nil, false
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return refString(rv), true
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return refString(rv), true
	}
	return decoded, true
}

// fallback is the value form used once the depth limit is hit. Containers
// degrade to a compact reference instead of their display string: fmt has
// no cycle detection, so printing a container that may contain a cycle
// could recurse without bound.
func fallback(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		if rv.CanInterface() {
			return rv.Interface()
		}
		return refString(rv)
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Interface:
		return refString(rv)
	default:
		return display(rv)
	}
}

// refString identifies a value by type and address without walking it.
func refString(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("<%s@0x%x>", rv.Type(), rv.Pointer())
	default:
		return fmt.Sprintf("<%s>", rv.Type())
	}
}

// errString never lets a misbehaving Error method escape the serializer.
func errString(err error) (s string) {
	defer func() {
		if recover() != nil {
			s = "<nil>"
		}
	}()
	return err.Error()
}

func display(rv reflect.Value) string {
	if rv.CanInterface() {
		return fmt.Sprintf("%v", rv.Interface())
	}
	return rv.String()
}
