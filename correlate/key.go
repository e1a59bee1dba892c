// Package correlate derives stable correlation keys for in-flight units
// of work and tracks their decision ids until a terminal event consumes
// them.
package correlate

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// PlaceholderName labels units of work whose host supplies no name.
const PlaceholderName = "unknown"

// RunKey derives a key from an externally generated run identifier. This
// is the preferred form: the host guarantees the identifier is stable for
// the lifetime of the unit of work.
func RunKey(id uuid.UUID) string {
	return id.String()
}

// Key wraps an explicit host-supplied string identifier. Resolution never
// fails; an empty id degrades to the placeholder name.
func Key(id string) string {
	if id == "" {
		return PlaceholderName
	}
	return id
}

// IdentityKey composes a human-readable name with the runtime identity of
// v, for hosts that key callbacks by object rather than by run id.
// Resolving the same name and object at start and end yields the same
// key; distinct live objects yield distinct keys. Values without a stable
// identity (plain structs, scalars) get a random key, which still
// satisfies uniqueness but not stability; such hosts should pass pointers.
func IdentityKey(name string, v any) string {
	if name == "" {
		name = PlaceholderName
	}
	return fmt.Sprintf("%s_%s", name, identity(v))
}

func identity(v any) string {
	if v == nil {
		return "nil"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("%p", v)
	default:
		return uuid.NewString()
	}
}
