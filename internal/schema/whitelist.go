// Decides which resolved types may be instantiated from stored data.

package schema

import (
	"reflect"
	"time"
)

// PublicData is implemented by struct types that opt in to being instantiated
// from stored data. The method is a marker and is never called.
type PublicData interface {
	PublicData()
}

var (
	publicDataType = reflect.TypeFor[PublicData]()
	timeType       = reflect.TypeFor[time.Time]()
	typeType       = reflect.TypeFor[reflect.Type]()
)

// Allowed reports whether values of t may be created while decoding.
//
// Allowed types are: booleans, numbers, strings (including named types over
// them, which is how Go spells enums), interfaces, time.Time, reflect.Type,
// empty structs, pointers, slices, arrays and maps over allowed types, and
// struct types implementing [PublicData]. Everything else is rejected, even
// when it is registered.
func Allowed(t reflect.Type) bool {
	return allowed(t, map[reflect.Type]struct{}{})
}

func allowed(t reflect.Type, seen map[reflect.Type]struct{}) bool {
	if t == nil {
		return false
	}
	if _, ok := seen[t]; ok {
		return true
	}
	seen[t] = struct{}{}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String, reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return allowed(t.Elem(), seen)
	case reflect.Map:
		return allowed(t.Key(), seen) && allowed(t.Elem(), seen)
	case reflect.Struct:
		if t == timeType || (t.Name() == "" && t.NumField() == 0) {
			return true
		}
		return t.Implements(publicDataType) || reflect.PointerTo(t).Implements(publicDataType)
	case reflect.Invalid, reflect.Chan, reflect.Func, reflect.UnsafePointer:
	}
	return false
}
