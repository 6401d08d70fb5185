// Enumerates the serializable members of struct types via reflection.

package schema

import (
	"reflect"
	"strings"
)

// tagKey is the struct tag consulted on fields; `datarepo:"-"` excludes one.
const tagKey = "datarepo"

func skipTag(tag reflect.StructTag) bool {
	v, _, _ := strings.Cut(tag.Get(tagKey), ",")
	return v == "-"
}

type memberInfo struct {
	name   string
	kind   MemberKind
	typ    reflect.Type
	index  int
	getter int
	setter int
}

type property struct {
	typ    reflect.Type
	getter int
	setter int
}

// captureMembers lists the serializable fields and properties of struct t.
//
// Excluded are unexported fields, fields tagged `datarepo:"-"`, properties
// missing either accessor, accessors taking arguments, and members whose type
// cannot be encoded.
func captureMembers(t reflect.Type) (fields, props []memberInfo) {
	names := map[string]struct{}{}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() || skipTag(f.Tag) {
			continue
		}
		if !encodable(f.Type, map[reflect.Type]struct{}{}) {
			continue
		}
		names[f.Name] = struct{}{}
		fields = append(fields, memberInfo{name: f.Name, kind: FieldMember, typ: f.Type, index: i})
	}
	pt := reflect.PointerTo(t)
	for i := range pt.NumMethod() {
		name := pt.Method(i).Name
		if _, ok := names[name]; ok {
			continue
		}
		p, ok := lookupProperty(pt, name)
		if !ok || !encodable(p.typ, map[reflect.Type]struct{}{}) {
			continue
		}
		props = append(props, memberInfo{name: name, kind: PropertyMember, typ: p.typ, getter: p.getter, setter: p.setter})
	}
	return fields, props
}

// lookupProperty finds the X()/SetX() pair named name on the pointer type pt.
func lookupProperty(pt reflect.Type, name string) (property, bool) {
	if strings.HasPrefix(name, "Set") || name == "PublicData" {
		return property{}, false
	}
	get, ok := pt.MethodByName(name)
	if !ok {
		return property{}, false
	}
	// Method types include the receiver as the first input.
	gt := get.Type
	if gt.NumIn() != 1 || gt.NumOut() != 1 {
		return property{}, false
	}
	set, ok := pt.MethodByName("Set" + name)
	if !ok {
		return property{}, false
	}
	st := set.Type
	if st.NumIn() != 2 || st.NumOut() != 0 || st.In(1) != gt.Out(0) {
		return property{}, false
	}
	return property{typ: gt.Out(0), getter: get.Index, setter: set.Index}, true
}

// encodable reports whether values of t can be written.
func encodable(t reflect.Type, seen map[reflect.Type]struct{}) bool {
	if _, ok := seen[t]; ok {
		return true
	}
	seen[t] = struct{}{}
	if strings.ContainsRune(t.Name(), '[') {
		return false
	}
	switch t.Kind() {
	case reflect.Invalid, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return false
	case reflect.Interface:
		return t.Name() != "" || t.NumMethod() == 0
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return encodable(t.Elem(), seen)
	case reflect.Map:
		return encodable(t.Key(), seen) && encodable(t.Elem(), seen)
	case reflect.Struct:
		return t.Name() != "" || t.NumField() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
	}
	return true
}
