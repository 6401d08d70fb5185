package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
	"time"

	"github.com/maruel/datarepo/internal/schema"
)

// maxDepth bounds the nesting of values that are not objects, on both paths.
const maxDepth = 1 << 12

var (
	timeType = reflect.TypeFor[time.Time]()
	typeType = reflect.TypeFor[reflect.Type]()
)

// isObject reports whether pointers to t are written as object references.
func isObject(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType
}

type objKey struct {
	t reflect.Type
	p uintptr
}

type pendingObject struct {
	s *schema.TypeSchema
	v reflect.Value
}

type encoder struct {
	cat    *schema.Catalog
	refs   map[objKey]uint64
	counts map[int]int64
	queue  []pendingObject
	bodies map[int][]byte
	depth  int
}

func newEncoder(cat *schema.Catalog) *encoder {
	return &encoder{
		cat:    cat,
		refs:   map[objKey]uint64{},
		counts: map[int]int64{},
		bodies: map[int][]byte{},
	}
}

// drain writes the body of every object discovered so far, including the ones
// discovered while doing so.
func (e *encoder) drain() error {
	for i := 0; i < len(e.queue); i++ {
		p := e.queue[i]
		b, err := e.structBody(e.bodies[p.s.TypeIndex], p.v.Elem())
		if err != nil {
			return err
		}
		e.bodies[p.s.TypeIndex] = b
	}
	e.queue = nil
	return nil
}

// layout records where the objects of each schema are in the object region.
func (e *encoder) layout() {
	var off int64
	for _, s := range e.cat.Schemas() {
		s.NumObjects = int32(e.counts[s.TypeIndex])
		s.DataSize = int64(len(e.bodies[s.TypeIndex]))
		s.FileDataOffset = 0
		if s.DataSize != 0 {
			s.FileDataOffset = off
		}
		off += s.DataSize
	}
}

func (e *encoder) value(b []byte, v reflect.Value) ([]byte, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxDepth {
		return b, fmt.Errorf("%w: values nested deeper than %d", errInvalidValue, maxDepth)
	}
	t := v.Type()
	switch t {
	case timeType:
		p, err := v.Interface().(time.Time).MarshalBinary()
		if err != nil {
			return b, err
		}
		return appendBytes(b, p), nil
	case typeType:
		if v.IsNil() {
			return appendBytes(b, nil), nil
		}
		id, err := e.cat.Resolver().Identity(v.Interface().(reflect.Type))
		if err != nil {
			return b, err
		}
		return appendBytes(b, []byte(id)), nil
	}
	switch t.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return binary.AppendVarint(b, v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return binary.AppendUvarint(b, v.Uint()), nil
	case reflect.Float32:
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v.Float()))), nil
	case reflect.Float64:
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.Float())), nil
	case reflect.Complex64:
		c := v.Complex()
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(real(c))))
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(imag(c)))), nil
	case reflect.Complex128:
		c := v.Complex()
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(real(c)))
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(imag(c))), nil
	case reflect.String:
		b = binary.AppendUvarint(b, uint64(v.Len()))
		return append(b, v.String()...), nil
	case reflect.Slice:
		if v.IsNil() {
			return binary.AppendVarint(b, -1), nil
		}
		b = binary.AppendVarint(b, int64(v.Len()))
		if t.Elem().Kind() == reflect.Uint8 {
			return append(b, v.Bytes()...), nil
		}
		return e.elems(b, v)
	case reflect.Array:
		return e.elems(b, v)
	case reflect.Map:
		return e.mapValue(b, v)
	case reflect.Pointer:
		if isObject(t.Elem()) {
			return e.ref(b, v)
		}
		if v.IsNil() {
			return append(b, 0), nil
		}
		return e.value(append(b, 1), v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return binary.AppendVarint(b, -1), nil
		}
		x := v.Elem()
		s, err := e.cat.Add(x.Type())
		if err != nil {
			return b, err
		}
		b = binary.AppendVarint(b, int64(s.TypeIndex))
		return e.sized(b, x)
	case reflect.Struct:
		return e.structBody(b, v)
	case reflect.Invalid, reflect.Chan, reflect.Func, reflect.UnsafePointer:
	}
	return b, fmt.Errorf("%w: %s", schema.ErrUnsupportedType, t)
}

func (e *encoder) elems(b []byte, v reflect.Value) ([]byte, error) {
	var err error
	for i := range v.Len() {
		if b, err = e.value(b, v.Index(i)); err != nil {
			return b, err
		}
	}
	return b, nil
}

// mapValue writes the entries sorted by encoded key so equal maps produce
// equal bytes.
func (e *encoder) mapValue(b []byte, v reflect.Value) ([]byte, error) {
	if v.IsNil() {
		return binary.AppendVarint(b, -1), nil
	}
	type entry struct {
		key []byte
		v   reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	for it := v.MapRange(); it.Next(); {
		k, err := e.value(nil, it.Key())
		if err != nil {
			return b, err
		}
		entries = append(entries, entry{key: k, v: it.Value()})
	}
	slices.SortFunc(entries, func(x, y entry) int { return bytes.Compare(x.key, y.key) })
	b = binary.AppendVarint(b, int64(len(entries)))
	var err error
	for _, en := range entries {
		b = append(b, en.key...)
		if b, err = e.value(b, en.v); err != nil {
			return b, err
		}
	}
	return b, nil
}

// ref writes an object reference, queuing the object on first sight.
func (e *encoder) ref(b []byte, v reflect.Value) ([]byte, error) {
	if v.IsNil() {
		return append(b, 0), nil
	}
	k := objKey{t: v.Type(), p: v.Pointer()}
	if i, ok := e.refs[k]; ok {
		return binary.AppendUvarint(b, i+1), nil
	}
	s, err := e.cat.Add(v.Type().Elem())
	if err != nil {
		return b, err
	}
	n := e.counts[s.TypeIndex]
	if n >= math.MaxInt32 {
		return b, fmt.Errorf("%w: too many %s objects", errInvalidValue, s.Name)
	}
	e.counts[s.TypeIndex] = n + 1
	e.refs[k] = uint64(n)
	e.queue = append(e.queue, pendingObject{s: s, v: v})
	return binary.AppendUvarint(b, uint64(n)+1), nil
}

// structBody writes every member of the struct v as a length-prefixed value.
func (e *encoder) structBody(b []byte, v reflect.Value) ([]byte, error) {
	s, err := e.cat.Add(v.Type())
	if err != nil {
		return b, err
	}
	if !v.CanAddr() {
		c := reflect.New(v.Type()).Elem()
		c.Set(v)
		v = c
	}
	for _, m := range s.Members() {
		if b, err = e.sized(b, m.Get(v)); err != nil {
			return b, fmt.Errorf("%s.%s: %w", s.Name, m.Name, err)
		}
	}
	return b, nil
}

func (e *encoder) sized(b []byte, v reflect.Value) ([]byte, error) {
	p, err := e.value(nil, v)
	if err != nil {
		return b, err
	}
	return appendBytes(b, p), nil
}

func appendBytes(b, p []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(p)))
	return append(b, p...)
}
