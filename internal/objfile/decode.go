package objfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/maruel/datarepo/internal/schema"
)

const (
	// maxElems bounds decoded slice and map lengths.
	maxElems = 1 << 24
	// maxObjects bounds the objects of one type.
	maxObjects = 1 << 24
)

// cursor reads values from an in-memory slice. The first error sticks.
type cursor struct {
	b   []byte
	err error
}

func (c *cursor) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
	}
}

func (c *cursor) take(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if n > uint64(len(c.b)) {
		c.fail("need %d bytes, have %d", n, len(c.b))
		return nil
	}
	p := c.b[:n:n]
	c.b = c.b[n:]
	return p
}

func (c *cursor) readByte() byte {
	p := c.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (c *cursor) uvarint() uint64 {
	if c.err != nil {
		return 0
	}
	v, n := binary.Uvarint(c.b)
	if n <= 0 {
		c.fail("bad uvarint")
		return 0
	}
	c.b = c.b[n:]
	return v
}

func (c *cursor) varint() int64 {
	if c.err != nil {
		return 0
	}
	v, n := binary.Varint(c.b)
	if n <= 0 {
		c.fail("bad varint")
		return 0
	}
	c.b = c.b[n:]
	return v
}

func (c *cursor) fixed32() uint32 {
	p := c.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (c *cursor) fixed64() uint64 {
	p := c.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// bytes reads a uvarint length then that many bytes.
func (c *cursor) bytes() []byte {
	return c.take(c.uvarint())
}

// length reads a collection length; -1 is nil.
func (c *cursor) length() (int, bool) {
	n := c.varint()
	if c.err != nil || n == -1 {
		return 0, false
	}
	if n < 0 || n > maxElems {
		c.fail("collection length %d", n)
		return 0, false
	}
	return int(n), true
}

type decoder struct {
	ctx   context.Context
	cat   *schema.Catalog
	objs  [][]reflect.Value
	depth int
}

// objects allocates every object of every usable schema, then fills them from
// the object region.
func (d *decoder) objects(region []byte) error {
	d.objs = make([][]reflect.Value, d.cat.Len())
	res := d.cat.Resolver()
	for _, s := range d.cat.Schemas() {
		if s.NumObjects == 0 || !s.IsStruct() {
			continue
		}
		if s.NumObjects > maxObjects {
			return fmt.Errorf("%w: %d objects of %s", ErrCorrupt, s.NumObjects, s.Identity)
		}
		objs := make([]reflect.Value, s.NumObjects)
		for i := range objs {
			objs[i] = res.New(s.Type)
		}
		d.objs[s.TypeIndex] = objs
	}
	for _, s := range d.cat.Schemas() {
		objs := d.objs[s.TypeIndex]
		if objs == nil {
			continue
		}
		if err := d.ctx.Err(); err != nil {
			return err
		}
		end := s.FileDataOffset + s.DataSize
		if end < s.FileDataOffset || end > int64(len(region)) {
			return fmt.Errorf("%w: %s objects at [%d, %d) past region of %d bytes", ErrCorrupt, s.Identity, s.FileDataOffset, end, len(region))
		}
		c := cursor{b: region[s.FileDataOffset:end]}
		for _, o := range objs {
			if err := d.structBody(&c, o.Elem(), s); err != nil {
				return err
			}
		}
	}
	return nil
}

// value decodes into the settable v.
func (d *decoder) value(c *cursor, v reflect.Value) error {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxDepth {
		c.fail("values nested deeper than %d", maxDepth)
		return c.err
	}
	t := v.Type()
	switch t {
	case timeType:
		p := c.bytes()
		if c.err != nil {
			return c.err
		}
		var tm time.Time
		if err := tm.UnmarshalBinary(p); err != nil {
			c.fail("time: %v", err)
			return c.err
		}
		v.Set(reflect.ValueOf(tm))
		return nil
	case typeType:
		id := string(c.bytes())
		if c.err != nil || id == "" {
			return c.err
		}
		rt, err := d.cat.Resolver().Resolve(id)
		if err == nil && schema.Allowed(rt) {
			v.Set(reflect.ValueOf(rt))
		} else {
			slog.DebugContext(d.ctx, "type value not resolved", "type", id)
		}
		return nil
	}
	switch t.Kind() {
	case reflect.Bool:
		v.SetBool(c.readByte() != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x := c.varint()
		if v.OverflowInt(x) {
			c.fail("%d overflows %s", x, t)
			break
		}
		v.SetInt(x)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x := c.uvarint()
		if v.OverflowUint(x) {
			c.fail("%d overflows %s", x, t)
			break
		}
		v.SetUint(x)
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(c.fixed32())))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(c.fixed64()))
	case reflect.Complex64:
		re := math.Float32frombits(c.fixed32())
		im := math.Float32frombits(c.fixed32())
		v.SetComplex(complex(float64(re), float64(im)))
	case reflect.Complex128:
		re := math.Float64frombits(c.fixed64())
		im := math.Float64frombits(c.fixed64())
		v.SetComplex(complex(re, im))
	case reflect.String:
		v.SetString(string(c.bytes()))
	case reflect.Slice:
		n, ok := c.length()
		if !ok {
			break
		}
		if t.Elem().Kind() == reflect.Uint8 {
			p := make([]byte, n)
			copy(p, c.take(uint64(n)))
			v.SetBytes(p)
			break
		}
		s := reflect.MakeSlice(t, n, n)
		for i := range n {
			if err := d.value(c, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.Array:
		for i := range v.Len() {
			if err := d.value(c, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		n, ok := c.length()
		if !ok {
			break
		}
		m := reflect.MakeMapWithSize(t, n)
		for range n {
			k := reflect.New(t.Key()).Elem()
			if err := d.value(c, k); err != nil {
				return err
			}
			x := reflect.New(t.Elem()).Elem()
			if err := d.value(c, x); err != nil {
				return err
			}
			m.SetMapIndex(k, x)
		}
		v.Set(m)
	case reflect.Pointer:
		if isObject(t.Elem()) {
			return d.ref(c, v)
		}
		if c.readByte() == 0 {
			break
		}
		p := reflect.New(t.Elem())
		if err := d.value(c, p.Elem()); err != nil {
			return err
		}
		v.Set(p)
	case reflect.Interface:
		return d.dynamic(c, v)
	case reflect.Struct:
		s := d.cat.Lookup(t)
		if s == nil {
			c.fail("no schema for %s", t)
			break
		}
		return d.structBody(c, v, s)
	case reflect.Invalid, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		c.fail("cannot decode %s", t)
	}
	return c.err
}

// ref decodes an object reference. References to objects that were not
// allocated because their type is unusable stay nil.
func (d *decoder) ref(c *cursor, v reflect.Value) error {
	i := c.uvarint()
	if c.err != nil || i == 0 {
		return c.err
	}
	s := d.cat.Lookup(v.Type().Elem())
	if s == nil {
		c.fail("no schema for %s", v.Type().Elem())
		return c.err
	}
	objs := d.objs[s.TypeIndex]
	if i > uint64(len(objs)) {
		c.fail("reference %d to %d objects of %s", i, len(objs), s.Identity)
		return c.err
	}
	v.Set(objs[i-1])
	return nil
}

// dynamic decodes an interface value. Values whose stored type is unusable
// are skipped and leave v nil.
func (d *decoder) dynamic(c *cursor, v reflect.Value) error {
	ti := c.varint()
	if c.err != nil || ti == -1 {
		return c.err
	}
	body := c.bytes()
	if c.err != nil {
		return c.err
	}
	s := d.cat.At(int(ti))
	if s == nil {
		c.fail("type index %d", ti)
		return c.err
	}
	if s.Type == nil || !s.Type.AssignableTo(v.Type()) {
		slog.DebugContext(d.ctx, "skipping value", "type", s.Identity, "into", v.Type().String())
		return nil
	}
	x := reflect.New(s.Type).Elem()
	sub := cursor{b: body}
	if err := d.value(&sub, x); err != nil {
		return err
	}
	v.Set(x)
	return nil
}

// structBody decodes the members stored for s into the addressable struct v,
// skipping the ones that are not loadable.
func (d *decoder) structBody(c *cursor, v reflect.Value, s *schema.TypeSchema) error {
	for _, m := range s.Members() {
		body := c.bytes()
		if c.err != nil {
			return c.err
		}
		if !m.IsLoadable() {
			continue
		}
		x := reflect.New(m.Type()).Elem()
		sub := cursor{b: body}
		if err := d.value(&sub, x); err != nil {
			if cerr := d.ctx.Err(); cerr != nil {
				return cerr
			}
			// The stored member has the same identity but another shape.
			slog.WarnContext(d.ctx, "skipping member", "type", s.Identity, "member", m.Name, "err", err)
			continue
		}
		m.Set(v, x)
	}
	return nil
}
