// Holds the ordered schema table of one serialized unit.

package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/maruel/datarepo/internal/wire"
)

// FormatVersion is the version byte leading an encoded catalog.
const FormatVersion byte = 1

var (
	// ErrUnsupportedFormat is returned when a catalog has an unknown version byte.
	ErrUnsupportedFormat = errors.New("unsupported schema table format")
	// ErrTooManyTypes is returned when a catalog outgrows 16 bits type indexes.
	ErrTooManyTypes = errors.New("too many types in schema table")
	// ErrCorrupt is returned when encoded data is inconsistent.
	ErrCorrupt = errors.New("corrupt schema table")
)

// Catalog is the ordered schema table of a serialized unit.
//
// It is built by capturing live types with Add on the write path and by
// DecodeCatalog on the read path. A Catalog is not safe for concurrent
// mutation.
type Catalog struct {
	res     *Resolver
	schemas []*TypeSchema
	byType  map[reflect.Type]*TypeSchema
}

// NewCatalog returns an empty catalog using res for identities.
func NewCatalog(res *Resolver) *Catalog {
	return &Catalog{res: res, byType: map[reflect.Type]*TypeSchema{}}
}

// Resolver returns the resolver used by the catalog.
func (c *Catalog) Resolver() *Resolver {
	return c.res
}

// Len returns the number of schemas.
func (c *Catalog) Len() int {
	return len(c.schemas)
}

// At returns the schema at index i, or nil when i is out of range. -1 is never
// a valid index.
func (c *Catalog) At(i int) *TypeSchema {
	if i < 0 || i >= len(c.schemas) {
		return nil
	}
	return c.schemas[i]
}

// Lookup returns the schema describing the live type t, or nil.
func (c *Catalog) Lookup(t reflect.Type) *TypeSchema {
	return c.byType[t]
}

// Schemas returns the schemas in table order. The slice must not be modified.
func (c *Catalog) Schemas() []*TypeSchema {
	return c.schemas
}

// Add captures t, and recursively every type its members, elements and keys
// reference, and returns its schema.
func (c *Catalog) Add(t reflect.Type) (*TypeSchema, error) {
	if s, ok := c.byType[t]; ok {
		return s, nil
	}
	if !encodable(t, map[reflect.Type]struct{}{}) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	id, err := c.res.Identity(t)
	if err != nil {
		return nil, err
	}
	if len(c.schemas) >= math.MaxInt16 {
		return nil, ErrTooManyTypes
	}
	s := newTypeSchema(t, id, c.res)
	s.TypeIndex = len(c.schemas)
	c.schemas = append(c.schemas, s)
	c.byType[t] = s

	switch t.Kind() { //nolint:exhaustive // Other kinds reference no other type.
	case reflect.Pointer, reflect.Slice, reflect.Array:
		if _, err := c.Add(t.Elem()); err != nil {
			return nil, err
		}
	case reflect.Map:
		if _, err := c.Add(t.Key()); err != nil {
			return nil, err
		}
		if _, err := c.Add(t.Elem()); err != nil {
			return nil, err
		}
	case reflect.Struct:
		if t == timeType {
			break
		}
		fields, props := captureMembers(t)
		if s.Fields, err = c.addMembers(s, fields); err != nil {
			return nil, err
		}
		if s.Properties, err = c.addMembers(s, props); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (c *Catalog) addMembers(owner *TypeSchema, infos []memberInfo) ([]*MemberSchema, error) {
	members := make([]*MemberSchema, 0, len(infos))
	for _, info := range infos {
		child, err := c.Add(info.typ)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner.Name, info.name, err)
		}
		members = append(members, &MemberSchema{
			Name:         info.name,
			Kind:         info.kind,
			TypeIndex:    int16(child.TypeIndex),
			Owner:        owner,
			IsSerialized: true,
			loadable:     true,
			bound:        true,
			typ:          info.typ,
			index:        info.index,
			getter:       info.getter,
			setter:       info.setter,
		})
	}
	return members, nil
}

// Encode writes the version byte, the schema count and every schema.
func (c *Catalog) Encode(w *wire.Writer) error {
	w.Byte(FormatVersion)
	w.Int32(int32(len(c.schemas)))
	for _, s := range c.schemas {
		s.encode(w)
	}
	return w.Err()
}

// DecodeCatalog reads a catalog written by Encode.
//
// Each identity is resolved with res. A type that does not resolve, or that the
// whitelist rejects, is not fatal: it is logged, its Type stays nil and
// readers skip its objects. Validate is run once the whole table is read.
func DecodeCatalog(ctx context.Context, r *wire.Reader, res *Resolver) (*Catalog, error) {
	v := r.Byte()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if v != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, v)
	}
	n := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n > math.MaxInt16 {
		return nil, fmt.Errorf("%w: %d schemas", ErrCorrupt, n)
	}
	c := NewCatalog(res)
	for i := range int(n) {
		s, err := decodeTypeSchema(r)
		if err != nil {
			return nil, fmt.Errorf("schema %d: %w", i, err)
		}
		s.TypeIndex = i
		c.schemas = append(c.schemas, s)
	}
	for _, s := range c.schemas {
		for _, m := range s.Members() {
			if m.TypeIndex != -1 && c.At(int(m.TypeIndex)) == nil {
				return nil, fmt.Errorf("%w: %s.%s references type %d", ErrCorrupt, s.Name, m.Name, m.TypeIndex)
			}
		}
		c.resolve(ctx, s)
	}
	c.Validate()
	return c, nil
}

func (c *Catalog) resolve(ctx context.Context, s *TypeSchema) {
	t, err := c.res.Resolve(s.Identity)
	if err != nil {
		slog.WarnContext(ctx, "schema type not resolved", "type", s.Identity, "err", err)
		s.Problem = err
		return
	}
	if !Allowed(t) {
		s.Problem = fmt.Errorf("%w: %s", ErrTypeNotAllowed, s.Identity)
		slog.WarnContext(ctx, "schema type rejected", "type", s.Identity, "err", s.Problem)
		return
	}
	s.Type = t
	s.IsCollection = isCollectionKind(t.Kind())
	s.Flags = flagsOf(t, c.res) | (s.Flags & FlagHasSubType)
	if _, ok := c.byType[t]; !ok {
		c.byType[t] = s
	}
	s.bind()
}

// Validate runs the second pass over every schema; see [TypeSchema.Validate].
func (c *Catalog) Validate() {
	for _, s := range c.schemas {
		s.Validate(c)
	}
}
