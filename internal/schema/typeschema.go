package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maruel/datarepo/internal/wire"
)

// Flags describes a type.
type Flags uint8

const (
	// FlagPrimitive is set for booleans, numbers and strings.
	FlagPrimitive Flags = 1 << iota
	// FlagPrivate is set for named types that are not exported.
	FlagPrivate
	// FlagPublic is set for exported named types and unnamed types.
	FlagPublic
	// FlagStatic is never set: Go types have no static-only form.
	FlagStatic
	// FlagSerialized is set when values of the type can be encoded.
	FlagSerialized
	// FlagHasConstructor is set when the resolver has a constructor for the type.
	FlagHasConstructor
	// FlagHasSubType is set for interfaces: each value records its own
	// dynamic type.
	FlagHasSubType
)

// Has reports whether all bits of x are set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// MemberKind tells whether a member is a struct field or a property.
type MemberKind uint8

const (
	// FieldMember is an exported struct field.
	FieldMember MemberKind = iota
	// PropertyMember is a X()/SetX() method pair on the pointer receiver.
	PropertyMember
)

func (k MemberKind) String() string {
	if k == PropertyMember {
		return "property"
	}
	return "field"
}

// TypeSchema is the stored structural description of one type.
type TypeSchema struct {
	// Name is the short Go name of the type.
	Name string
	// Identity is the versioned identity string.
	Identity string
	// IsCollection is set for slices, arrays and maps.
	IsCollection bool
	// Fields and Properties are the serialized members, in stored order.
	Fields     []*MemberSchema
	Properties []*MemberSchema
	// TypeIndex is the position in the owning Catalog, -1 when not in one.
	TypeIndex int
	// NumObjects, FileDataOffset and DataSize address the objects of this type
	// in the object region of a file.
	NumObjects     int32
	FileDataOffset int64
	DataSize       int64
	// Type is the live type. It is nil when resolution failed or the whitelist
	// rejected the type; Problem then says why.
	Type    reflect.Type
	Problem error
	Flags   Flags
}

func newTypeSchema(t reflect.Type, id string, res *Resolver) *TypeSchema {
	s := &TypeSchema{
		Name:      t.Name(),
		Identity:  id,
		TypeIndex: -1,
		Type:      t,
	}
	if s.Name == "" {
		s.Name = t.String()
	}
	s.IsCollection = isCollectionKind(t.Kind())
	s.Flags = flagsOf(t, res)
	return s
}

// Members returns the fields followed by the properties.
func (s *TypeSchema) Members() []*MemberSchema {
	out := make([]*MemberSchema, 0, len(s.Fields)+len(s.Properties))
	out = append(out, s.Fields...)
	return append(out, s.Properties...)
}

// Member returns the member named name, or nil.
func (s *TypeSchema) Member(name string) *MemberSchema {
	for _, m := range s.Fields {
		if m.Name == name {
			return m
		}
	}
	for _, m := range s.Properties {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// IsStruct reports whether values of the type are encoded as a member list.
func (s *TypeSchema) IsStruct() bool {
	return s.Type != nil && s.Type.Kind() == reflect.Struct && s.Type != timeType
}

func (s *TypeSchema) String() string {
	return fmt.Sprintf("#%d %s", s.TypeIndex, s.Identity)
}

// encode writes the schema in the canonical layout.
func (s *TypeSchema) encode(w *wire.Writer) {
	w.String(s.Name)
	w.String(s.Identity)
	w.Bool(s.Flags.Has(FlagHasSubType))
	w.Int32(s.NumObjects)
	w.Int64(s.FileDataOffset)
	w.Int64(s.DataSize)
	encodeMembers(w, s.Fields)
	encodeMembers(w, s.Properties)
}

func encodeMembers(w *wire.Writer, members []*MemberSchema) {
	w.Int32(int32(len(members)))
	for _, m := range members {
		w.String(m.Name)
		w.Int16(m.TypeIndex)
	}
}

// maxMembers bounds decoded member counts.
const maxMembers = 1 << 16

func decodeTypeSchema(r *wire.Reader) (*TypeSchema, error) {
	s := &TypeSchema{TypeIndex: -1}
	s.Name = r.String()
	s.Identity = r.String()
	if r.Bool() {
		s.Flags |= FlagHasSubType
	}
	s.NumObjects = r.Int32()
	s.FileDataOffset = r.Int64()
	s.DataSize = r.Int64()
	var err error
	if s.Fields, err = decodeMembers(r, s, FieldMember); err != nil {
		return nil, err
	}
	if s.Properties, err = decodeMembers(r, s, PropertyMember); err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if s.NumObjects < 0 || s.FileDataOffset < 0 || s.DataSize < 0 {
		return nil, fmt.Errorf("%w: negative object table address in %s", ErrCorrupt, s.Identity)
	}
	s.IsCollection = isCollectionIdentity(s.Identity)
	return s, nil
}

func decodeMembers(r *wire.Reader, owner *TypeSchema, kind MemberKind) ([]*MemberSchema, error) {
	n := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n < 0 || n > maxMembers {
		return nil, fmt.Errorf("%w: %d %s members", ErrCorrupt, n, kind)
	}
	members := make([]*MemberSchema, 0, n)
	for range n {
		m := &MemberSchema{
			Name:         r.String(),
			TypeIndex:    r.Int16(),
			Kind:         kind,
			Owner:        owner,
			IsSerialized: true,
			loadable:     true,
			getter:       -1,
			setter:       -1,
		}
		members = append(members, m)
	}
	return members, r.Err()
}

// bind attaches the live member handles after the owner type is resolved.
func (s *TypeSchema) bind() {
	for _, m := range s.Fields {
		m.bindField()
	}
	for _, m := range s.Properties {
		m.bindProperty()
	}
}

// Validate downgrades members whose live type no longer matches the type they
// were stored with. It needs the whole catalog to follow TypeIndex references.
func (s *TypeSchema) Validate(c *Catalog) {
	for _, m := range s.Members() {
		ok := m.bound && m.IsSerialized
		if ok {
			ref := c.At(int(m.TypeIndex))
			ok = ref != nil && ref.Type != nil && ref.Type == m.typ
		}
		m.loadable = m.loadable && ok
	}
}

// MemberSchema describes one serialized member of a struct type.
type MemberSchema struct {
	Name string
	Kind MemberKind
	// TypeIndex references the member type in the catalog, -1 for none.
	TypeIndex int16
	Owner     *TypeSchema
	// IsSerialized is false when the live member is tagged `datarepo:"-"`.
	IsSerialized bool

	loadable bool
	bound    bool
	typ      reflect.Type
	index    int // field index
	getter   int // method indexes on *Owner.Type
	setter   int
}

// IsLoadable reports whether stored values of the member can be assigned to
// the live member. Validate only ever turns it off.
func (m *MemberSchema) IsLoadable() bool {
	return m.loadable
}

// Type returns the live member type, nil when unbound.
func (m *MemberSchema) Type() reflect.Type {
	return m.typ
}

// Get returns the member value of the struct v. v must be addressable for
// properties.
func (m *MemberSchema) Get(v reflect.Value) reflect.Value {
	if m.Kind == FieldMember {
		return v.Field(m.index)
	}
	return v.Addr().Method(m.getter).Call(nil)[0]
}

// Set assigns x to the member of the addressable struct v.
func (m *MemberSchema) Set(v, x reflect.Value) {
	if m.Kind == FieldMember {
		v.Field(m.index).Set(x)
		return
	}
	v.Addr().Method(m.setter).Call([]reflect.Value{x})
}

func (m *MemberSchema) bindField() {
	t := m.Owner.Type
	if t == nil || t.Kind() != reflect.Struct {
		return
	}
	f, ok := t.FieldByName(m.Name)
	if !ok || len(f.Index) != 1 || !f.IsExported() {
		return
	}
	if skipTag(f.Tag) {
		m.IsSerialized = false
	}
	m.typ = f.Type
	m.index = f.Index[0]
	m.bound = true
}

func (m *MemberSchema) bindProperty() {
	t := m.Owner.Type
	if t == nil || t.Kind() != reflect.Struct {
		return
	}
	p, ok := lookupProperty(reflect.PointerTo(t), m.Name)
	if !ok {
		return
	}
	m.typ = p.typ
	m.getter = p.getter
	m.setter = p.setter
	m.bound = true
}

func flagsOf(t reflect.Type, res *Resolver) Flags {
	var f Flags
	if isPrimitiveKind(t.Kind()) {
		f |= FlagPrimitive
	}
	switch {
	case t.Name() == "":
		f |= FlagPublic
	case isExported(t.Name()):
		f |= FlagPublic
	default:
		f |= FlagPrivate
	}
	if encodable(t, map[reflect.Type]struct{}{}) {
		f |= FlagSerialized
	}
	if res != nil && res.HasConstructor(t) {
		f |= FlagHasConstructor
	}
	if t.Kind() == reflect.Interface {
		f |= FlagHasSubType
	}
	return f
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func isPrimitiveKind(k reflect.Kind) bool {
	switch k { //nolint:exhaustive // Everything else is not primitive.
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	}
	return false
}

func isCollectionKind(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Array || k == reflect.Map
}

// isCollectionIdentity tells collections apart without resolving the type.
func isCollectionIdentity(id string) bool {
	return strings.HasPrefix(id, "[") || strings.HasPrefix(id, "map[")
}
