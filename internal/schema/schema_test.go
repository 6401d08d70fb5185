package schema

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/datarepo/internal/wire"
)

type captured struct {
	A int
	b int
	C string `datarepo:"-"`
	D chan int
	E func()
	F struct{ X int }
	G []string
	n int
}

func (c *captured) N() int              { return c.n }
func (c *captured) SetN(v int)          { c.n = v }
func (c *captured) ReadOnly() int       { return c.b }
func (c *captured) SetWriteOnly(string) {}
func (c *captured) At(i int) int        { return i }
func (c *captured) SetAt(_, _ int)      {}
func (c *captured) PublicData()         {}

type node struct {
	Name     string
	Next     *node
	Children []*node
	Tags     map[string]struct{}
	When     time.Time
	Any      any
}

func (node) PublicData() {}

type docV1 struct {
	X int
	Y string
}

func (docV1) PublicData() {}

type docV2 struct {
	X string
	Y string
	Z float64
}

func (docV2) PublicData() {}

type undecorated struct{ A int }

type shape struct {
	Kind   string
	Points [][2]float64
}

func (*shape) PublicData() {}

type summary struct {
	Count int
	Top   *shape
}

func (summary) PublicData() {}

func memberNames(ms []*MemberSchema) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

type memberView struct {
	Name      string
	TypeIndex int16
}

type schemaView struct {
	Name       string
	Identity   string
	HasSubType bool
	Fields     []memberView
	Properties []memberView
}

func viewOf(c *Catalog) []schemaView {
	var out []schemaView
	for _, s := range c.Schemas() {
		v := schemaView{Name: s.Name, Identity: s.Identity, HasSubType: s.Flags.Has(FlagHasSubType)}
		for _, m := range s.Fields {
			v.Fields = append(v.Fields, memberView{m.Name, m.TypeIndex})
		}
		for _, m := range s.Properties {
			v.Properties = append(v.Properties, memberView{m.Name, m.TypeIndex})
		}
		out = append(out, v)
	}
	return out
}

func encodeCatalog(t *testing.T, c *Catalog) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Encode(wire.NewWriter(&buf)); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestCapture(t *testing.T) {
	t.Run("members", func(t *testing.T) {
		c := NewCatalog(NewResolver())
		s, err := c.Add(reflect.TypeFor[captured]())
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"A", "G"}, memberNames(s.Fields)); diff != "" {
			t.Errorf("fields (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"N"}, memberNames(s.Properties)); diff != "" {
			t.Errorf("properties (-want +got):\n%s", diff)
		}
		if s.TypeIndex != 0 {
			t.Errorf("TypeIndex = %d, want 0", s.TypeIndex)
		}
		g := s.Member("G")
		if ref := c.At(int(g.TypeIndex)); ref == nil || ref.Identity != "[]string" || !ref.IsCollection {
			t.Errorf("G references %v", ref)
		}
		for _, m := range s.Members() {
			if !m.IsLoadable() || !m.IsSerialized {
				t.Errorf("%s: loadable=%t serialized=%t", m.Name, m.IsLoadable(), m.IsSerialized)
			}
		}
	})

	t.Run("flags", func(t *testing.T) {
		res := NewResolver()
		if err := Register[node](res, Constructor(func() any { return &node{Name: "new"} })); err != nil {
			t.Fatal(err)
		}
		c := NewCatalog(res)
		tests := []struct {
			name string
			typ  reflect.Type
			set  Flags
			uset Flags
		}{
			{"int", reflect.TypeFor[int](), FlagPrimitive | FlagPublic | FlagSerialized, FlagPrivate | FlagHasSubType},
			{"any", reflect.TypeFor[any](), FlagPublic | FlagHasSubType, FlagPrimitive},
			{"private", reflect.TypeFor[node](), FlagPrivate | FlagHasConstructor | FlagSerialized, FlagPublic | FlagStatic},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s, err := c.Add(tt.typ)
				if err != nil {
					t.Fatal(err)
				}
				if !s.Flags.Has(tt.set) {
					t.Errorf("Flags = %b, want %b set", s.Flags, tt.set)
				}
				if s.Flags&tt.uset != 0 {
					t.Errorf("Flags = %b, want %b unset", s.Flags, tt.uset)
				}
			})
		}
	})

	t.Run("recursive", func(t *testing.T) {
		c := NewCatalog(NewResolver())
		s, err := c.Add(reflect.TypeFor[node]())
		if err != nil {
			t.Fatal(err)
		}
		next := c.At(int(s.Member("Next").TypeIndex))
		if next.Identity != "*"+s.Identity {
			t.Errorf("Next identity = %q", next.Identity)
		}
		if c.Lookup(reflect.TypeFor[node]()) != s {
			t.Error("Lookup did not return the captured schema")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		c := NewCatalog(NewResolver())
		for _, typ := range []reflect.Type{
			reflect.TypeFor[chan int](),
			reflect.TypeFor[struct{ A int }](),
			reflect.TypeFor[func()](),
		} {
			if _, err := c.Add(typ); !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("Add(%s) error = %v, want ErrUnsupportedType", typ, err)
			}
		}
	})
}

func TestCatalogRoundTrip(t *testing.T) {
	ctx := t.Context()
	res := NewResolver()
	for _, typ := range []reflect.Type{reflect.TypeFor[captured](), reflect.TypeFor[node](), reflect.TypeFor[summary](), reflect.TypeFor[shape]()} {
		if err := res.Register(typ, Version("v1.2.3")); err != nil {
			t.Fatal(err)
		}
	}
	c := NewCatalog(res)
	for _, typ := range []reflect.Type{reflect.TypeFor[captured](), reflect.TypeFor[node](), reflect.TypeFor[map[string][]*summary]()} {
		if _, err := c.Add(typ); err != nil {
			t.Fatal(err)
		}
	}
	// Object table addressing survives the round trip too.
	c.At(1).NumObjects = 3
	c.At(1).FileDataOffset = 42
	c.At(1).DataSize = 7

	got, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(encodeCatalog(t, c))), res)
	if err != nil {
		t.Fatalf("DecodeCatalog() error = %v", err)
	}
	if diff := cmp.Diff(viewOf(c), viewOf(got)); diff != "" {
		t.Errorf("catalog (-want +got):\n%s", diff)
	}
	if s := got.At(1); s.NumObjects != 3 || s.FileDataOffset != 42 || s.DataSize != 7 {
		t.Errorf("addressing = %d/%d/%d", s.NumObjects, s.FileDataOffset, s.DataSize)
	}
	for _, s := range got.Schemas() {
		if s.Type == nil {
			t.Errorf("%s not resolved: %v", s.Identity, s.Problem)
			continue
		}
		want := c.At(s.TypeIndex).Type
		if s.Type != want {
			t.Errorf("%s resolved to %s, want %s", s.Identity, s.Type, want)
		}
		for _, m := range s.Members() {
			if !m.IsLoadable() {
				t.Errorf("%s.%s not loadable", s.Name, m.Name)
			}
		}
	}
}

func TestCatalogDecodeErrors(t *testing.T) {
	ctx := t.Context()
	res := NewResolver()
	c := NewCatalog(res)
	if _, err := c.Add(reflect.TypeFor[docV1]()); err != nil {
		t.Fatal(err)
	}
	data := encodeCatalog(t, c)

	t.Run("version", func(t *testing.T) {
		bad := append([]byte{9}, data[1:]...)
		if _, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(bad)), res); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("error = %v, want ErrUnsupportedFormat", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(data[:len(data)-3])), res); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("unresolved is not fatal", func(t *testing.T) {
		got, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(data)), NewResolver())
		if err != nil {
			t.Fatal(err)
		}
		s := got.At(0)
		if s.Type != nil || !errors.Is(s.Problem, ErrUnresolvedType) {
			t.Errorf("Type = %v, Problem = %v", s.Type, s.Problem)
		}
		for _, m := range s.Members() {
			if m.IsLoadable() {
				t.Errorf("%s loadable on an unresolved type", m.Name)
			}
		}
		if got.At(1).Type != reflect.TypeFor[int]() {
			t.Errorf("int schema not resolved: %v", got.At(1).Problem)
		}
	})
}

func TestValidateDrift(t *testing.T) {
	ctx := t.Context()
	writer := NewResolver()
	if err := Register[docV1](writer, Name("example.com/doc.Doc"), Version("v1.0.0")); err != nil {
		t.Fatal(err)
	}
	c := NewCatalog(writer)
	if _, err := c.Add(reflect.TypeFor[docV1]()); err != nil {
		t.Fatal(err)
	}
	data := encodeCatalog(t, c)

	reader := NewResolver()
	if err := Register[docV2](reader, Name("example.com/doc.Doc"), Version("v1.1.0")); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(data)), reader)
	if err != nil {
		t.Fatal(err)
	}
	s := got.At(0)
	if s.Type != reflect.TypeFor[docV2]() {
		t.Fatalf("resolved %v, want docV2 via version fallback", s.Type)
	}
	if s.Member("X").IsLoadable() {
		t.Error("X changed from int to string and must not be loadable")
	}
	if !s.Member("Y").IsLoadable() {
		t.Error("Y kept its type and must stay loadable")
	}
	if s.Member("Z") != nil {
		t.Error("Z was not stored")
	}

	// A second pass never upgrades a member.
	s.Member("X").typ = reflect.TypeFor[int]()
	got.Validate()
	if s.Member("X").IsLoadable() {
		t.Error("Validate upgraded X")
	}
}

type level int

type labels map[string][]level

func TestAllowed(t *testing.T) {
	tests := []struct {
		name string
		t    reflect.Type
		want bool
	}{
		{"bool", reflect.TypeFor[bool](), true},
		{"int64", reflect.TypeFor[int64](), true},
		{"float64", reflect.TypeFor[float64](), true},
		{"string", reflect.TypeFor[string](), true},
		{"named int", reflect.TypeFor[level](), true},
		{"any", reflect.TypeFor[any](), true},
		{"error", reflect.TypeFor[error](), true},
		{"time", reflect.TypeFor[time.Time](), true},
		{"duration", reflect.TypeFor[time.Duration](), true},
		{"reflect type", reflect.TypeFor[reflect.Type](), true},
		{"empty struct", reflect.TypeFor[struct{}](), true},
		{"slice", reflect.TypeFor[[]string](), true},
		{"array", reflect.TypeFor[[3]level](), true},
		{"map", reflect.TypeFor[map[string]int](), true},
		{"set", reflect.TypeFor[map[level]struct{}](), true},
		{"named map", reflect.TypeFor[labels](), true},
		{"public data", reflect.TypeFor[docV1](), true},
		{"pointer to public data", reflect.TypeFor[*node](), true},
		{"pointer receiver marker", reflect.TypeFor[shape](), true},
		{"undecorated", reflect.TypeFor[undecorated](), false},
		{"pointer to undecorated", reflect.TypeFor[*undecorated](), false},
		{"map of undecorated", reflect.TypeFor[map[string]undecorated](), false},
		{"slice of undecorated", reflect.TypeFor[[]undecorated](), false},
		{"anonymous struct", reflect.TypeFor[struct{ A int }](), false},
		{"chan", reflect.TypeFor[chan int](), false},
		{"func", reflect.TypeFor[func()](), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.t); got != tt.want {
				t.Errorf("Allowed(%v) = %t, want %t", tt.t, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Run("exact before versionless", func(t *testing.T) {
		res := NewResolver()
		if err := Register[docV1](res, Name("example.com/doc.Doc"), Version("v1.0.0")); err != nil {
			t.Fatal(err)
		}
		if err := Register[docV2](res, Name("example.com/doc.Doc"), Version("v2.0.0")); err != nil {
			t.Fatal(err)
		}
		tests := []struct {
			id   string
			want reflect.Type
		}{
			{"example.com/doc.Doc@v1.0.0", reflect.TypeFor[docV1]()},
			{"example.com/doc.Doc@v2.0.0", reflect.TypeFor[docV2]()},
			{"example.com/doc.Doc@v1.5.0", reflect.TypeFor[docV2]()},
			{"example.com/doc.Doc", reflect.TypeFor[docV2]()},
		}
		for _, tt := range tests {
			got, err := res.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve(%q) = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.id, got, tt.want)
			}
		}
	})
	t.Run("misses are cached until Register", func(t *testing.T) {
		res := NewResolver()
		const id = "example.com/late.Late@v1.0.0"
		for range 2 {
			if _, err := res.Resolve(id); !errors.Is(err, ErrUnresolvedType) {
				t.Fatalf("Resolve() = %v, want ErrUnresolvedType", err)
			}
		}
		if cached, ok := res.cache[id]; !ok || cached != nil {
			t.Fatalf("cache[%q] = %v, %t, want a cached miss", id, cached, ok)
		}
		if err := Register[docV1](res, Name("example.com/late.Late"), Version("v1.0.0")); err != nil {
			t.Fatal(err)
		}
		if len(res.cache) != 0 {
			t.Errorf("Register kept %d cache entries", len(res.cache))
		}
		got, err := res.Resolve(id)
		if err != nil {
			t.Fatal(err)
		}
		if got != reflect.TypeFor[docV1]() {
			t.Errorf("Resolve() = %v", got)
		}
		if cached := res.cache[id]; cached != got {
			t.Errorf("cache[%q] = %v, want the hit", id, cached)
		}
	})
}

func TestWhitelistRejection(t *testing.T) {
	ctx := t.Context()
	res := NewResolver()
	if err := Register[undecorated](res); err != nil {
		t.Fatal(err)
	}
	c := NewCatalog(res)
	if _, err := c.Add(reflect.TypeFor[undecorated]()); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeCatalog(ctx, wire.NewReader(bytes.NewReader(encodeCatalog(t, c))), res)
	if err != nil {
		t.Fatal(err)
	}
	if s := got.At(0); s.Type != nil || !errors.Is(s.Problem, ErrTypeNotAllowed) {
		t.Errorf("Type = %v, Problem = %v, want rejection", s.Type, s.Problem)
	}
}

func TestJSONSchema(t *testing.T) {
	c := NewCatalog(NewResolver())
	s, err := c.Add(reflect.TypeFor[summary]())
	if err != nil {
		t.Fatal(err)
	}
	doc := c.JSONSchema(s.TypeIndex)
	if doc.Ref != "#/$defs/summary" {
		t.Errorf("Ref = %q", doc.Ref)
	}
	def, ok := doc.Definitions["shape"]
	if !ok {
		t.Fatalf("missing shape definition in %v", doc.Definitions)
	}
	points, ok := def.Properties.Get("Points")
	if !ok || points.Type != "array" || points.Items == nil || points.Items.Type != "array" {
		t.Errorf("Points = %+v", points)
	}
	count, _ := doc.Definitions["summary"].Properties.Get("Count")
	if count == nil || count.Type != "integer" {
		t.Errorf("Count = %+v", count)
	}
	top, _ := doc.Definitions["summary"].Properties.Get("Top")
	if top == nil || top.Ref != "#/$defs/shape" {
		t.Errorf("Top = %+v", top)
	}
}
