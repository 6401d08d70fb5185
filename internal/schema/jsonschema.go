// Exports a catalog as a JSON Schema document for inspection tools.

package schema

import (
	"reflect"
	"strconv"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes the catalog as a JSON Schema document. Every struct
// schema becomes an entry of $defs; root selects the schema the document
// itself describes, -1 for none.
//
// Unresolved types are described by their identity only, since their member
// types cannot be known beyond what the table records.
func (c *Catalog) JSONSchema(root int) *jsonschema.Schema {
	doc := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Definitions: jsonschema.Definitions{},
	}
	defNames := c.defNames()
	for _, s := range c.schemas {
		name, ok := defNames[s.TypeIndex]
		if !ok {
			continue
		}
		def := &jsonschema.Schema{
			Type:       "object",
			Title:      s.Identity,
			Properties: jsonschema.NewProperties(),
		}
		for _, m := range s.Members() {
			ms := c.refTo(c.At(int(m.TypeIndex)), defNames)
			if !m.IsLoadable() {
				ms.Description = "not loadable"
			}
			def.Properties.Set(m.Name, ms)
		}
		doc.Definitions[name] = def
	}
	if rs := c.At(root); rs != nil {
		r := c.refTo(rs, defNames)
		doc.Ref = r.Ref
		doc.Type = r.Type
		doc.Items = r.Items
		doc.AdditionalProperties = r.AdditionalProperties
		doc.Format = r.Format
		doc.Title = rs.Identity
	}
	return doc
}

// defNames assigns unique $defs keys to the schemas that have members.
func (c *Catalog) defNames() map[int]string {
	out := map[int]string{}
	used := map[string]struct{}{}
	for _, s := range c.schemas {
		if !s.IsStruct() && len(s.Fields)+len(s.Properties) == 0 {
			continue
		}
		name := s.Name
		if _, dup := used[name]; dup {
			name += "_" + strconv.Itoa(s.TypeIndex)
		}
		used[name] = struct{}{}
		out[s.TypeIndex] = name
	}
	return out
}

func (c *Catalog) refTo(s *TypeSchema, defNames map[int]string) *jsonschema.Schema {
	if s == nil {
		return &jsonschema.Schema{}
	}
	if name, ok := defNames[s.TypeIndex]; ok {
		return &jsonschema.Schema{Ref: "#/$defs/" + name}
	}
	t := s.Type
	if t == nil {
		return &jsonschema.Schema{Description: s.Identity}
	}
	switch {
	case t == timeType:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case t == typeType:
		return &jsonschema.Schema{Type: "string", Description: "type identity"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return &jsonschema.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &jsonschema.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &jsonschema.Schema{Type: "number"}
	case reflect.String:
		return &jsonschema.Schema{Type: "string"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &jsonschema.Schema{Type: "string", ContentEncoding: "base64"}
		}
		return &jsonschema.Schema{Type: "array", Items: c.refTo(c.Lookup(t.Elem()), defNames)}
	case reflect.Map:
		return &jsonschema.Schema{Type: "object", AdditionalProperties: c.refTo(c.Lookup(t.Elem()), defNames)}
	case reflect.Pointer:
		return c.refTo(c.Lookup(t.Elem()), defNames)
	case reflect.Complex64, reflect.Complex128:
		return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "number"}}
	case reflect.Invalid, reflect.Chan, reflect.Func, reflect.Interface, reflect.Struct, reflect.UnsafePointer:
	}
	return &jsonschema.Schema{}
}
