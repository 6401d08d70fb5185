// Package objfile reads and writes serialized units: one object graph stored
// together with the schema table describing every type it contains.
//
// A file is laid out as:
//
//	"DRPO" magic, format version byte
//	header: string name, int64 saved-at unix nanoseconds, string root identity
//	schema table (see schema.Catalog.Encode)
//	int16 root type index, uvarint length, root value
//	object region
//
// Every distinct pointer to a struct is an object. Objects are stored once in
// the object region, grouped by type at the offsets recorded in the schema
// table, and referenced everywhere else by index. On read all objects are
// allocated before any is filled, so shared references and cycles survive a
// round trip.
package objfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/maruel/datarepo/internal/schema"
	"github.com/maruel/datarepo/internal/wire"
)

// Magic starts every object file.
const Magic = "DRPO"

// FormatVersion is the object file format version.
const FormatVersion byte = 1

var (
	// ErrBadMagic is returned when the input is not an object file.
	ErrBadMagic = errors.New("not an object file")
	// ErrUnsupportedFormat is returned for an unknown format version.
	ErrUnsupportedFormat = errors.New("unsupported object file format")
	// ErrCorrupt is returned when the encoded values are inconsistent.
	ErrCorrupt = errors.New("corrupt object file")
	// ErrRootNotLoadable is returned when the root type cannot be resolved or
	// is rejected by the whitelist.
	ErrRootNotLoadable = errors.New("root type not loadable")
	// ErrTypeMismatch is returned when the stored root cannot be assigned to
	// the destination.
	ErrTypeMismatch = errors.New("root type mismatch")

	errInvalidValue = errors.New("invalid value")
)

// Header is the lightweight prefix of an object file, readable without
// decoding the graph.
type Header struct {
	Name         string
	SavedAt      time.Time
	RootIdentity string
}

// Encode writes v and every value it references to w.
//
// The types reachable from v must have an identity; see schema.Resolver.
func Encode(w io.Writer, res *schema.Resolver, name string, v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return fmt.Errorf("%w: nil", errInvalidValue)
	}
	e := newEncoder(schema.NewCatalog(res))
	root, err := e.cat.Add(rv.Type())
	if err != nil {
		return err
	}
	rootData, err := e.value(nil, rv)
	if err != nil {
		return err
	}
	if err := e.drain(); err != nil {
		return err
	}
	e.layout()

	bw := bufio.NewWriter(w)
	ww := wire.NewWriter(bw)
	ww.Raw([]byte(Magic))
	ww.Byte(FormatVersion)
	ww.String(name)
	ww.Int64(time.Now().UnixNano())
	ww.String(root.Identity)
	if err := e.cat.Encode(ww); err != nil {
		return err
	}
	ww.Int16(int16(root.TypeIndex))
	ww.Bytes(rootData)
	for _, s := range e.cat.Schemas() {
		ww.Raw(e.bodies[s.TypeIndex])
	}
	if err := ww.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeHeader reads only the header of an object file.
func DecodeHeader(r io.Reader) (Header, error) {
	return readHeader(wire.NewReader(r))
}

// Inspect reads the header and the schema table, leaving the values alone.
func Inspect(ctx context.Context, r io.Reader, res *schema.Resolver) (Header, *schema.Catalog, error) {
	wr := wire.NewReader(r)
	h, err := readHeader(wr)
	if err != nil {
		return h, nil, err
	}
	cat, err := schema.DecodeCatalog(ctx, wr, res)
	return h, cat, err
}

// Decode reads an object file into dst, which must be a non-nil pointer to
// the root type or to an interface the root type implements.
//
// Members whose type changed since the file was written are skipped, and
// references to values whose type cannot be resolved or is not allowed are
// left nil. The root itself must be loadable.
func Decode(ctx context.Context, r io.Reader, res *schema.Resolver, dst any) (Header, error) {
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return Header{}, fmt.Errorf("%w: destination must be a non-nil pointer, got %T", errInvalidValue, dst)
	}
	target = target.Elem()
	wr := wire.NewReader(r)
	h, err := readHeader(wr)
	if err != nil {
		return h, err
	}
	cat, err := schema.DecodeCatalog(ctx, wr, res)
	if err != nil {
		return h, err
	}
	rootIndex := wr.Int16()
	rest := wr.Rest()
	if err := wr.Err(); err != nil {
		return h, err
	}
	root := cat.At(int(rootIndex))
	if root == nil {
		return h, fmt.Errorf("%w: root type index %d", ErrCorrupt, rootIndex)
	}
	if root.Type == nil {
		return h, fmt.Errorf("%w: %s: %w", ErrRootNotLoadable, root.Identity, root.Problem)
	}
	direct := root.Type == target.Type()
	if !direct && (target.Kind() != reflect.Interface || !root.Type.AssignableTo(target.Type())) {
		return h, fmt.Errorf("%w: stored %s, destination %s", ErrTypeMismatch, root.Type, target.Type())
	}

	c := cursor{b: rest}
	rootData := c.bytes()
	if c.err != nil {
		return h, c.err
	}
	d := &decoder{ctx: ctx, cat: cat}
	if err := d.objects(c.b); err != nil {
		return h, err
	}
	rc := cursor{b: rootData}
	if direct {
		return h, d.value(&rc, target)
	}
	x := reflect.New(root.Type).Elem()
	if err := d.value(&rc, x); err != nil {
		return h, err
	}
	target.Set(x)
	return h, nil
}

func readHeader(r *wire.Reader) (Header, error) {
	var magic [len(Magic)]byte
	for i := range magic {
		magic[i] = r.Byte()
	}
	version := r.Byte()
	if err := r.Err(); err != nil {
		return Header{}, err
	}
	if string(magic[:]) != Magic {
		return Header{}, ErrBadMagic
	}
	if version != FormatVersion {
		return Header{}, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, version)
	}
	h := Header{Name: r.String()}
	h.SavedAt = time.Unix(0, r.Int64()).UTC()
	h.RootIdentity = r.String()
	if err := r.Err(); err != nil {
		return Header{}, err
	}
	return h, nil
}
