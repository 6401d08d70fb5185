// Package datarepo stores whole object graphs as files under hashed paths.
//
// An entry is addressed by its type, a logical directory and a name:
//
//	{base}/{repo}/{type}/{hash(directory)}/{hash(name)}/data.bin
//
// Hashes are SHA-256 encoded with the base32 "Extended Hex" alphabet, which is
// ASCII sorted and safe on case-insensitive filesystems. The type component is
// the versionless type identity made filesystem safe.
//
// Repo is the untyped store, Instance binds it to one type and directory and
// View keeps an in-memory mirror of an Instance that every mutation writes
// through.
package datarepo

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/datarepo/internal/objfile"
	"github.com/maruel/datarepo/internal/schema"
)

const (
	// DefaultDirectory is the logical directory used when none is given.
	DefaultDirectory = ".Default"
	// DataFile is the name of the file holding an entry.
	DataFile = "data.bin"
)

// base32Enc uses base32 "Extended Hex" alphabet (0-9A-V) which is ASCII-sorted
// and case-insensitive safe for filesystems.
var base32Enc = base32.HexEncoding.WithPadding(base32.NoPadding)

// Journal records the mutations of a repository.
type Journal interface {
	Record(ctx context.Context, msg string) error
}

// Options configures a Repo.
type Options struct {
	// LoadWorkers bounds the entries decoded concurrently by LoadAll and
	// LoadHeaders. Defaults to GOMAXPROCS.
	LoadWorkers int
	// Journal, if set, is told about every successful mutation.
	Journal Journal
}

// Repo is a hashed-path key/value file store.
//
// Repo methods do no locking of their own beyond what the filesystem gives.
// Views of the same Repo serialize their mutations on a lock owned by the
// Repo.
type Repo struct {
	root    string
	res     *schema.Resolver
	workers int
	journal Journal

	// mu serializes view mutations and reloads.
	mu sync.Mutex
	// scans counts directory scans done by LoadAll.
	scans atomic.Int64
}

// New returns a Repo rooted at basePath/repoName, creating the directory.
func New(basePath, repoName string, res *schema.Resolver, opts *Options) (*Repo, error) {
	if repoName == "" || repoName != filepath.Base(repoName) || strings.HasPrefix(repoName, ".") {
		return nil, fmt.Errorf("invalid repository name %q", repoName)
	}
	r := &Repo{
		root:    filepath.Join(basePath, repoName),
		res:     res,
		workers: runtime.GOMAXPROCS(0),
	}
	if opts != nil {
		if opts.LoadWorkers > 0 {
			r.workers = opts.LoadWorkers
		}
		r.journal = opts.Journal
	}
	if err := os.MkdirAll(r.root, 0o755); err != nil { //nolint:gosec // G301: data directories are shared.
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	return r, nil
}

// Root returns the repository directory.
func (r *Repo) Root() string {
	return r.root
}

// Resolver returns the resolver used to encode and decode entries.
func (r *Repo) Resolver() *schema.Resolver {
	return r.res
}

// TypeDir returns the directory name used for values of type t.
func (r *Repo) TypeDir(t reflect.Type) (string, error) {
	id, err := r.res.Identity(t)
	if err != nil {
		return "", err
	}
	return sanitize(schema.StripVersion(id)), nil
}

// TypeDirs lists the type directories present in the repository.
func (r *Repo) TypeDirs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// CollectionPath returns the directory holding the entries of one logical
// directory.
func (r *Repo) CollectionPath(typeDir, directory string) string {
	if directory == "" {
		directory = DefaultDirectory
	}
	return filepath.Join(r.root, typeDir, hashName(directory))
}

// DirectoryPath returns the directory of one entry. It only depends on its
// arguments.
func (r *Repo) DirectoryPath(typeDir, directory, name string) string {
	return filepath.Join(r.CollectionPath(typeDir, directory), hashName(name))
}

func hashName(s string) string {
	h := sha256.Sum256([]byte(s))
	return base32Enc.EncodeToString(h[:])
}

// sanitize maps an identity to a single path component.
func sanitize(id string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			return c
		}
		return '_'
	}, id)
}

// Save writes v as the entry name of directory, replacing the previous
// content. The type directory is derived from the dynamic type of v. A
// pointer to a struct is stored as the struct, so that Load of the struct
// type finds it.
func (r *Repo) Save(ctx context.Context, directory, name string, v any) error {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct {
		v = rv.Elem().Interface()
	}
	typeDir, err := r.TypeDir(reflect.TypeOf(v))
	if err != nil {
		return err
	}
	return r.save(ctx, typeDir, directory, name, v)
}

func (r *Repo) save(ctx context.Context, typeDir, directory, name string, v any) error {
	path := filepath.Join(r.DirectoryPath(typeDir, directory, name), DataFile)
	err := writeAtomic(path, func(w io.Writer) error {
		return objfile.Encode(w, r.res, name, v)
	})
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", directory, name, err)
	}
	r.record(ctx, "save "+typeDir+" "+directory+"/"+name)
	return nil
}

// writeAtomic writes path through a temporary file renamed into place.
func writeAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directories are shared.
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := fn(f); err != nil {
		return errors.Join(err, f.Close(), os.Remove(f.Name()))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(f.Name()))
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename to final location: %w", err), os.Remove(f.Name()))
	}
	return nil
}

func (r *Repo) record(ctx context.Context, msg string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, msg); err != nil {
		slog.WarnContext(ctx, "journal", "msg", msg, "err", err)
	}
}

// Load reads the entry name of directory.
//
// A missing entry is not an error: Load returns the zero T, or a fresh T when
// createIfNeeded is set.
func Load[T any](ctx context.Context, r *Repo, directory, name string, createIfNeeded bool) (T, error) {
	typeDir, err := r.TypeDir(reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return load[T](ctx, r, typeDir, directory, name, createIfNeeded)
}

func load[T any](ctx context.Context, r *Repo, typeDir, directory, name string, createIfNeeded bool) (T, error) {
	path := filepath.Join(r.DirectoryPath(typeDir, directory, name), DataFile)
	v, _, err := decodeFile[T](ctx, r.res, path)
	if errors.Is(err, fs.ErrNotExist) {
		if createIfNeeded {
			return fresh[T](r.res), nil
		}
		return v, nil
	}
	return v, err
}

func decodeFile[T any](ctx context.Context, res *schema.Resolver, path string) (T, objfile.Header, error) {
	var v T
	f, err := os.Open(path) //nolint:gosec // G304: path is derived from hashed names.
	if err != nil {
		return v, objfile.Header{}, err
	}
	defer func() { _ = f.Close() }()
	h, err := objfile.Decode(ctx, f, res, &v)
	if err != nil {
		var zero T
		return zero, h, fmt.Errorf("%s: %w", path, err)
	}
	return v, h, nil
}

// fresh returns a new T, allocating the pointee when T is a pointer.
func fresh[T any](res *schema.Resolver) T {
	var p reflect.Value
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		p = res.New(t.Elem())
	} else {
		p = res.New(t).Elem()
	}
	x, _ := p.Interface().(T)
	return x
}

// LoadAll reads every entry of directory into a collection keyed by the name
// stored in each entry.
//
// Entries are decoded concurrently. An entry that fails to decode is logged
// and skipped; a missing directory reads as an empty collection.
func LoadAll[T any](ctx context.Context, r *Repo, directory string) (*Collection[T], error) {
	typeDir, err := r.TypeDir(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return loadAll[T](ctx, r, typeDir, directory)
}

type loaded[T any] struct {
	item *Item[T]
	hdr  objfile.Header
}

func loadAll[T any](ctx context.Context, r *Repo, typeDir, directory string) (*Collection[T], error) {
	r.scans.Add(1)
	paths, err := entryFiles(r.CollectionPath(typeDir, directory))
	if err != nil {
		return nil, err
	}
	results := make([]*loaded[T], len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)
	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, h, err := decodeFile[T](ctx, r.res, path)
			if err != nil {
				slog.WarnContext(ctx, "skipping entry", "path", path, "err", err)
				return nil
			}
			results[i] = &loaded[T]{item: &Item[T]{Key: h.Name, Value: v, Path: path}, hdr: h}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	results = slices.DeleteFunc(results, func(l *loaded[T]) bool { return l == nil })
	slices.SortStableFunc(results, func(a, b *loaded[T]) int {
		if c := a.hdr.SavedAt.Compare(b.hdr.SavedAt); c != 0 {
			return c
		}
		return strings.Compare(a.hdr.Name, b.hdr.Name)
	})
	c := NewCollection[T]()
	for _, l := range results {
		c.Add(l.item)
	}
	return c, nil
}

// Entry is the header of one stored entry.
type Entry struct {
	objfile.Header
	Path string
}

// LoadHeaders reads only the headers of the entries of directory.
func LoadHeaders[T any](ctx context.Context, r *Repo, directory string) ([]Entry, error) {
	typeDir, err := r.TypeDir(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return r.LoadHeadersDir(ctx, typeDir, directory)
}

// LoadHeadersDir is LoadHeaders for a type directory name, as listed by
// TypeDirs. Entries are sorted by name.
func (r *Repo) LoadHeadersDir(ctx context.Context, typeDir, directory string) ([]Entry, error) {
	paths, err := entryFiles(r.CollectionPath(typeDir, directory))
	if err != nil {
		return nil, err
	}
	results := make([]*Entry, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)
	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := readHeader(path)
			if err != nil {
				slog.WarnContext(ctx, "skipping entry", "path", path, "err", err)
				return nil
			}
			results[i] = &Entry{Header: h, Path: path}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func readHeader(path string) (objfile.Header, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is derived from hashed names.
	if err != nil {
		return objfile.Header{}, err
	}
	defer func() { _ = f.Close() }()
	return objfile.DecodeHeader(f)
}

// entryFiles lists the data files below a collection directory. A missing
// directory has no entries.
func entryFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(dir, e.Name(), DataFile))
		}
	}
	return out, nil
}
