package datarepo

import (
	"context"
	"path/filepath"
	"reflect"
)

// Instance is a typed facade over one logical directory of a Repo.
type Instance[T any] struct {
	repo      *Repo
	typeDir   string
	directory string
}

// NewInstance binds r to the values of type T stored in directory.
func NewInstance[T any](r *Repo, directory string) (*Instance[T], error) {
	typeDir, err := r.TypeDir(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if directory == "" {
		directory = DefaultDirectory
	}
	return &Instance[T]{repo: r, typeDir: typeDir, directory: directory}, nil
}

// Repo returns the underlying repository.
func (i *Instance[T]) Repo() *Repo {
	return i.repo
}

// Directory returns the logical directory.
func (i *Instance[T]) Directory() string {
	return i.directory
}

// Dir returns the filesystem directory holding the entries.
func (i *Instance[T]) Dir() string {
	return i.repo.CollectionPath(i.typeDir, i.directory)
}

// Path returns the data file of the entry name.
func (i *Instance[T]) Path(name string) string {
	return filepath.Join(i.repo.DirectoryPath(i.typeDir, i.directory, name), DataFile)
}

// Save writes v as the entry name.
func (i *Instance[T]) Save(ctx context.Context, name string, v T) error {
	return i.repo.save(ctx, i.typeDir, i.directory, name, v)
}

// Load reads the entry name. See [Load].
func (i *Instance[T]) Load(ctx context.Context, name string, createIfNeeded bool) (T, error) {
	return load[T](ctx, i.repo, i.typeDir, i.directory, name, createIfNeeded)
}

// LoadAll reads every entry. See [LoadAll].
func (i *Instance[T]) LoadAll(ctx context.Context) (*Collection[T], error) {
	return loadAll[T](ctx, i.repo, i.typeDir, i.directory)
}

// LoadHeaders reads only the headers of every entry.
func (i *Instance[T]) LoadHeaders(ctx context.Context) ([]Entry, error) {
	return i.repo.LoadHeadersDir(ctx, i.typeDir, i.directory)
}

// Delete removes the entry name.
func (i *Instance[T]) Delete(ctx context.Context, name string) DeleteReport {
	return i.repo.Delete(ctx, i.typeDir, i.directory, name)
}

// DeleteAll removes every entry.
func (i *Instance[T]) DeleteAll(ctx context.Context) DeleteReport {
	return i.repo.DeleteAll(ctx, i.typeDir, i.directory)
}
