package datarepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/maruel/ksid"
)

// View is an always-loaded, write-through mirror of an Instance.
//
// Save and Delete update the disk and the mirror while holding the lock of
// the owning Repo, so views of one Repo never interleave their writes. A
// view is expected to be the only runtime owner of its collection: changes
// made through the Repo directly are only seen after Reload, or by Watch.
type View[T any] struct {
	inst   *Instance[T]
	items  *Collection[T]
	loaded bool // guarded by inst.repo.mu
}

// NewView returns an unloaded view of inst.
func NewView[T any](inst *Instance[T]) *View[T] {
	return &View[T]{inst: inst, items: NewCollection[T]()}
}

// Instance returns the viewed instance.
func (v *View[T]) Instance() *Instance[T] {
	return v.inst
}

// Items returns the mirror. The returned collection stays current across
// reloads.
func (v *View[T]) Items() *Collection[T] {
	return v.items
}

// Loaded reports whether the mirror was loaded.
func (v *View[T]) Loaded() bool {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	return v.loaded
}

// Load fills the mirror from disk if it was not yet.
func (v *View[T]) Load(ctx context.Context) error {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	return v.ensureLoaded(ctx)
}

// Reload replaces the mirror with what is on disk.
func (v *View[T]) Reload(ctx context.Context) error {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	v.loaded = false
	return v.ensureLoaded(ctx)
}

func (v *View[T]) ensureLoaded(ctx context.Context) error {
	if v.loaded {
		return nil
	}
	c, err := v.inst.LoadAll(ctx)
	if err != nil {
		return err
	}
	v.items.reset(c.All())
	v.loaded = true
	return nil
}

// Save stores item under key, on disk then in the mirror. A previous entry
// for key is deleted first, with everything stored next to it.
func (v *View[T]) Save(ctx context.Context, key string, item T) error {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	if err := v.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := v.inst.Delete(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	if err := v.inst.Save(ctx, key, item); err != nil {
		v.items.Remove(key)
		return err
	}
	v.items.Add(&Item[T]{Key: key, Value: item, Path: v.inst.Path(key)})
	return nil
}

// Add stores item under a new unique key and returns the key.
func (v *View[T]) Add(ctx context.Context, item T) (string, error) {
	key := ksid.NewID().String()
	return key, v.Save(ctx, key, item)
}

// Delete removes key from disk then from the mirror. The mirror keeps the
// item when the disk entry could not be removed.
func (v *View[T]) Delete(ctx context.Context, key string) error {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	if err := v.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := v.inst.Delete(ctx, key).Err(); err != nil {
		return err
	}
	v.items.Remove(key)
	return nil
}

// DeleteAll removes every entry from disk and clears the mirror.
func (v *View[T]) DeleteAll(ctx context.Context) error {
	v.inst.repo.mu.Lock()
	defer v.inst.repo.mu.Unlock()
	err := v.inst.DeleteAll(ctx).Err()
	v.items.Clear()
	v.loaded = true
	if err != nil {
		// Some entries survived; mirror what is left.
		v.loaded = false
		return errors.Join(err, v.ensureLoaded(ctx))
	}
	return nil
}

// SortBy orders the mirror by cmp. Nothing is written.
func (v *View[T]) SortBy(cmp func(a, b *Item[T]) int) {
	v.items.SortFunc(cmp)
}

// SortByDescending orders the mirror by cmp, reversed. Nothing is written.
func (v *View[T]) SortByDescending(cmp func(a, b *Item[T]) int) {
	v.items.SortFunc(func(a, b *Item[T]) int { return cmp(b, a) })
}
