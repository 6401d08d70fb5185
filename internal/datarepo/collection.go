package datarepo

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
)

// Item is one loaded entry.
type Item[T any] struct {
	Key   string
	Value T
	// Path is the file the item was loaded from or saved to, if any.
	Path string

	once sync.Once
	info os.FileInfo
}

// FileInfo returns the stat of Path, computed on first use. It is nil when
// the item has no path or the file is gone.
func (it *Item[T]) FileInfo() os.FileInfo {
	it.once.Do(func() {
		if it.Path == "" {
			return
		}
		if fi, err := os.Stat(it.Path); err == nil {
			it.info = fi
		}
	})
	return it.info
}

// ModifiedUTC returns the modification time of Path, zero when unknown.
func (it *Item[T]) ModifiedUTC() time.Time {
	if fi := it.FileInfo(); fi != nil {
		return fi.ModTime().UTC()
	}
	return time.Time{}
}

// Collection is an ordered sequence of items with a key-sorted index.
//
// Every item in the sequence has exactly one index entry and the other way
// around. Only Add, Remove and Clear change membership. A Collection is safe
// for concurrent use.
type Collection[T any] struct {
	mu    sync.RWMutex
	items []*Item[T]
	index *treemap.Map // string -> *Item[T]
}

// NewCollection returns an empty collection.
func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{index: treemap.NewWithStringComparator()}
}

// Add appends it, or replaces in place the item with the same key.
func (c *Collection[T]) Add(it *Item[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(it)
}

func (c *Collection[T]) add(it *Item[T]) {
	if old, ok := c.index.Get(it.Key); ok {
		if i := slices.Index(c.items, old.(*Item[T])); i >= 0 {
			c.items[i] = it
		}
	} else {
		c.items = append(c.items, it)
	}
	c.index.Put(it.Key, it)
}

// Remove deletes the item with key and reports whether there was one.
func (c *Collection[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.index.Get(key)
	if !ok {
		return false
	}
	c.index.Remove(key)
	c.items = slices.DeleteFunc(c.items, func(it *Item[T]) bool { return it == old.(*Item[T]) })
	return true
}

// Clear removes every item.
func (c *Collection[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.index.Clear()
}

// reset replaces the content with items.
func (c *Collection[T]) reset(items []*Item[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.index.Clear()
	for _, it := range items {
		c.add(it)
	}
}

// Get returns the item with key.
func (c *Collection[T]) Get(key string) (*Item[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.index.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Item[T]), true
}

// At returns the item at position i of the sequence.
func (c *Collection[T]) At(i int) *Item[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[i]
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// IndexLen returns the number of index entries. It always equals Len.
func (c *Collection[T]) IndexLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Size()
}

// All returns a copy of the sequence.
func (c *Collection[T]) All() []*Item[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Keys returns the keys in sorted order.
func (c *Collection[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.index.Size())
	for _, k := range c.index.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// SortFunc reorders the sequence. The index is unaffected.
func (c *Collection[T]) SortFunc(cmp func(a, b *Item[T]) int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slices.SortStableFunc(c.items, cmp)
}
