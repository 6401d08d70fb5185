package datarepo

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Views opens and caches the views of a Repo, one per type and group.
type Views struct {
	repo  *Repo
	group singleflight.Group

	mu    sync.Mutex
	views map[string]any // key -> *View[T]
}

// NewViews returns an empty view cache for r.
func NewViews(r *Repo) *Views {
	return &Views{repo: r, views: map[string]any{}}
}

// Repo returns the underlying repository.
func (vs *Views) Repo() *Repo {
	return vs.repo
}

func (vs *Views) get(key string) (any, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[key]
	return v, ok
}

// OpenView returns the loaded view of the T values of groupID, the logical
// directory.
//
// Concurrent calls for the same type and group share a single load and
// return the same view. An empty groupID is DefaultDirectory.
func OpenView[T any](ctx context.Context, vs *Views, groupID string) (*View[T], error) {
	typeDir, err := vs.repo.TypeDir(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if groupID == "" {
		groupID = DefaultDirectory
	}
	key := typeDir + "\x00" + groupID
	if v, ok := vs.get(key); ok {
		return v.(*View[T]), nil
	}
	x, err, _ := vs.group.Do(key, func() (any, error) {
		if v, ok := vs.get(key); ok {
			return v, nil
		}
		inst := &Instance[T]{repo: vs.repo, typeDir: typeDir, directory: groupID}
		v := NewView(inst)
		// Shared by every waiter: not cancelled with the first caller.
		if err := v.Load(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("failed to load %s/%s: %w", typeDir, groupID, err)
		}
		vs.mu.Lock()
		vs.views[key] = v
		vs.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(*View[T]), nil
}
