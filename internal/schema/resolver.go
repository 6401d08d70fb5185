// Maps identity strings to live types with a lock-guarded cache.

package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnresolvedType is returned when an identity matches no registered type.
	ErrUnresolvedType = errors.New("type not resolved")
	// ErrUnsupportedType is returned for types that have no identity (anonymous
	// structs, generic types, channels, functions).
	ErrUnsupportedType = errors.New("type not supported")
	// ErrTypeNotAllowed is returned when a resolved type fails the whitelist.
	ErrTypeNotAllowed = errors.New("type not allowed")

	errInvalidName = errors.New("invalid registration name")
)

// Option configures a type registration.
type Option func(*registration)

type registration struct {
	name    string
	version string
	ctor    func() any
}

// Name overrides the identity name ("pkgpath.Name") of a registered type.
//
// Use it to keep reading files after a type moved or was renamed.
func Name(name string) Option {
	return func(r *registration) { r.name = name }
}

// Version sets the version recorded in the identity of a registered type,
// instead of the module version from the build information.
func Version(version string) Option {
	return func(r *registration) { r.version = version }
}

// Constructor sets the function used to create fresh values of the type. fn
// must return a T or a *T.
func Constructor(fn func() any) Option {
	return func(r *registration) { r.ctor = fn }
}

// Resolver maps identities to types.
//
// A Resolver is safe for concurrent use. Each Resolver owns its registry and
// cache; tests use a fresh one to stay isolated.
type Resolver struct {
	mu    sync.Mutex
	names map[reflect.Type]string // type -> registered identity
	exact map[string]reflect.Type // identity -> type
	loose map[string]reflect.Type // identity without version -> type
	ctors map[reflect.Type]func() any
	cache map[string]reflect.Type // raw identity -> type, nil when unresolved
}

// NewResolver returns a Resolver with the predeclared types, time.Time,
// time.Duration and reflect.Type registered.
func NewResolver() *Resolver {
	r := &Resolver{
		names: map[reflect.Type]string{},
		exact: map[string]reflect.Type{},
		loose: map[string]reflect.Type{},
		ctors: map[reflect.Type]func() any{},
		cache: map[string]reflect.Type{},
	}
	for _, t := range builtinTypes {
		r.add(t, t.String(), "", nil)
	}
	r.add(reflect.TypeFor[struct{}](), emptyStructName, "", nil)
	r.add(reflect.TypeFor[any](), emptyInterfaceName, "", nil)
	return r
}

var builtinTypes = []reflect.Type{
	reflect.TypeFor[bool](),
	reflect.TypeFor[int](),
	reflect.TypeFor[int8](),
	reflect.TypeFor[int16](),
	reflect.TypeFor[int32](),
	reflect.TypeFor[int64](),
	reflect.TypeFor[uint](),
	reflect.TypeFor[uint8](),
	reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](),
	reflect.TypeFor[uint64](),
	reflect.TypeFor[uintptr](),
	reflect.TypeFor[float32](),
	reflect.TypeFor[float64](),
	reflect.TypeFor[complex64](),
	reflect.TypeFor[complex128](),
	reflect.TypeFor[string](),
	reflect.TypeFor[error](),
	reflect.TypeFor[time.Time](),
	reflect.TypeFor[time.Duration](),
	reflect.TypeFor[reflect.Type](),
}

// Register makes t resolvable.
//
// The identity is "pkgpath.Name@version" unless overridden with [Name] or
// [Version]. Registering invalidates the resolution cache.
func (r *Resolver) Register(t reflect.Type, opts ...Option) error {
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}
	name := reg.name
	version := reg.version
	if name == "" {
		if t.Name() == "" || t.PkgPath() == "" || strings.ContainsRune(t.Name(), '[') {
			return fmt.Errorf("%w: %s needs an explicit name", ErrUnsupportedType, t)
		}
		name = t.PkgPath() + "." + t.Name()
		if version == "" {
			version = moduleVersion(t.PkgPath())
		}
	}
	if strings.ContainsAny(name, "@]*") || strings.HasPrefix(name, "[") || strings.HasPrefix(name, "map[") {
		return fmt.Errorf("%w: %q", errInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(t, name, version, reg.ctor)
	clear(r.cache)
	return nil
}

// Register makes T resolvable on r. See [Resolver.Register].
func Register[T any](r *Resolver, opts ...Option) error {
	return r.Register(reflect.TypeFor[T](), opts...)
}

func (r *Resolver) add(t reflect.Type, name, version string, ctor func() any) {
	id := name
	if version != "" {
		id += "@" + version
	}
	r.names[t] = id
	r.exact[id] = t
	r.loose[name] = t
	if ctor != nil {
		r.ctors[t] = ctor
	}
}

// Identity returns the identity string of t.
func (r *Resolver) Identity(t reflect.Type) (string, error) {
	return identityOf(t, r.registeredName)
}

func (r *Resolver) registeredName(t reflect.Type) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[t]
	return id, ok
}

// Resolve returns the type named by id.
//
// The exact identity is tried first, then the identity with every version
// component stripped. Both hits and misses are cached.
func (r *Resolver) Resolve(id string) (reflect.Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.cache[id]
	if !ok {
		var err error
		t, err = parseIdentity(id, r.lookupExact)
		if err != nil {
			t, err = parseIdentity(id, r.lookupLoose)
		}
		if err != nil {
			t = nil
		}
		r.cache[id] = t
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedType, id)
	}
	return t, nil
}

func (r *Resolver) lookupExact(name string) (reflect.Type, bool) {
	t, ok := r.exact[name]
	return t, ok
}

func (r *Resolver) lookupLoose(name string) (reflect.Type, bool) {
	t, ok := r.loose[StripVersion(name)]
	return t, ok
}

// HasConstructor reports whether a constructor was registered for t.
func (r *Resolver) HasConstructor(t reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ctors[t]
	return ok
}

// New returns a pointer to a fresh value of t, built by the registered
// constructor if there is one.
func (r *Resolver) New(t reflect.Type) reflect.Value {
	r.mu.Lock()
	ctor := r.ctors[t]
	r.mu.Unlock()
	p := reflect.New(t)
	if ctor == nil {
		return p
	}
	v := reflect.ValueOf(ctor())
	switch {
	case !v.IsValid():
	case v.Type() == t:
		p.Elem().Set(v)
	case v.Type() == p.Type() && !v.IsNil():
		return v
	}
	return p
}
