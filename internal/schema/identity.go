// Computes and parses type identity strings.

package schema

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
)

// buildModules lists the modules linked in the running binary, main module
// first.
var buildModules = sync.OnceValue(func() []debug.Module {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	mods := make([]debug.Module, 0, len(info.Deps)+1)
	mods = append(mods, info.Main)
	for _, d := range info.Deps {
		if d.Replace != nil && d.Replace.Version != "" {
			mods = append(mods, debug.Module{Path: d.Path, Version: d.Replace.Version})
			continue
		}
		mods = append(mods, *d)
	}
	return mods
})

// moduleVersion returns the version of the module providing pkgPath, or "" for
// the standard library and development builds.
func moduleVersion(pkgPath string) string {
	best, version := "", ""
	for _, m := range buildModules() {
		if m.Path == "" || len(m.Path) <= len(best) {
			continue
		}
		if pkgPath == m.Path || strings.HasPrefix(pkgPath, m.Path+"/") {
			best, version = m.Path, m.Version
		}
	}
	if version == "(devel)" {
		return ""
	}
	return version
}

// StripVersion removes every "@version" component from an identity.
func StripVersion(id string) string {
	if !strings.Contains(id, "@") {
		return id
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(id, '@')
		if i < 0 {
			b.WriteString(id)
			return b.String()
		}
		b.WriteString(id[:i])
		id = id[i:]
		j := strings.IndexByte(id, ']')
		if j < 0 {
			return b.String()
		}
		id = id[j:]
	}
}

// identityOf derives the identity of t. named returns the registered identity
// of a type, if any.
func identityOf(t reflect.Type, named func(reflect.Type) (string, bool)) (string, error) {
	if id, ok := named(t); ok {
		return id, nil
	}
	if t.Name() == "" {
		switch t.Kind() { //nolint:exhaustive // Only composite kinds have a spelled identity.
		case reflect.Pointer:
			e, err := identityOf(t.Elem(), named)
			return "*" + e, err
		case reflect.Slice:
			e, err := identityOf(t.Elem(), named)
			return "[]" + e, err
		case reflect.Array:
			e, err := identityOf(t.Elem(), named)
			return "[" + strconv.Itoa(t.Len()) + "]" + e, err
		case reflect.Map:
			k, err := identityOf(t.Key(), named)
			if err != nil {
				return "", err
			}
			v, err := identityOf(t.Elem(), named)
			return "map[" + k + "]" + v, err
		case reflect.Struct:
			if t.NumField() == 0 {
				return emptyStructName, nil
			}
		case reflect.Interface:
			if t.NumMethod() == 0 {
				return emptyInterfaceName, nil
			}
		}
		return "", fmt.Errorf("%w: anonymous %s", ErrUnsupportedType, t)
	}
	if strings.ContainsRune(t.Name(), '[') {
		return "", fmt.Errorf("%w: generic type %s", ErrUnsupportedType, t)
	}
	if t.PkgPath() == "" {
		return t.Name(), nil
	}
	id := t.PkgPath() + "." + t.Name()
	if v := moduleVersion(t.PkgPath()); v != "" {
		id += "@" + v
	}
	return id, nil
}

const (
	emptyStructName    = "struct {}"
	emptyInterfaceName = "interface {}"
)

// parseIdentity builds the type spelled by id. lookup resolves a single named
// component.
func parseIdentity(id string, lookup func(name string) (reflect.Type, bool)) (reflect.Type, error) {
	t, rest, err := parseType(id, lookup)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing %q in identity %q", rest, id)
	}
	return t, nil
}

func parseType(s string, lookup func(name string) (reflect.Type, bool)) (reflect.Type, string, error) {
	switch {
	case strings.HasPrefix(s, "*"):
		e, rest, err := parseType(s[1:], lookup)
		if err != nil {
			return nil, "", err
		}
		return reflect.PointerTo(e), rest, nil
	case strings.HasPrefix(s, "[]"):
		e, rest, err := parseType(s[2:], lookup)
		if err != nil {
			return nil, "", err
		}
		return reflect.SliceOf(e), rest, nil
	case strings.HasPrefix(s, "map["):
		k, rest, err := parseType(s[4:], lookup)
		if err != nil {
			return nil, "", err
		}
		if !strings.HasPrefix(rest, "]") {
			return nil, "", fmt.Errorf("missing ] after map key in %q", s)
		}
		v, rest, err := parseType(rest[1:], lookup)
		if err != nil {
			return nil, "", err
		}
		if !k.Comparable() {
			return nil, "", fmt.Errorf("map key %s is not comparable", k)
		}
		return reflect.MapOf(k, v), rest, nil
	case strings.HasPrefix(s, "["):
		i := strings.IndexByte(s, ']')
		if i < 0 {
			return nil, "", fmt.Errorf("missing ] in array length of %q", s)
		}
		n, err := strconv.Atoi(s[1:i])
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid array length in %q", s)
		}
		e, rest, err := parseType(s[i+1:], lookup)
		if err != nil {
			return nil, "", err
		}
		return reflect.ArrayOf(n, e), rest, nil
	}
	i := strings.IndexByte(s, ']')
	if i < 0 {
		i = len(s)
	}
	name := s[:i]
	if name == "" {
		return nil, "", fmt.Errorf("empty type name in %q", s)
	}
	t, ok := lookup(name)
	if !ok {
		return nil, "", fmt.Errorf("unknown type %q", name)
	}
	return t, s[i:], nil
}
