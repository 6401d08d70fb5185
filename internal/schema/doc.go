// Package schema captures, encodes and resolves the structural description of
// Go types stored in a serialized object file.
//
// # Identities
//
// Every type is named by an identity string. Named types use
// "pkgpath.Name@version" where version is the module version the package was
// built from (or a version given at registration). Predeclared types use their
// Go name and composite types are spelled from their element identities:
// "*X", "[]X", "[4]X", "map[K]V".
//
// # Resolution
//
// A [Resolver] maps identities back to live types. Go cannot look a type up by
// name at run time, so every named type that should be readable must be
// registered first. Resolution tries the exact identity, then the identity with
// its version components stripped, so files written by an older build of a
// module stay readable. Results, including failures, are cached.
//
// A resolved type is only instantiated when [Allowed] accepts it: primitives,
// interfaces, time.Time, reflect.Type, slices, arrays and maps of allowed
// types, and struct types that opt in by implementing [PublicData].
//
// # Members
//
// The serializable members of a struct are its exported fields not tagged
// `datarepo:"-"`, and its properties: method pairs X() V and SetX(V) on the
// pointer receiver. Members whose type cannot be encoded (channels, functions,
// anonymous structs, generic types) are left out.
//
// # Schema table
//
// A [Catalog] is the ordered schema table of one serialized unit. Members
// reference other entries by index. After decoding, [Catalog.Validate] marks a
// member unloadable when the live member type no longer matches the stored
// one, so a field changing type between versions only loses that field.
package schema
