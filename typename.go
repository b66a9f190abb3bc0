package oncez

import (
	"reflect"
	"sync"
)

var (
	// nameCache stores the string representation of types to avoid repeated reflection.
	nameCache = make(map[reflect.Type]string)
	// nameMu protects concurrent access to the name cache.
	nameMu sync.RWMutex
)

// typeOf returns the reflect.Type identity for T. Unlike reflect.TypeOf on
// a zero value, this resolves interface and pointer types correctly, so it
// is usable as a registry key for any T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// typeNameOf returns the cached string representation of a reflect.Type.
// The result is cached after the first call for each unique type, making
// subsequent calls efficient. This function is safe for concurrent use.
func typeNameOf(typ reflect.Type) string {
	nameMu.RLock()
	if name, ok := nameCache[typ]; ok {
		nameMu.RUnlock()
		return name
	}
	nameMu.RUnlock()

	nameMu.Lock()
	defer nameMu.Unlock()

	// Double-check after acquiring write lock
	if name, ok := nameCache[typ]; ok {
		return name
	}

	name := typ.String()
	nameCache[typ] = name
	return name
}

// typeName returns the cached string representation of T.
func typeName[T any]() string {
	return typeNameOf(typeOf[T]())
}
