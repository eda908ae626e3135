package binder

import (
	"github.com/roach88/querybind/internal/edm"
)

// FlattenedIndex maps the property paths available on grouped rows to their
// types. Paths are slash-separated, as in "Category/Name"; aggregate aliases
// are single-segment paths.
type FlattenedIndex struct {
	types map[string]edm.TypeRef
	paths []string
}

// NewFlattenedIndex returns an empty index.
func NewFlattenedIndex() *FlattenedIndex {
	return &FlattenedIndex{types: make(map[string]edm.TypeRef)}
}

// Add records path. A later Add of the same path replaces its type.
func (x *FlattenedIndex) Add(path string, t edm.TypeRef) {
	if _, ok := x.types[path]; !ok {
		x.paths = append(x.paths, path)
	}
	x.types[path] = t
}

// Lookup returns the type of path.
func (x *FlattenedIndex) Lookup(path string) (edm.TypeRef, bool) {
	if x == nil {
		return edm.TypeRef{}, false
	}
	t, ok := x.types[path]
	return t, ok
}

// Paths returns the indexed paths in insertion order.
func (x *FlattenedIndex) Paths() []string {
	if x == nil {
		return nil
	}
	return append([]string(nil), x.paths...)
}

// Len returns the number of indexed paths.
func (x *FlattenedIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.paths)
}
