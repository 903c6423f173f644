//go:build !cgo

package graph

import "errors"

// ErrKuzuUnavailable is returned by the kuzu constructors in builds
// without cgo.
var ErrKuzuUnavailable = errors.New("kuzu: built without cgo")

// KuzuStore is unavailable without cgo. Use MemStore instead.
type KuzuStore struct{ MemStore }

// NewKuzuStore always fails without cgo.
func NewKuzuStore() (*KuzuStore, error) { return nil, ErrKuzuUnavailable }

// NewKuzuFileStore always fails without cgo.
func NewKuzuFileStore(string) (*KuzuStore, error) { return nil, ErrKuzuUnavailable }
