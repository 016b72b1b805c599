// allocator.go - Schnittstelle zum nativen Shared-Memory-Allokator
//
// Dieses Modul enthaelt:
// - Allocator: Alloc/Free/ToFD wie die rpcmem-Bibliothek
// - Loader: laedt einen Allokator (genau einmal ueber Get)
// - Heap-Konstanten, die unveraendert an den Allokator gehen
package arena

import "errors"

// Heap and flag values passed to every allocation.
const (
	HeapIDSystem = 25
	DefaultFlags = 1
)

// ErrUnavailable is returned by DefaultLoader on platforms without a
// shared memory allocator.
var ErrUnavailable = errors.New("shared memory allocator unavailable")

// Allocator is the native shared memory library. Every buffer it returns must
// be exportable as a file descriptor.
type Allocator interface {
	Alloc(heapID int, flags uint32, size int) ([]byte, error)
	Free([]byte) error
	ToFD([]byte) (int, error)
}

// Loader loads the native allocator.
type Loader func() (Allocator, error)

// DefaultLoader loads the platform allocator.
func DefaultLoader() (Allocator, error) {
	return loadPlatform()
}
