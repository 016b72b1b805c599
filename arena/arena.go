// arena.go - Shared-Memory-Arena fuer Zero-Copy-Tensorpuffer
//
// Dieses Modul enthaelt:
// - Arena: ausgerichtete Allokationen ueber einen nativen Allokator
// - Get: prozessweite Instanz, genau einmal initialisiert
// - New: private Instanz ueber einem gegebenen Allokator
// - Allocate/Free/ExportHandle: Allokation, Freigabe und FD-Export
package arena

import (
	"errors"
	"log/slog"
	"sync"
	"unsafe"
)

// ErrArenaUninitialized is reported when the native allocator failed to load.
var ErrArenaUninitialized = errors.New("shared memory arena not initialized")

// InvalidHandle is returned by ExportHandle for unknown buffers.
const InvalidHandle = -1

// record maps a public buffer back to the allocation it was carved from.
type record struct {
	base []byte
	size int
}

// Arena hands out aligned, exportable buffers. The zero value is an
// uninitialized arena: every Allocate returns nil.
type Arena struct {
	alloc Allocator

	mu      sync.Mutex
	records map[uintptr]record
}

var (
	defaultMu    sync.Mutex
	defaultArena *Arena
)

// Get returns the process-wide arena, loading the native allocator on first
// use. The lock only covers the check and the initialization; a failed load
// leaves the arena uninitialized and is not retried.
func Get(load Loader) *Arena {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultArena == nil {
		alloc, err := load()
		if err != nil {
			slog.Error("failed to load shared memory allocator", "error", err)
			alloc = nil
		}
		defaultArena = New(alloc)
	}

	return defaultArena
}

// New creates an arena over alloc. A nil allocator yields an uninitialized arena.
func New(alloc Allocator) *Arena {
	return &Arena{
		alloc:   alloc,
		records: make(map[uintptr]record),
	}
}

// Initialized reports whether the arena has a native allocator.
func (a *Arena) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc != nil
}

// Allocate returns size bytes whose address is a multiple of alignment, or nil
// if the arena is uninitialized, the arguments are invalid or the allocator
// refuses. The buffer never starts at the base of the underlying allocation.
func (a *Arena) Allocate(size, alignment int) []byte {
	if size <= 0 || alignment <= 0 || alignment&(alignment-1) != 0 {
		slog.Warn("invalid shared memory request", "size", size, "alignment", alignment)
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.alloc == nil {
		slog.Warn("allocate on uninitialized arena", "size", size)
		return nil
	}

	base, err := a.alloc.Alloc(HeapIDSystem, DefaultFlags, size+alignment)
	if err != nil || len(base) < size+alignment {
		slog.Error("shared memory allocation failed", "size", size+alignment, "error", err)
		if err == nil && base != nil {
			a.alloc.Free(base)
		}
		return nil
	}

	addr := uintptr(unsafe.Pointer(&base[0]))
	delta := alignment - int(addr%uintptr(alignment))

	buf := base[delta : delta+size : delta+size]
	a.records[addr+uintptr(delta)] = record{base: base, size: size}

	slog.Debug("shared memory allocated", "size", size, "alignment", alignment, "offset", delta)
	return buf
}

// Free releases buf. Unknown buffers, including ones already freed, are
// ignored with a warning.
func (a *Arena) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, ok := a.lookup(buf)
	if !ok {
		slog.Warn("free of unknown shared memory buffer", "len", len(buf))
		return
	}

	r := a.records[key]
	delete(a.records, key)

	if err := a.alloc.Free(r.base); err != nil {
		slog.Error("releasing shared memory", "size", len(r.base), "error", err)
	}
}

// ExportHandle returns the file descriptor of the allocation backing buf and
// the offset of buf within it. fd is InvalidHandle if the arena is
// uninitialized or buf was not returned by Allocate.
func (a *Arena) ExportHandle(buf []byte) (fd int, offset int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.alloc == nil {
		slog.Warn("export on uninitialized arena")
		return InvalidHandle, 0
	}

	key, ok := a.lookup(buf)
	if !ok {
		slog.Warn("export of unknown shared memory buffer", "len", len(buf))
		return InvalidHandle, 0
	}

	r := a.records[key]
	fd, err := a.alloc.ToFD(r.base)
	if err != nil {
		slog.Error("exporting shared memory", "error", err)
		return InvalidHandle, 0
	}

	return fd, int64(key - uintptr(unsafe.Pointer(&r.base[0])))
}

// IsAllocated reports whether buf is a live buffer of this arena.
func (a *Arena) IsAllocated(buf []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.lookup(buf)
	return ok
}

// Live gibt die Anzahl der nicht freigegebenen Puffer zurueck
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Close releases every live allocation and the allocator. The arena is
// uninitialized afterwards.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.alloc == nil {
		return nil
	}

	var errs []error
	for key, r := range a.records {
		errs = append(errs, a.alloc.Free(r.base))
		delete(a.records, key)
	}

	if c, ok := a.alloc.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}

	a.alloc = nil
	return errors.Join(errs...)
}

// lookup requires a.mu. Only the exact buffer returned by Allocate matches.
func (a *Arena) lookup(buf []byte) (uintptr, bool) {
	if len(buf) == 0 {
		return 0, false
	}

	key := uintptr(unsafe.Pointer(&buf[0]))
	r, ok := a.records[key]
	if !ok || r.size != len(buf) {
		return 0, false
	}
	return key, true
}
