package arena

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// heapAllocator ist ein Allokator auf dem Go-Heap mit erfundenen FDs
type heapAllocator struct {
	next   int
	fds    map[uintptr]int
	refuse bool
	freed  int
}

func newHeapAllocator() *heapAllocator {
	return &heapAllocator{next: 100, fds: make(map[uintptr]int)}
}

func (h *heapAllocator) Alloc(heapID int, flags uint32, size int) ([]byte, error) {
	if h.refuse {
		return nil, errors.New("out of memory")
	}
	b := make([]byte, size)
	h.fds[addr(b)] = h.next
	h.next++
	return b, nil
}

func (h *heapAllocator) Free(b []byte) error {
	delete(h.fds, addr(b))
	h.freed++
	return nil
}

func (h *heapAllocator) ToFD(b []byte) (int, error) {
	fd, ok := h.fds[addr(b)]
	if !ok {
		return InvalidHandle, errors.New("unknown")
	}
	return fd, nil
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func resetDefault(t *testing.T) {
	t.Helper()

	reset := func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultArena != nil {
			defaultArena.Close()
		}
		defaultArena = nil
	}

	reset()
	t.Cleanup(reset)
}

func memfdArena(t *testing.T) *Arena {
	t.Helper()

	alloc, err := DefaultLoader()
	if errors.Is(err, ErrUnavailable) {
		t.Skip("no shared memory allocator on this platform")
	}
	require.NoError(t, err)

	a := New(alloc)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAllocateAlignment(t *testing.T) {
	a := New(newHeapAllocator())

	live := make(map[uintptr]bool)
	for _, alignment := range []int{1, 2, 8, 64, 128, 4096} {
		for _, size := range []int{1, 3, 1024, 4097} {
			buf := a.Allocate(size, alignment)
			if buf == nil {
				t.Fatalf("Allocate(%d, %d) lieferte nil", size, alignment)
			}

			p := addr(buf)
			if p%uintptr(alignment) != 0 {
				t.Errorf("Allocate(%d, %d): Adresse %#x nicht ausgerichtet", size, alignment, p)
			}
			if len(buf) != size || cap(buf) != size {
				t.Errorf("Allocate(%d, %d): len %d cap %d", size, alignment, len(buf), cap(buf))
			}
			if live[p] {
				t.Errorf("Allocate(%d, %d): Adresse %#x doppelt vergeben", size, alignment, p)
			}
			live[p] = true
		}
	}

	if a.Live() != len(live) {
		t.Errorf("erwartet %d Records, bekommen %d", len(live), a.Live())
	}
}

func TestAlignedNeverBase(t *testing.T) {
	h := newHeapAllocator()
	a := New(h)

	buf := a.Allocate(64, 8)
	require.NotNil(t, buf)

	_, offset := a.ExportHandle(buf)
	if offset <= 0 || offset > 8 {
		t.Errorf("erwartet Offset in (0, 8], bekommen %d", offset)
	}
}

func TestAllocateInvalid(t *testing.T) {
	tests := []struct {
		name      string
		arena     *Arena
		size      int
		alignment int
	}{
		{"zero size", New(newHeapAllocator()), 0, 8},
		{"negative size", New(newHeapAllocator()), -1, 8},
		{"alignment not power of two", New(newHeapAllocator()), 16, 12},
		{"zero alignment", New(newHeapAllocator()), 16, 0},
		{"uninitialized", New(nil), 16, 8},
		{"zero value", &Arena{}, 16, 8},
		{"allocator refuses", New(&heapAllocator{refuse: true}), 16, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if buf := tt.arena.Allocate(tt.size, tt.alignment); buf != nil {
				t.Errorf("erwartet nil, bekommen %d Bytes", len(buf))
			}
		})
	}
}

func TestDoubleFree(t *testing.T) {
	h := newHeapAllocator()
	a := New(h)

	buf := a.Allocate(32, 8)
	require.NotNil(t, buf)

	a.Free(buf)
	a.Free(buf)
	a.Free(nil)
	a.Free(make([]byte, 32))

	if h.freed != 1 {
		t.Errorf("erwartet 1 Freigabe, bekommen %d", h.freed)
	}
	if a.IsAllocated(buf) {
		t.Error("Puffer nach Free noch als belegt markiert")
	}
}

func TestExportHandle(t *testing.T) {
	a := New(newHeapAllocator())

	buf := a.Allocate(256, 16)
	require.NotNil(t, buf)

	fd, _ := a.ExportHandle(buf)
	if fd == InvalidHandle {
		t.Fatal("erwartet gueltigen FD")
	}

	tests := []struct {
		name  string
		arena *Arena
		buf   []byte
	}{
		{"unknown buffer", a, make([]byte, 256)},
		{"sub slice", a, buf[:128]},
		{"nil", a, nil},
		{"uninitialized", New(nil), buf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fd, _ := tt.arena.ExportHandle(tt.buf); fd != InvalidHandle {
				t.Errorf("erwartet %d, bekommen %d", InvalidHandle, fd)
			}
		})
	}

	a.Free(buf)
	if fd, _ := a.ExportHandle(buf); fd != InvalidHandle {
		t.Errorf("nach Free: erwartet %d, bekommen %d", InvalidHandle, fd)
	}
}

func TestMemfdPattern(t *testing.T) {
	a := memfdArena(t)

	buf := a.Allocate(1024, 8)
	require.NotNil(t, buf)

	if addr(buf)%8 != 0 {
		t.Fatalf("Adresse %#x nicht durch 8 teilbar", addr(buf))
	}

	other := a.Allocate(1024, 8)
	require.NotNil(t, other)
	for i := range other {
		other[i] = 0xaa
	}

	pattern := make([]byte, 1024)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}
	copy(buf, pattern)

	if !bytes.Equal(buf, pattern) {
		t.Fatal("Muster nicht unveraendert zurueckgelesen")
	}

	fd, offset := a.ExportHandle(buf)
	if fd < 0 {
		t.Fatalf("erwartet gueltigen FD, bekommen %d", fd)
	}
	if offset != 8 {
		t.Errorf("erwartet Offset 8 auf seitenausgerichtetem mmap, bekommen %d", offset)
	}

	a.Free(buf)

	again := a.Allocate(1024, 8)
	require.NotNil(t, again)
	for i := range again {
		again[i] = 0x55
	}

	for i, b := range other {
		if b != 0xaa {
			t.Fatalf("fremde Allokation an Index %d veraendert: %#x", i, b)
		}
	}
}

func TestGetLoadsOnce(t *testing.T) {
	resetDefault(t)

	var loads atomic.Int32
	load := func() (Allocator, error) {
		loads.Add(1)
		return newHeapAllocator(), nil
	}

	var g errgroup.Group
	arenas := make([]*Arena, 32)
	for i := range arenas {
		g.Go(func() error {
			arenas[i] = Get(load)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	if n := loads.Load(); n != 1 {
		t.Errorf("erwartet genau einen Ladevorgang, bekommen %d", n)
	}

	for i, a := range arenas {
		if a != arenas[0] {
			t.Errorf("Instanz %d weicht ab", i)
		}
	}

	if !arenas[0].Initialized() {
		t.Error("erwartet initialisierte Arena")
	}
}

func TestGetLoadFailure(t *testing.T) {
	resetDefault(t)

	a := Get(func() (Allocator, error) { return nil, errors.New("libcdsprpc.so not found") })
	if a.Initialized() {
		t.Fatal("erwartet nicht initialisierte Arena")
	}

	if buf := a.Allocate(64, 8); buf != nil {
		t.Error("erwartet nil von nicht initialisierter Arena")
	}

	called := false
	if b := Get(func() (Allocator, error) { called = true; return newHeapAllocator(), nil }); b != a || called {
		t.Error("Loader darf nach dem ersten Aufruf nicht erneut laufen")
	}
}

func TestClose(t *testing.T) {
	h := newHeapAllocator()
	a := New(h)

	for range 3 {
		require.NotNil(t, a.Allocate(16, 8))
	}

	require.NoError(t, a.Close())

	if h.freed != 3 || a.Live() != 0 || a.Initialized() {
		t.Errorf("erwartet 3 Freigaben und leere Arena, bekommen %d/%d/%v", h.freed, a.Live(), a.Initialized())
	}

	require.NoError(t, a.Close())
}
