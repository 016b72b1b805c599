// memfd_linux.go - memfd-basierter Allokator
//
// Jede Allokation ist ein eigenes memfd, das MAP_SHARED eingeblendet wird.
// Der FD kann direkt an das Backend uebergeben und dort erneut gemappt werden.
package arena

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type memfdAllocator struct {
	mu  sync.Mutex
	fds map[uintptr]int
}

func loadPlatform() (Allocator, error) {
	// probe once so a kernel without memfd fails at load time
	fd, err := unix.MemfdCreate("qnnrt-probe", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: memfd_create: %v", ErrUnavailable, err)
	}
	unix.Close(fd)

	return &memfdAllocator{fds: make(map[uintptr]int)}, nil
}

func (m *memfdAllocator) Alloc(heapID int, flags uint32, size int) ([]byte, error) {
	fd, err := unix.MemfdCreate(fmt.Sprintf("qnnrt-heap%d-%d", heapID, flags), unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate %d: %w", size, err)
	}

	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %d: %w", size, err)
	}

	m.mu.Lock()
	m.fds[uintptr(unsafe.Pointer(&b[0]))] = fd
	m.mu.Unlock()

	return b, nil
}

func (m *memfdAllocator) Free(b []byte) error {
	key := uintptr(unsafe.Pointer(&b[0]))

	m.mu.Lock()
	fd, ok := m.fds[key]
	delete(m.fds, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown allocation")
	}

	if err := unix.Munmap(b); err != nil {
		unix.Close(fd)
		return err
	}
	return unix.Close(fd)
}

func (m *memfdAllocator) ToFD(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fd, ok := m.fds[uintptr(unsafe.Pointer(&b[0]))]
	if !ok {
		return InvalidHandle, fmt.Errorf("unknown allocation")
	}
	return fd, nil
}
