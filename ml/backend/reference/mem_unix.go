//go:build unix

// mem_unix.go - Registrierung von Shared-Memory ueber exportierte FDs
//
// Der FD wird ein zweites Mal eingeblendet; beide Mappings teilen sich dieselben
// Seiten, Ein- und Ausgaben laufen damit ohne Kopie.
package reference

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/7blacky7/qnnrt/ml"
)

type memRegion struct {
	ctx     *context
	desc    ml.MemDescriptor
	mapping []byte
	data    []byte
}

func (b *Backend) MemRegister(ch ml.ContextHandle, desc ml.MemDescriptor) (ml.MemHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.get(uintptr(ch))
	if !ok {
		return 0, ml.Errorf("memRegister", ml.StatusInvalidHandle, "context %d", ch)
	}

	size := desc.ByteSize()
	if desc.FD < 0 || desc.Offset < 0 || size == 0 {
		return 0, ml.Errorf("memRegister", ml.StatusInvalidArgument, "fd %d offset %d size %d", desc.FD, desc.Offset, size)
	}

	page := int64(os.Getpagesize())
	start := desc.Offset &^ (page - 1)
	skip := int(desc.Offset - start)

	mapping, err := unix.Mmap(desc.FD, start, skip+size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return 0, ml.Errorf("memRegister", ml.StatusMemAllocFailed, "mmap fd %d: %v", desc.FD, err)
	}

	r := &memRegion{
		ctx:     ctx,
		desc:    desc,
		mapping: mapping,
		data:    mapping[skip : skip+size : skip+size],
	}

	ctx.backend.log.logf(ml.LogLevelDebug, "registered %d bytes from fd %d at offset %d", size, desc.FD, desc.Offset)
	return ml.MemHandle(b.mems.add(r)), nil
}

func (b *Backend) MemDeRegister(h ml.MemHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.mems.remove(uintptr(h))
	if !ok {
		return ml.Errorf("memDeRegister", ml.StatusInvalidHandle, "mem %d", h)
	}

	if err := unix.Munmap(r.mapping); err != nil {
		return ml.Errorf("memDeRegister", ml.StatusGeneralError, "munmap: %v", err)
	}
	return nil
}
