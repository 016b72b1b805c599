// Package artifact - Low-Level Lese-Funktionen
//
// Dieses Modul enthaelt:
// - decoder: Cursor ueber den Artefakt-Speicher mit Bereichspruefung
// - read[T]: generisches Lesen von Little-Endian-Ganzzahlen
// - stringV1/stringV2: Strings der jeweiligen Schema-Version
// - borrowString: String ohne Kopie ueber dem Artefakt-Speicher
package artifact

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.off
}

// bytes returns the next n bytes without copying.
func (d *decoder) bytes(n uint64) ([]byte, error) {
	if n > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, d.off, d.remaining())
	}

	b := d.data[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

func read[T ~uint8 | ~uint32 | ~uint64](d *decoder) (T, error) {
	var v T
	b, err := d.bytes(uint64(unsafe.Sizeof(v)))
	if err != nil {
		return v, err
	}

	switch len(b) {
	case 1:
		v = T(b[0])
	case 4:
		v = T(binary.LittleEndian.Uint32(b))
	case 8:
		v = T(binary.LittleEndian.Uint64(b))
	}
	return v, nil
}

// stringV1 reads a uint32 length that includes the terminating NUL.
func (d *decoder) stringV1() (int, int, error) {
	n, err := read[uint32](d)
	if err != nil {
		return 0, 0, err
	}

	if n == 0 {
		return 0, 0, fmt.Errorf("%w: v1 string at offset %d without terminator", ErrCorrupt, d.off)
	}

	off := d.off
	b, err := d.bytes(uint64(n))
	if err != nil {
		return 0, 0, err
	}

	if b[n-1] != 0 {
		return 0, 0, fmt.Errorf("%w: v1 string at offset %d not NUL-terminated", ErrCorrupt, off)
	}

	return off, int(n) - 1, nil
}

// stringV2 reads a uint64 length followed by the bytes.
func (d *decoder) stringV2() (int, int, error) {
	n, err := read[uint64](d)
	if err != nil {
		return 0, 0, err
	}

	off := d.off
	if _, err := d.bytes(n); err != nil {
		return 0, 0, err
	}

	return off, int(n), nil
}

func borrowString(data []byte, off, n int) string {
	if n == 0 {
		return ""
	}
	return unsafe.String(&data[off], n)
}
