// device.go - Device-Konfiguration fuer den Accelerator
// Dieses Modul enthaelt die HTP-Architektur-Auswahl, die bei DeviceCreate
// immer mitgegeben wird (externer Konfigurationswert, wird nicht verhandelt).
package ml

import (
	"fmt"
	"strconv"
	"strings"
)

// HTPArch is the accelerator architecture a device is created for.
type HTPArch uint32

const (
	HTPArchNone HTPArch = 0
	HTPArchV68  HTPArch = 68
	HTPArchV69  HTPArch = 69
	HTPArchV73  HTPArch = 73
	HTPArchV75  HTPArch = 75
	HTPArchV79  HTPArch = 79
)

// DefaultHTPArch ist die Architektur, fuer die ohne Konfiguration kompiliert wird
const DefaultHTPArch = HTPArchV73

func (a HTPArch) String() string {
	if a == HTPArchNone {
		return "none"
	}
	return fmt.Sprintf("v%d", uint32(a))
}

// Supported reports whether a is a known architecture.
func (a HTPArch) Supported() bool {
	switch a {
	case HTPArchV68, HTPArchV69, HTPArchV73, HTPArchV75, HTPArchV79:
		return true
	}
	return false
}

// ParseHTPArch parst Werte wie "v73", "V73" oder "73"
func ParseHTPArch(s string) (HTPArch, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return HTPArchNone, fmt.Errorf("invalid htp arch %q", s)
	}

	arch := HTPArch(n)
	if !arch.Supported() {
		return HTPArchNone, fmt.Errorf("unsupported htp arch %s", arch)
	}
	return arch, nil
}

// DeviceConfig is the custom device option selecting the architecture.
type DeviceConfig struct {
	DeviceID uint32
	Arch     HTPArch
}
