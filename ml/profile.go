// profile.go - Profiling-Typen
// Dieses Modul definiert Profiling-Level, Konfiguration und Event-Daten,
// die das Backend nach jeder Ausfuehrung meldet.
package ml

import "strconv"

// ProfileLevel controls how much detail the backend records.
type ProfileLevel uint32

const (
	ProfileLevelBasic ProfileLevel = iota + 1
	ProfileLevelDetailed
)

func (l ProfileLevel) String() string {
	switch l {
	case ProfileLevelBasic:
		return "basic"
	case ProfileLevelDetailed:
		return "detailed"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// ProfileConfigOption selects a profiler feature.
type ProfileConfigOption uint32

const (
	ProfileConfigOptionNone ProfileConfigOption = iota
	// ProfileConfigOptionEnableOpTrace records one event per executed op.
	ProfileConfigOptionEnableOpTrace
)

// ProfileConfig configures a profiler.
type ProfileConfig struct {
	Option ProfileConfigOption
}

// ProfileEventID identifies one recorded event.
type ProfileEventID uintptr

// ProfileEventUnit is the unit of ProfileEventData.Value.
type ProfileEventUnit uint32

const (
	ProfileEventUnitMicrosec ProfileEventUnit = iota + 1
	ProfileEventUnitBytes
	ProfileEventUnitCycles
	ProfileEventUnitCount
	ProfileEventUnitBackend
)

// Label gibt das Einheiten-Label fuer das Profiling-Log zurueck.
// Zyklen und backend-spezifische Einheiten haben kein Label.
func (u ProfileEventUnit) Label() string {
	switch u {
	case ProfileEventUnitMicrosec:
		return "us"
	case ProfileEventUnitBytes:
		return "bytes"
	case ProfileEventUnitCount:
		return "count"
	default:
		return ""
	}
}

// ProfileEventData is the payload of one profiling event.
type ProfileEventData struct {
	Type       ProfileEventType
	Identifier string
	Value      uint64
	Unit       ProfileEventUnit
}

// ProfileEventType classifies an event.
type ProfileEventType uint32

const (
	ProfileEventTypeInit ProfileEventType = iota + 1
	ProfileEventTypeFinalize
	ProfileEventTypeExecute
	ProfileEventTypeNode
	ProfileEventTypeExecuteQueueWait
	ProfileEventTypeDeinit
)
