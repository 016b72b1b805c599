// profile.go - Profiling-Ereignisse des Referenz-Backends
//
// Dieses Modul enthaelt:
// - profiler: Level, Konfiguration und Ereignisse eines Profile-Handles
// - ProfileCreate/SetConfig/GetEvents/GetEventData/Free
// - recordExecute: Ereignisse einer Graph-Ausfuehrung (ersetzt vorherige)
package reference

import (
	"time"

	"github.com/7blacky7/qnnrt/ml"
)

type profiler struct {
	level   ml.ProfileLevel
	opTrace bool
	events  []ml.ProfileEventID
}

func (b *Backend) ProfileCreate(bh ml.BackendHandle, level ml.ProfileLevel) (ml.ProfileHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.backends.get(uintptr(bh)); !ok {
		return 0, ml.Errorf("profileCreate", ml.StatusInvalidHandle, "backend %d", bh)
	}

	if level != ml.ProfileLevelBasic && level != ml.ProfileLevelDetailed {
		return 0, ml.Errorf("profileCreate", ml.StatusInvalidArgument, "level %d", level)
	}

	return ml.ProfileHandle(b.profiles.add(&profiler{level: level})), nil
}

func (b *Backend) ProfileSetConfig(ph ml.ProfileHandle, cfgs []ml.ProfileConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.profiles.get(uintptr(ph))
	if !ok {
		return ml.Errorf("profileSetConfig", ml.StatusInvalidHandle, "profile %d", ph)
	}

	for _, cfg := range cfgs {
		switch cfg.Option {
		case ml.ProfileConfigOptionEnableOpTrace:
			p.opTrace = true
		case ml.ProfileConfigOptionNone:
		default:
			return ml.Errorf("profileSetConfig", ml.StatusUnsupported, "option %d", cfg.Option)
		}
	}
	return nil
}

func (b *Backend) ProfileGetEvents(ph ml.ProfileHandle) ([]ml.ProfileEventID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.profiles.get(uintptr(ph))
	if !ok {
		return nil, ml.Errorf("profileGetEvents", ml.StatusInvalidHandle, "profile %d", ph)
	}

	return append([]ml.ProfileEventID(nil), p.events...), nil
}

func (b *Backend) ProfileGetEventData(id ml.ProfileEventID) (ml.ProfileEventData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.events.get(uintptr(id))
	if !ok {
		return ml.ProfileEventData{}, ml.Errorf("profileGetEventData", ml.StatusInvalidHandle, "event %d", id)
	}
	return e, nil
}

func (b *Backend) ProfileFree(ph ml.ProfileHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.profiles.remove(uintptr(ph))
	if !ok {
		return ml.Errorf("profileFree", ml.StatusInvalidHandle, "profile %d", ph)
	}

	b.reset(p)
	return nil
}

// record requires b.mu.
func (b *Backend) record(p *profiler, e ml.ProfileEventData) {
	p.events = append(p.events, ml.ProfileEventID(b.events.add(e)))
}

// reset drops the events of p. Requires b.mu.
func (b *Backend) reset(p *profiler) {
	for _, id := range p.events {
		b.events.remove(uintptr(id))
	}
	p.events = nil
}

// recordExecute replaces the events of p with those of one execution.
// Requires b.mu.
func (b *Backend) recordExecute(p *profiler, total time.Duration, in, out uint64, nodes []nodeTiming) {
	b.reset(p)

	b.record(p, ml.ProfileEventData{
		Type:       ml.ProfileEventTypeExecute,
		Identifier: "Accelerator (execute) time",
		Value:      uint64(total.Microseconds()),
		Unit:       ml.ProfileEventUnitMicrosec,
	})
	b.record(p, ml.ProfileEventData{
		Type:       ml.ProfileEventTypeExecute,
		Identifier: "Input bytes",
		Value:      in,
		Unit:       ml.ProfileEventUnitBytes,
	})
	b.record(p, ml.ProfileEventData{
		Type:       ml.ProfileEventTypeExecute,
		Identifier: "Output bytes",
		Value:      out,
		Unit:       ml.ProfileEventUnitBytes,
	})
	b.record(p, ml.ProfileEventData{
		Type:       ml.ProfileEventTypeExecute,
		Identifier: "Number of nodes executed",
		Value:      uint64(len(nodes)),
		Unit:       ml.ProfileEventUnitCount,
	})

	if p.level < ml.ProfileLevelDetailed {
		return
	}

	for _, n := range nodes {
		b.record(p, ml.ProfileEventData{
			Type:       ml.ProfileEventTypeNode,
			Identifier: n.name + " (execute) time",
			Value:      uint64(n.elapsed.Microseconds()),
			Unit:       ml.ProfileEventUnitMicrosec,
		})

		if p.opTrace {
			// nominal 1 GHz clock
			b.record(p, ml.ProfileEventData{
				Type:       ml.ProfileEventTypeNode,
				Identifier: n.name + " cycles",
				Value:      uint64(n.elapsed.Nanoseconds()),
				Unit:       ml.ProfileEventUnitCycles,
			})
		}
	}
}
