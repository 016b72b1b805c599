// system.go - System-Interface fuer die Introspektion von Context-Binaries
package reference

import (
	"sync"

	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

// System implements ml.SystemInterface on top of fs/artifact.
type System struct {
	mu       sync.Mutex
	contexts handles[struct{}]
}

var _ ml.SystemInterface = (*System)(nil)

var systemProviders = sync.OnceValue(func() []ml.SystemProvider {
	return []ml.SystemProvider{{
		Name:       "REFERENCE_SYSTEM",
		APIVersion: ml.Version{Major: 1, Minor: 5},
		Interface:  &System{},
	}}
})

// SystemProviders enumerates the system interface of the module.
func SystemProviders() ([]ml.SystemProvider, error) {
	return systemProviders(), nil
}

func (s *System) SystemContextCreate() (ml.SystemContextHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ml.SystemContextHandle(s.contexts.add(struct{}{})), nil
}

// SystemContextGetBinaryInfo returns the graph table of data in its generic form.
func (s *System) SystemContextGetBinaryInfo(h ml.SystemContextHandle, data []byte) (*ml.BinaryInfo, error) {
	s.mu.Lock()
	_, ok := s.contexts.get(uintptr(h))
	s.mu.Unlock()

	if !ok {
		return nil, ml.Errorf("systemContextGetBinaryInfo", ml.StatusInvalidHandle, "system context %d", h)
	}

	info, err := artifact.Inspect(data)
	if err != nil {
		return nil, ml.Errorf("systemContextGetBinaryInfo", ml.StatusContextBinary, "%w", err)
	}
	return info, nil
}

func (s *System) SystemContextFree(h ml.SystemContextHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts.remove(uintptr(h)); !ok {
		return ml.Errorf("systemContextFree", ml.StatusInvalidHandle, "system context %d", h)
	}
	return nil
}
