// module.go - Laden von Backend- und System-Modulen
//
// Dieses Modul enthaelt:
// - RegisterModule: registriert ein In-Process-Modul (aus init() der Backends)
// - OpenModule: oeffnet ein registriertes Modul oder ein Go-Plugin
// - Module.Lookup: loest einen Einstiegspunkt auf (entspricht dlsym)
package ml

import (
	"errors"
	"fmt"
	"log/slog"
	"plugin"
	"sync"

	"github.com/7blacky7/qnnrt/discover"
)

// Well-known provider enumeration entry points.
const (
	InterfaceEntryPoint       = "QnnInterface_getProviders"
	SystemInterfaceEntryPoint = "QnnSystemInterface_getProviders"
)

var (
	// ErrModuleLoad is returned when a module cannot be mapped.
	ErrModuleLoad = errors.New("module load error")
	// ErrSymbolMissing is returned when the provider enumeration entry point is absent.
	ErrSymbolMissing = errors.New("symbol missing")
)

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]map[string]any)
)

// RegisterModule registers an in-process module under path. symbols maps
// entry point names to their implementation, typically InterfaceEntryPoint to
// a func() ([]Provider, error).
func RegisterModule(path string, symbols map[string]any) {
	modulesMu.Lock()
	defer modulesMu.Unlock()

	if _, ok := modules[path]; ok {
		panic("ml: module already registered: " + path)
	}

	modules[path] = symbols
}

// RegisteredModules gibt die Pfade aller In-Process-Module zurueck
func RegisteredModules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	paths := make([]string, 0, len(modules))
	for path := range modules {
		paths = append(paths, path)
	}
	return paths
}

// Module is a loaded backend or system module. It must outlive every handle
// created through its providers.
type Module struct {
	Path string

	lookup func(string) (any, error)

	mu     sync.Mutex
	closed bool
}

// OpenModule maps the module at path. Registered in-process modules take
// precedence; anything else is resolved through the library search path and
// opened as a Go plugin.
func OpenModule(path string) (*Module, error) {
	modulesMu.RLock()
	symbols, ok := modules[path]
	modulesMu.RUnlock()

	if ok {
		slog.Debug("using in-process module", "path", path)
		return &Module{
			Path: path,
			lookup: func(name string) (any, error) {
				if s, ok := symbols[name]; ok {
					return s, nil
				}
				return nil, fmt.Errorf("symbol %s not found", name)
			},
		}, nil
	}

	resolved := discover.ResolveLibrary(path)
	p, err := plugin.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}

	slog.Debug("loaded plugin module", "path", path, "resolved", resolved)
	return &Module{
		Path: resolved,
		lookup: func(name string) (any, error) {
			s, err := p.Lookup(name)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}, nil
}

// Lookup resolves an exported symbol.
func (m *Module) Lookup(name string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %s: module closed", ErrModuleLoad, m.Path)
	}

	s, err := m.lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s: %v", ErrSymbolMissing, name, m.Path, err)
	}
	return s, nil
}

// Close releases the module. Go plugins cannot be unmapped, so after Close
// only further lookups are refused.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		slog.Debug("closing module", "path", m.Path)
		m.closed = true
	}
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
