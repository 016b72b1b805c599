// backend.go - Provider-Registry fuer Backend- und System-Module
// Dieses Modul entdeckt die Capability-Tabellen eines Moduls und waehlt eine aus.
package ml

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/mod/semver"
)

// ErrNoProvider is returned when a module offers no provider.
var ErrNoProvider = errors.New("no provider")

// ExpectedCoreAPIVersion is the core API this runtime was written against.
var ExpectedCoreAPIVersion = Version{Major: 2, Minor: 14}

// ProvidersFunc is the signature of InterfaceEntryPoint.
type ProvidersFunc = func() ([]Provider, error)

// SystemProvidersFunc is the signature of SystemInterfaceEntryPoint.
type SystemProvidersFunc = func() ([]SystemProvider, error)

// Discover enumerates the providers offered by the module at path. The module
// is returned open; the caller owns it and must close it after every handle
// derived from the providers is released.
func Discover(path string) (*Module, []Provider, error) {
	m, err := OpenModule(path)
	if err != nil {
		return nil, nil, err
	}

	sym, err := m.Lookup(InterfaceEntryPoint)
	if err != nil {
		m.Close()
		return nil, nil, err
	}

	fn, ok := sym.(ProvidersFunc)
	if !ok {
		if p, isPtr := sym.(*ProvidersFunc); isPtr && p != nil {
			fn, ok = *p, true
		}
	}
	if !ok || fn == nil {
		m.Close()
		return nil, nil, fmt.Errorf("%w: %s in %s has type %T", ErrSymbolMissing, InterfaceEntryPoint, path, sym)
	}

	providers, err := fn()
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("%s: enumerating providers: %w", path, err)
	}

	return m, providers, nil
}

// DiscoverSystem enumerates the providers of a system module.
func DiscoverSystem(path string) (*Module, []SystemProvider, error) {
	m, err := OpenModule(path)
	if err != nil {
		return nil, nil, err
	}

	sym, err := m.Lookup(SystemInterfaceEntryPoint)
	if err != nil {
		m.Close()
		return nil, nil, err
	}

	fn, ok := sym.(SystemProvidersFunc)
	if !ok {
		if p, isPtr := sym.(*SystemProvidersFunc); isPtr && p != nil {
			fn, ok = *p, true
		}
	}
	if !ok || fn == nil {
		m.Close()
		return nil, nil, fmt.Errorf("%w: %s in %s has type %T", ErrSymbolMissing, SystemInterfaceEntryPoint, path, sym)
	}

	providers, err := fn()
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("%s: enumerating system providers: %w", path, err)
	}

	return m, providers, nil
}

// Select picks the provider to use. Every candidate is logged and the last
// one offered wins; versions are not compared.
//
// TODO: replace last-wins with an explicit policy once the backend vendor
// documents how multiple providers of one module are meant to be ranked.
func Select(providers []Provider) (Provider, error) {
	if len(providers) == 0 {
		return Provider{}, ErrNoProvider
	}

	var selected Provider
	for _, p := range providers {
		slog.Info("interface provider",
			"provider", p.Name,
			"backend_id", p.BackendID,
			"backend_api", p.BackendAPIVersion.String(),
			"core_api", p.CoreAPIVersion.String(),
			"compatible", Compatible(p.CoreAPIVersion))
		selected = p
	}

	if selected.Interface == nil {
		return Provider{}, fmt.Errorf("%w: provider %q has no interface", ErrNoProvider, selected.Name)
	}

	return selected, nil
}

// SelectSystem picks the first system provider, as the system module only
// ever offers one table per API.
func SelectSystem(providers []SystemProvider) (SystemProvider, error) {
	if len(providers) == 0 || providers[0].Interface == nil {
		return SystemProvider{}, fmt.Errorf("%w: system module", ErrNoProvider)
	}

	slog.Debug("system provider", "provider", providers[0].Name, "api", providers[0].APIVersion.String())
	return providers[0], nil
}

// Compatible reports whether v has the expected major core API version and
// at least the expected minor version.
func Compatible(v Version) bool {
	have, want := "v"+v.String(), "v"+ExpectedCoreAPIVersion.String()
	if !semver.IsValid(have) {
		return false
	}
	return semver.Major(have) == semver.Major(want) && semver.Compare(have, want) >= 0
}
