// reference.go - Software-Referenz-Backend
//
// Dieses Modul enthaelt:
// - init(): registriert das Backend-Modul und das System-Modul als In-Process-Module
// - Providers: zwei Capability-Tabellen mit unterschiedlicher API-Version
// - Backend: Zustand einer Capability-Tabelle (Handles, Logger, Konfiguration)
// - Log-, Backend- und Device-Funktionen der Tabelle
package reference

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

// Module paths under which the reference backend is registered.
const (
	ModulePath       = "libQnnReference.so"
	SystemModulePath = "libQnnReferenceSystem.so"
)

// BackendID identifies artifacts produced by this backend.
const BackendID uint32 = 0x52

// OptionArtifactVersion selects the schema version written by
// ContextGetBinary. Accepts any integer type; default artifact.LatestVersion.
const OptionArtifactVersion = "artifact_version"

func init() {
	ml.RegisterModule(ModulePath, map[string]any{
		ml.InterfaceEntryPoint: ml.ProvidersFunc(Providers),
	})
	ml.RegisterModule(SystemModulePath, map[string]any{
		ml.SystemInterfaceEntryPoint: ml.SystemProvidersFunc(SystemProviders),
	})
}

var providers = sync.OnceValue(func() []ml.Provider {
	return []ml.Provider{
		{
			Name:              "REFERENCE_QTI_AISW_2_20",
			BackendID:         BackendID,
			CoreAPIVersion:    ml.Version{Major: 2, Minor: 14},
			BackendAPIVersion: ml.Version{Major: 2, Minor: 20},
			Interface:         newBackend(ml.Version{Major: 2, Minor: 20}),
		},
		{
			Name:              "REFERENCE_QTI_AISW_2_21",
			BackendID:         BackendID,
			CoreAPIVersion:    ml.Version{Major: 2, Minor: 15},
			BackendAPIVersion: ml.Version{Major: 2, Minor: 21},
			Interface:         newBackend(ml.Version{Major: 2, Minor: 21}),
		},
	}
})

// Providers enumerates the capability tables of the module.
func Providers() ([]ml.Provider, error) {
	return providers(), nil
}

// Backend is one capability table. All methods are safe for concurrent use.
type Backend struct {
	api ml.Version

	mu sync.Mutex

	logs     handles[*logger]
	backends handles[*backendConfig]
	devices  handles[ml.DeviceConfig]
	contexts handles[*context]
	graphs   handles[*graph]
	profiles handles[*profiler]
	events   handles[ml.ProfileEventData]
	mems     handles[*memRegion]
}

var _ ml.Interface = (*Backend)(nil)

func newBackend(api ml.Version) *Backend {
	return &Backend{api: api}
}

// New returns a standalone capability table, independent of the registered
// providers.
func New() *Backend {
	return newBackend(ml.Version{Major: 2, Minor: 21})
}

// =============================================================================
// Logger
// =============================================================================

type logger struct {
	cb    ml.LogCallback
	level ml.LogLevel
}

func (l *logger) logf(level ml.LogLevel, format string, args ...any) {
	if l == nil || l.cb == nil || level > l.level {
		return
	}
	l.cb(level, fmt.Sprintf(format, args...))
}

func (b *Backend) LogCreate(cb ml.LogCallback, level ml.LogLevel) (ml.LogHandle, error) {
	if level < ml.LogLevelError || level > ml.LogLevelDebug {
		return 0, ml.Errorf("logCreate", ml.StatusInvalidArgument, "log level %d", level)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return ml.LogHandle(b.logs.add(&logger{cb: cb, level: level})), nil
}

func (b *Backend) LogFree(h ml.LogHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.logs.remove(uintptr(h)); !ok {
		return ml.Errorf("logFree", ml.StatusInvalidHandle, "log %d", h)
	}
	return nil
}

// =============================================================================
// Backend
// =============================================================================

type backendConfig struct {
	log             *logger
	artifactVersion uint32
}

func (b *Backend) BackendCreate(lh ml.LogHandle, opts []ml.ConfigOption) (ml.BackendHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.logs.get(uintptr(lh))
	if !ok {
		return 0, ml.Errorf("backendCreate", ml.StatusInvalidHandle, "log %d", lh)
	}

	cfg := &backendConfig{log: l, artifactVersion: artifact.LatestVersion}
	for _, opt := range opts {
		switch opt.Key {
		case OptionArtifactVersion:
			v, ok := toUint32(opt.Value)
			if !ok || v < artifact.Version1 || v > artifact.LatestVersion {
				return 0, ml.Errorf("backendCreate", ml.StatusInvalidArgument, "%s=%v", opt.Key, opt.Value)
			}
			cfg.artifactVersion = v
		default:
			slog.Debug("ignoring backend option", "key", opt.Key)
		}
	}

	l.logf(ml.LogLevelInfo, "reference backend %s created, artifact version %d", b.api, cfg.artifactVersion)
	return ml.BackendHandle(b.backends.add(cfg)), nil
}

func (b *Backend) BackendFree(h ml.BackendHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.backends.remove(uintptr(h)); !ok {
		return ml.Errorf("backendFree", ml.StatusInvalidHandle, "backend %d", h)
	}
	return nil
}

// =============================================================================
// Device
// =============================================================================

func (b *Backend) DeviceCreate(lh ml.LogHandle, cfgs []ml.DeviceConfig) (ml.DeviceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.logs.get(uintptr(lh))
	if !ok {
		return 0, ml.Errorf("deviceCreate", ml.StatusInvalidHandle, "log %d", lh)
	}

	if len(cfgs) == 0 {
		return 0, ml.Errorf("deviceCreate", ml.StatusDeviceArch, "no architecture configured")
	}

	cfg := cfgs[0]
	if !cfg.Arch.Supported() {
		return 0, ml.Errorf("deviceCreate", ml.StatusDeviceArch, "architecture %s", cfg.Arch)
	}

	l.logf(ml.LogLevelVerbose, "device %d created for %s", cfg.DeviceID, cfg.Arch)
	return ml.DeviceHandle(b.devices.add(cfg)), nil
}

func (b *Backend) DeviceFree(h ml.DeviceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.devices.remove(uintptr(h)); !ok {
		return ml.Errorf("deviceFree", ml.StatusInvalidHandle, "device %d", h)
	}
	return nil
}

func toUint32(v any) (uint32, bool) {
	switch v := v.(type) {
	case int:
		return uint32(v), v >= 0
	case int64:
		return uint32(v), v >= 0
	case uint:
		return uint32(v), true
	case uint32:
		return v, true
	case uint64:
		return uint32(v), true
	default:
		return 0, false
	}
}
