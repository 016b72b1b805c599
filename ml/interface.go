// interface.go - Capability-Tabelle des Accelerator-Backends
//
// Dieses Modul definiert die Schnittstelle, ueber die ein dynamisch geladenes
// Backend-Modul angesprochen wird:
// - Handles: opake, vom Backend verwaltete Ressourcen-IDs
// - Interface: Funktionstabelle (Log, Backend, Device, Context, Graph, Profile, Mem)
// - SystemInterface: Introspektion von Context-Binaries
// - StatusError: Fehler mit Backend-Statuscode
package ml

import (
	"fmt"
	"log/slog"
)

// Opaque backend handles. The zero value is never a valid handle.
type (
	LogHandle           uintptr
	BackendHandle       uintptr
	DeviceHandle        uintptr
	ContextHandle       uintptr
	GraphHandle         uintptr
	ProfileHandle       uintptr
	MemHandle           uintptr
	SystemContextHandle uintptr
)

// Status is a backend status code. StatusSuccess is the only non-error value.
type Status uint64

const (
	StatusSuccess Status = 0

	StatusGeneralError     Status = 1000
	StatusInvalidArgument  Status = 1001
	StatusInvalidHandle    Status = 1002
	StatusUnsupported      Status = 1003
	StatusMemAllocFailed   Status = 1004
	StatusDeviceArch       Status = 1005
	StatusGraphInvalidName Status = 6000
	StatusGraphInvalidOp   Status = 6001
	StatusGraphInvalidTens Status = 6002
	StatusGraphNotFinal    Status = 6003
	StatusGraphExecution   Status = 6004
	StatusContextBinary    Status = 5000
	StatusContextBinarySz  Status = 5001
)

// StatusError wraps a non-success status returned from a backend call.
type StatusError struct {
	Op     string
	Code   Status
	Detail string

	// Err is the cause reported by the backend, if any.
	Err error
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Errorf creates a StatusError for op. Errors formatted with %w stay
// reachable through errors.Is and errors.As.
func Errorf(op string, code Status, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &StatusError{Op: op, Code: code, Detail: err.Error(), Err: err}
}

// LogLevel is the verbosity requested from the backend logger.
type LogLevel uint32

const (
	LogLevelError LogLevel = iota + 1
	LogLevelWarn
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// SlogLevel maps a backend log level to slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// LogCallback receives backend log messages.
type LogCallback func(level LogLevel, msg string)

// ConfigOption is a generic key/value configuration passed to BackendCreate
// and ContextCreate. Unknown keys are ignored by backends.
type ConfigOption struct {
	Key   string
	Value any
}

// Interface is the capability table of an accelerator backend. Every method
// corresponds to one entry of the native function table; a non-nil error is
// a non-success status.
type Interface interface {
	LogCreate(cb LogCallback, level LogLevel) (LogHandle, error)
	LogFree(LogHandle) error

	BackendCreate(LogHandle, []ConfigOption) (BackendHandle, error)
	BackendFree(BackendHandle) error

	DeviceCreate(LogHandle, []DeviceConfig) (DeviceHandle, error)
	DeviceFree(DeviceHandle) error

	ContextCreate(BackendHandle, DeviceHandle, []ConfigOption) (ContextHandle, error)
	ContextCreateFromBinary(BackendHandle, DeviceHandle, []ConfigOption, []byte) (ContextHandle, error)
	ContextGetBinarySize(ContextHandle) (uint64, error)
	ContextGetBinary(ContextHandle, []byte) (uint64, error)
	ContextFree(ContextHandle, ProfileHandle) error

	GraphCreate(ContextHandle, string) (GraphHandle, error)
	GraphRetrieve(ContextHandle, string) (GraphHandle, error)
	GraphAddNode(GraphHandle, OpConfig) error
	GraphFinalize(GraphHandle, ProfileHandle) error
	GraphExecute(g GraphHandle, inputs, outputs []TensorDescriptor, p ProfileHandle) error

	TensorCreateGraphTensor(GraphHandle, *TensorDescriptor) error

	ProfileCreate(BackendHandle, ProfileLevel) (ProfileHandle, error)
	ProfileSetConfig(ProfileHandle, []ProfileConfig) error
	ProfileGetEvents(ProfileHandle) ([]ProfileEventID, error)
	ProfileGetEventData(ProfileEventID) (ProfileEventData, error)
	ProfileFree(ProfileHandle) error

	MemRegister(ContextHandle, MemDescriptor) (MemHandle, error)
	MemDeRegister(MemHandle) error
}

// SystemInterface is the capability table of the companion system module used
// for binary introspection.
type SystemInterface interface {
	SystemContextCreate() (SystemContextHandle, error)
	SystemContextGetBinaryInfo(SystemContextHandle, []byte) (*BinaryInfo, error)
	SystemContextFree(SystemContextHandle) error
}

// Provider is one capability table offered by a backend module.
type Provider struct {
	Name              string
	BackendID         uint32
	CoreAPIVersion    Version
	BackendAPIVersion Version
	Interface         Interface
}

// LogValue implements slog.LogValuer.
func (p Provider) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", p.Name),
		slog.Uint64("backend_id", uint64(p.BackendID)),
		slog.String("backend_api", p.BackendAPIVersion.String()),
		slog.String("core_api", p.CoreAPIVersion.String()),
	)
}

// SystemProvider is one capability table offered by a system module.
type SystemProvider struct {
	Name       string
	APIVersion Version
	Interface  SystemInterface
}

// BinaryInfo is the version independent view of a context binary.
type BinaryInfo struct {
	Version uint32
	Graphs  []GraphInfo
}

// Graph returns the graph called name.
func (b *BinaryInfo) Graph(name string) (GraphInfo, bool) {
	for _, g := range b.Graphs {
		if g.Name == name {
			return g, true
		}
	}
	return GraphInfo{}, false
}

// GraphNames gibt alle Graph-Namen in Reihenfolge zurueck
func (b *BinaryInfo) GraphNames() []string {
	names := make([]string, len(b.Graphs))
	for i, g := range b.Graphs {
		names[i] = g.Name
	}
	return names
}

// GraphInfo lists the external tensors of one graph.
type GraphInfo struct {
	Name    string
	Inputs  []TensorDescriptor
	Outputs []TensorDescriptor
}
