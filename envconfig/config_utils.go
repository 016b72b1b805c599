// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault liest einen Bool mit Default-Wert. Ein gesetzter, aber
// unlesbarer Wert zaehlt als true (QNN_SHARED_BUFFER=yes schaltet ein).
func BoolWithDefault(key string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		s := Var(key)
		if s == "" {
			return defaultValue
		}

		b, err := strconv.ParseBool(s)
		if err != nil {
			slog.Debug("non-boolean environment variable treated as enabled", "key", key, "value", s)
			return true
		}
		return b
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"QNN_DEBUG":         {"QNN_DEBUG", LogLevel(), "Show additional debug information (e.g. QNN_DEBUG=1)"},
		"QNN_BACKEND_LIB":   {"QNN_BACKEND_LIB", BackendLib(), "Backend module to load (default libQnnHtp.so)"},
		"QNN_SYSTEM_LIB":    {"QNN_SYSTEM_LIB", SystemLib(), "System module used for binary introspection (default libQnnSystem.so)"},
		"QNN_SDK_ROOT":      {"QNN_SDK_ROOT", SDKRoot(), "Root of the accelerator SDK, searched for modules"},
		"QNN_LIBRARY_PATH":  {"QNN_LIBRARY_PATH", LibraryPath(), "Additional directories searched for modules"},
		"QNN_HTP_ARCH":      {"QNN_HTP_ARCH", HTPArch(), "Accelerator architecture passed at device creation (default v73)"},
		"QNN_SHARED_BUFFER": {"QNN_SHARED_BUFFER", SharedBuffer(), "Bind tensors through exported shared memory handles"},
		"QNN_ITERATIONS":    {"QNN_ITERATIONS", Iterations(), "Number of graph executions per run (default 10)"},
		"QNN_ALIGNMENT":     {"QNN_ALIGNMENT", Alignment(), "Byte alignment of shared memory buffers (default 8)"},
		"QNN_PROFILE_PATH":  {"QNN_PROFILE_PATH", ProfilePath(), "Append-only profiling log (default qnn_profile_data.txt)"},
		"QNN_LOG_FILE":      {"QNN_LOG_FILE", LogFile(), "Also write logs to this rotating file"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
