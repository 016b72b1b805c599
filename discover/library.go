// Modul: library.go
// Beschreibung: Suche nach Backend- und System-Modulen im Dateisystem.
// Enthaelt Suchpfad-Aufbau, Aufloesung von Modulnamen und Warnungen.

package discover

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/7blacky7/qnnrt/envconfig"
	"github.com/7blacky7/qnnrt/logutil"
)

// SDKTarget is the name of the library directory inside the SDK for the
// current platform.
func SDKTarget() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "android/arm64":
		return "aarch64-android"
	case "linux/arm64":
		return "aarch64-oe-linux-gcc11.2"
	case "windows/arm64":
		return "aarch64-windows-msvc"
	case "windows/amd64":
		return "x86_64-windows-msvc"
	default:
		return "x86_64-linux-clang"
	}
}

// LibraryDirs returns the directories searched for modules in order:
// QNN_LIBRARY_PATH, the SDK library directory, the directory of the running
// executable and finally LD_LIBRARY_PATH.
func LibraryDirs() []string {
	var dirs []string
	seen := make(map[string]struct{})
	add := func(dir string) {
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if _, ok := seen[dir]; ok {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	for _, dir := range envconfig.LibraryPath() {
		add(dir)
	}

	if root := envconfig.SDKRoot(); root != "" {
		add(filepath.Join(root, "lib", SDKTarget()))
	}

	if exe, err := os.Executable(); err == nil {
		if eval, err := filepath.EvalSymlinks(exe); err == nil {
			exe = eval
		}
		add(filepath.Dir(exe))
	}

	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		add(strings.TrimSpace(dir))
	}

	return dirs
}

// ResolveLibrary maps a module name to a file on disk. Names containing a
// path separator are returned unchanged; bare names are looked up in
// LibraryDirs. If nothing matches the name is returned as given so the loader
// can report its own error.
func ResolveLibrary(name string) string {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return name
	}

	dirs := LibraryDirs()
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			logutil.Trace("resolved module", "name", name, "path", candidate)
			return candidate
		}
	}

	slog.Debug("module not found in library path", "name", name, "searched", dirs)
	return name
}

// OverrideWarnings logs configuration that changes which modules get loaded.
func OverrideWarnings() {
	m := envconfig.AsMap()
	for _, k := range []string{
		"QNN_BACKEND_LIB",
		"QNN_SYSTEM_LIB",
		"QNN_LIBRARY_PATH",
	} {
		if e, found := m[k]; found {
			if s, ok := e.Value.(string); ok && s != "" && s != defaultValue(k) {
				slog.Warn("user overrode module selection", k, s)
			}
		}
	}
}

func defaultValue(k string) string {
	switch k {
	case "QNN_BACKEND_LIB":
		return "libQnnHtp.so"
	case "QNN_SYSTEM_LIB":
		return "libQnnSystem.so"
	}
	return ""
}
