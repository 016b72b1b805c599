package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLibrary(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "libQnnTest.so")
	if err := os.WriteFile(lib, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QNN_LIBRARY_PATH", dir)
	t.Setenv("QNN_SDK_ROOT", "")
	t.Setenv("LD_LIBRARY_PATH", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"found in library path", "libQnnTest.so", lib},
		{"not found", "libMissing.so", "libMissing.so"},
		{"path unchanged", "/opt/qnn/libQnnHtp.so", "/opt/qnn/libQnnHtp.so"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveLibrary(tt.in); got != tt.want {
				t.Errorf("ResolveLibrary(%q): erwartet %q, bekommen %q", tt.in, tt.want, got)
			}
		})
	}
}

func TestLibraryDirsOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	t.Setenv("QNN_LIBRARY_PATH", first+string(filepath.ListSeparator)+second+string(filepath.ListSeparator)+first)
	t.Setenv("QNN_SDK_ROOT", "/opt/qnn")
	t.Setenv("LD_LIBRARY_PATH", "")

	dirs := LibraryDirs()
	if len(dirs) < 3 {
		t.Fatalf("erwartet mindestens 3 Verzeichnisse, bekommen %v", dirs)
	}
	if dirs[0] != first || dirs[1] != second {
		t.Errorf("erwartet %q, %q am Anfang, bekommen %v", first, second, dirs)
	}
	if want := filepath.Join("/opt/qnn", "lib", SDKTarget()); dirs[2] != want {
		t.Errorf("erwartet SDK-Verzeichnis %q, bekommen %q", want, dirs[2])
	}
}
