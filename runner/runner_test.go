package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/qnnrt/arena"
	"github.com/7blacky7/qnnrt/graph"
	"github.com/7blacky7/qnnrt/ml"
	"github.com/7blacky7/qnnrt/ml/backend/reference"
	"github.com/7blacky7/qnnrt/session"
)

type fakeSession struct {
	failAt     int
	calls      int
	events     []ml.ProfileEventData
	registered []ml.MemDescriptor
	bound      bool
}

func (f *fakeSession) RegisterMemory(d ml.MemDescriptor) (ml.MemHandle, error) {
	f.registered = append(f.registered, d)
	return ml.MemHandle(len(f.registered)), nil
}

func (f *fakeSession) Bind(inputs, outputs []ml.TensorDescriptor) error {
	f.bound = true
	return nil
}

func (f *fakeSession) Execute() error {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("device lost")
	}
	return nil
}

func (f *fakeSession) ProfileEvents() ([]ml.ProfileEventData, error) {
	return f.events, nil
}

type sliceSink []ml.ProfileEventData

func (s *sliceSink) Append(e ml.ProfileEventData) error {
	*s = append(*s, e)
	return nil
}

func f32(name string, dims ...uint32) ml.TensorDescriptor {
	return ml.TensorDescriptor{Name: name, DType: ml.DTypeFloat32, Dims: dims}
}

func TestBindRaw(t *testing.T) {
	descs := []ml.TensorDescriptor{f32("a", 2, 2), f32("b", 3)}

	cases := []struct {
		name    string
		buffers [][]byte
		wantErr error
	}{
		{"ok", [][]byte{make([]byte, 16), make([]byte, 12)}, nil},
		{"count", [][]byte{make([]byte, 16)}, ErrBindMismatch},
		{"size", [][]byte{make([]byte, 16), make([]byte, 8)}, ErrBindMismatch},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var s fakeSession
			bound, err := Bind(&s, nil, descs, tt.buffers, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("erwartet %v, bekommen %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}

			for i, b := range bound {
				if b.MemType != ml.MemTypeRaw || len(b.Buffer) != len(tt.buffers[i]) {
					t.Errorf("tensor %d: erwartet raw mit %d Bytes, bekommen %s mit %d", i, len(tt.buffers[i]), b.MemType, len(b.Buffer))
				}
			}
			if len(s.registered) != 0 {
				t.Errorf("raw-Modus darf keinen Speicher registrieren")
			}
		})
	}
}

func sharedArena(t *testing.T) *arena.Arena {
	t.Helper()

	alloc, err := arena.DefaultLoader()
	if errors.Is(err, arena.ErrUnavailable) {
		t.Skip("no shared memory allocator on this platform")
	}
	require.NoError(t, err)

	a := arena.New(alloc)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestBindShared(t *testing.T) {
	a := sharedArena(t)

	desc := f32("a", 4)
	buf := a.Allocate(desc.ByteSize(), 8)
	require.NotNil(t, buf)

	var s fakeSession
	bound, err := Bind(&s, a, []ml.TensorDescriptor{desc}, [][]byte{buf}, true)
	require.NoError(t, err)

	if bound[0].MemType != ml.MemTypeMemHandle || bound[0].MemHandle != 1 {
		t.Errorf("erwartet memhandle 1, bekommen %s %d", bound[0].MemType, bound[0].MemHandle)
	}

	require.Len(t, s.registered, 1)
	fd, offset := a.ExportHandle(buf)
	want := ml.MemDescriptor{Dims: []uint32{4}, DType: ml.DTypeFloat32, FD: fd, Offset: offset}
	if diff := cmp.Diff(want, s.registered[0]); diff != "" {
		t.Errorf("MemDescriptor (-want +got):\n%s", diff)
	}

	_, err = Bind(&s, a, []ml.TensorDescriptor{desc}, [][]byte{make([]byte, 16)}, true)
	if !errors.Is(err, ErrNotShared) {
		t.Errorf("erwartet ErrNotShared, bekommen %v", err)
	}

	_, err = Bind(&s, nil, []ml.TensorDescriptor{desc}, [][]byte{buf}, true)
	if !errors.Is(err, arena.ErrArenaUninitialized) {
		t.Errorf("erwartet ErrArenaUninitialized, bekommen %v", err)
	}
}

func TestExecute(t *testing.T) {
	events := []ml.ProfileEventData{
		{Identifier: "Accelerator (execute) time", Value: 12, Unit: ml.ProfileEventUnitMicrosec},
		{Identifier: "Number of nodes executed", Value: 1, Unit: ml.ProfileEventUnitCount},
	}

	s := &fakeSession{events: events}
	var sink sliceSink

	stats, err := Execute(s, nil, nil, 3, &sink)
	require.NoError(t, err)

	if !s.bound || s.calls != 3 {
		t.Errorf("erwartet Bind und 3 Ausfuehrungen, bekommen bound=%v calls=%d", s.bound, s.calls)
	}
	if stats.Iterations != 3 || stats.Events != 6 || len(sink) != 6 {
		t.Errorf("erwartet 3 Iterationen und 6 Events, bekommen %+v, sink %d", stats, len(sink))
	}
	if stats.Min > stats.Avg || stats.Avg > stats.Max {
		t.Errorf("Statistik inkonsistent: %s", stats)
	}
}

func TestExecuteFailFast(t *testing.T) {
	s := &fakeSession{failAt: 2}

	stats, err := Execute(s, nil, nil, 5, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("erwartet ErrExecutionFailed, bekommen %v", err)
	}
	if s.calls != 2 {
		t.Errorf("erwartet Abbruch nach 2 Aufrufen, bekommen %d", s.calls)
	}
	if stats.Iterations != 1 {
		t.Errorf("erwartet 1 erfolgreiche Iteration, bekommen %d", stats.Iterations)
	}

	if _, err := Execute(&fakeSession{}, nil, nil, 0, nil); err == nil {
		t.Error("erwartet Fehler fuer 0 Iterationen")
	}
}

func TestCalculateStats(t *testing.T) {
	got := calculateStats([]time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}, 4)
	want := Stats{
		Iterations: 3,
		Total:      6 * time.Millisecond,
		Min:        time.Millisecond,
		Avg:        2 * time.Millisecond,
		Max:        3 * time.Millisecond,
		Events:     4,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(Stats{}, calculateStats(nil, 0)); diff != "" {
		t.Errorf("leere Statistik (-want +got):\n%s", diff)
	}
}

// =============================================================================
// End-to-End mit Referenz-Backend
// =============================================================================

func loadLinear(t *testing.T) *session.Session {
	t.Helper()

	cs, err := session.OpenForCompile(reference.ModulePath, "linear")
	require.NoError(t, err)
	require.NoError(t, graph.Linear(2, 4, 3).Build(cs))
	art, err := cs.FinalizeAndExport()
	require.NoError(t, err)
	require.NoError(t, cs.Close())

	s, err := session.OpenForLoad(reference.ModulePath, reference.SystemModulePath, art)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLinear(t *testing.T) {
	for _, shared := range []bool{false, true} {
		name := "raw"
		if shared {
			name = "shared"
		}

		t.Run(name, func(t *testing.T) {
			var a *arena.Arena
			if shared {
				a = sharedArena(t)
			}

			s := loadLinear(t)
			gi := s.Graph()

			alloc := func(desc ml.TensorDescriptor) []byte {
				if a == nil {
					return make([]byte, desc.ByteSize())
				}
				buf := a.Allocate(desc.ByteSize(), 8)
				require.NotNil(t, buf)
				return buf
			}

			in := alloc(gi.Inputs[0])
			fill, err := graph.Fill(gi.Inputs[0].DType, gi.Inputs[0].Elements(), 1)
			require.NoError(t, err)
			copy(in, fill)
			out := alloc(gi.Outputs[0])

			inputs, err := Bind(s, a, gi.Inputs, [][]byte{in}, shared)
			require.NoError(t, err)
			outputs, err := Bind(s, a, gi.Outputs, [][]byte{out}, shared)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "profile.txt")
			sink, err := OpenProfileLog(path)
			require.NoError(t, err)

			stats, err := Execute(s, inputs, outputs, 2, sink)
			require.NoError(t, err)
			require.NoError(t, sink.Close())

			got, err := graph.Decode(gi.Outputs[0].DType, out)
			require.NoError(t, err)
			if diff := cmp.Diff([]float32{4, 4, 4, 4, 4, 4}, got); diff != "" {
				t.Errorf("Ausgabe (-want +got):\n%s", diff)
			}

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) != stats.Events || stats.Events == 0 {
				t.Errorf("erwartet %d Zeilen, bekommen %d", stats.Events, len(lines))
			}
			if !strings.HasSuffix(lines[0], " (us)") {
				t.Errorf("erste Zeile ohne Einheit: %q", lines[0])
			}
		})
	}
}
