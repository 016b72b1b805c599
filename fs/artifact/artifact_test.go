package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/qnnrt/ml"
)

func testGraphs() []GraphRecord {
	return []GraphRecord{
		{
			Name: "linear_graph",
			Inputs: []ml.TensorDescriptor{
				{ID: 1, Name: "input", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat16, Dims: []uint32{1, 4}},
			},
			Outputs: []ml.TensorDescriptor{
				{ID: 4, Name: "output", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat16, Dims: []uint32{1, 2}},
			},
			VTCMSize:      8 << 20,
			SpillFillSize: 4096,
		},
		{
			Name: "matmul_graph",
			Inputs: []ml.TensorDescriptor{
				{ID: 1, Name: "a", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{2, 3}},
				{ID: 2, Name: "b", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{3, 2}},
			},
			Outputs: []ml.TensorDescriptor{
				{ID: 3, Name: "c", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{2, 2}},
			},
		},
	}
}

func encode(t *testing.T, version uint32, graphs []GraphRecord, payload []byte) []byte {
	t.Helper()

	var b bytes.Buffer
	require.NoError(t, Write(&b, version, 7, graphs, payload))
	return b.Bytes()
}

func TestInspectAllVersions(t *testing.T) {
	graphs := testGraphs()

	want := &ml.BinaryInfo{Graphs: make([]ml.GraphInfo, len(graphs))}
	for i, g := range graphs {
		want.Graphs[i] = ml.GraphInfo{Name: g.Name, Inputs: g.Inputs, Outputs: g.Outputs}
	}

	for _, version := range []uint32{Version1, Version2, Version3} {
		t.Run("v"+string(rune('0'+version)), func(t *testing.T) {
			info, err := Inspect(encode(t, version, graphs, []byte("payload")))
			require.NoError(t, err)

			if info.Version != version {
				t.Errorf("Version: erwartet %d, bekommen %d", version, info.Version)
			}

			want.Version = version
			if diff := cmp.Diff(want, info); diff != "" {
				t.Errorf("Inspect mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenAccessors(t *testing.T) {
	graphs := testGraphs()
	graphs[0].Inputs[0].DynamicDims = []bool{true, false}

	tests := []struct {
		version   uint32
		backendID uint32
		vtcm      uint64
		dynamic   []bool
	}{
		{Version1, 0, 0, nil},
		{Version2, 0, 0, []bool{true, false}},
		{Version3, 7, 8 << 20, []bool{true, false}},
	}

	for _, tt := range tests {
		data := encode(t, tt.version, graphs, []byte{1, 2, 3})

		f, err := Open(data)
		require.NoError(t, err)

		if f.Version() != tt.version || f.BackendID() != tt.backendID {
			t.Errorf("v%d: erwartet backend %d, bekommen version %d backend %d", tt.version, tt.backendID, f.Version(), f.BackendID())
		}

		if f.NumGraphs() != 2 {
			t.Fatalf("v%d: erwartet 2 Graphen, bekommen %d", tt.version, f.NumGraphs())
		}

		g, ok := f.GraphByName("linear_graph")
		require.True(t, ok)

		if g.VTCMSize() != tt.vtcm {
			t.Errorf("v%d VTCMSize: erwartet %d, bekommen %d", tt.version, tt.vtcm, g.VTCMSize())
		}

		if diff := cmp.Diff(tt.dynamic, g.Input(0).DynamicDims); diff != "" {
			t.Errorf("v%d DynamicDims (-want +got):\n%s", tt.version, diff)
		}

		if !bytes.Equal(f.Payload(), []byte{1, 2, 3}) {
			t.Errorf("v%d Payload: bekommen %v", tt.version, f.Payload())
		}

		if _, ok := f.GraphByName("missing"); ok {
			t.Errorf("v%d: unbekannter Graph gefunden", tt.version)
		}
	}
}

func TestNamesBorrowArtifact(t *testing.T) {
	data := encode(t, Version3, testGraphs(), nil)

	f, err := Open(data)
	require.NoError(t, err)

	name := f.Graph(0).Name()
	p := uintptr(unsafe.Pointer(unsafe.StringData(name)))
	start := uintptr(unsafe.Pointer(&data[0]))
	if p < start || p >= start+uintptr(len(data)) {
		t.Errorf("Name %q liegt nicht im Artefakt-Speicher", name)
	}
}

func TestOpenErrors(t *testing.T) {
	valid := encode(t, Version2, testGraphs(), []byte("xyz"))

	withVersion := func(v uint32) []byte {
		b := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(b[4:], v)
		return b
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrCorrupt},
		{"short header", []byte("QNN"), ErrCorrupt},
		{"bad magic", append([]byte("GGUF"), valid[4:]...), ErrInvalidMagic},
		{"version 0", withVersion(0), ErrUnsupportedVersion},
		{"version 4", withVersion(4), ErrUnsupportedVersion},
		{"trailing bytes", append(bytes.Clone(valid), 0), ErrCorrupt},
		{"huge graph count", append(append([]byte("QNNC"), 2, 0, 0, 0), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f), ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inspect(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("erwartet %v, bekommen %v", tt.want, err)
			}
		})
	}
}

func TestOpenTruncated(t *testing.T) {
	for _, version := range []uint32{Version1, Version2, Version3} {
		data := encode(t, version, testGraphs(), []byte("payload"))

		for n := range len(data) {
			if _, err := Open(data[:n]); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("v%d mit %d von %d Bytes: erwartet ErrCorrupt, bekommen %v", version, n, len(data), err)
			}
		}
	}
}

func TestV1StringTerminator(t *testing.T) {
	data := encode(t, Version1, testGraphs(), nil)

	// header (8) + graph count (4) + name length (4) + "linear_graph"
	data[16+len("linear_graph")] = 'x'

	if _, err := Open(data); !errors.Is(err, ErrCorrupt) {
		t.Errorf("erwartet ErrCorrupt, bekommen %v", err)
	}
}

func TestWriteUnsupportedVersion(t *testing.T) {
	var b bytes.Buffer
	if err := Write(&b, 9, 0, nil, nil); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("erwartet ErrUnsupportedVersion, bekommen %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("erwartet leere Ausgabe, bekommen %d Bytes", b.Len())
	}
}
