package reference

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/7blacky7/qnnrt/arena"
	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

type fixture struct {
	b   *Backend
	log ml.LogHandle
	be  ml.BackendHandle
	dev ml.DeviceHandle
	ctx ml.ContextHandle
}

func newFixture(t *testing.T, opts ...ml.ConfigOption) *fixture {
	t.Helper()

	f := &fixture{b: New()}

	var err error
	f.log, err = f.b.LogCreate(func(level ml.LogLevel, msg string) { t.Log(msg) }, ml.LogLevelDebug)
	require.NoError(t, err)

	f.be, err = f.b.BackendCreate(f.log, opts)
	require.NoError(t, err)

	f.dev, err = f.b.DeviceCreate(f.log, []ml.DeviceConfig{{Arch: ml.HTPArchV73}})
	require.NoError(t, err)

	f.ctx, err = f.b.ContextCreate(f.be, f.dev, nil)
	require.NoError(t, err)

	return f
}

func f32Bytes(vs ...float32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// linear builds y = relu(x * w^T + bias) with x [1,3], w [2,3].
func (f *fixture) linear(t *testing.T, name string) ml.GraphHandle {
	t.Helper()

	g, err := f.b.GraphCreate(f.ctx, name)
	require.NoError(t, err)

	x := ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{1, 3}}
	w := ml.TensorDescriptor{Name: "w", Type: ml.TensorTypeStatic, DType: ml.DTypeFloat32, Dims: []uint32{2, 3}}
	w = w.WithBuffer(f32Bytes(1, 2, 3, -1, -2, -3))
	bias := ml.TensorDescriptor{Name: "bias", Type: ml.TensorTypeStatic, DType: ml.DTypeFloat32, Dims: []uint32{2}}
	bias = bias.WithBuffer(f32Bytes(0.5, 1))
	fc := ml.TensorDescriptor{Name: "fc", Type: ml.TensorTypeNative, DType: ml.DTypeFloat32, Dims: []uint32{1, 2}}
	y := ml.TensorDescriptor{Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{1, 2}}

	for _, td := range []*ml.TensorDescriptor{&x, &w, &bias, &fc, &y} {
		require.NoError(t, f.b.TensorCreateGraphTensor(g, td))
	}

	require.NoError(t, f.b.GraphAddNode(g, ml.OpConfig{
		Name: "fc0", PackageName: ml.OpPackageNameQtiAisw, TypeName: ml.OpFullyConnected,
		Inputs: []ml.TensorDescriptor{x, w, bias}, Outputs: []ml.TensorDescriptor{fc},
	}))
	require.NoError(t, f.b.GraphAddNode(g, ml.OpConfig{
		Name: "relu0", PackageName: ml.OpPackageNameQtiAisw, TypeName: ml.OpRelu,
		Inputs: []ml.TensorDescriptor{fc}, Outputs: []ml.TensorDescriptor{y},
	}))

	return g
}

func statusCode(err error) ml.Status {
	var se *ml.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return ml.StatusSuccess
}

func TestProvidersLastDiffers(t *testing.T) {
	ps, err := Providers()
	require.NoError(t, err)

	if len(ps) != 2 {
		t.Fatalf("erwartet 2 Provider, bekommen %d", len(ps))
	}

	selected, err := ml.Select(ps)
	require.NoError(t, err)

	if selected.Name != ps[1].Name {
		t.Errorf("erwartet %q, bekommen %q", ps[1].Name, selected.Name)
	}
}

func TestCompileLoadExecute(t *testing.T) {
	for _, version := range []uint32{artifact.Version1, artifact.Version2, artifact.Version3} {
		t.Run(string(rune('0'+version)), func(t *testing.T) {
			f := newFixture(t, ml.ConfigOption{Key: OptionArtifactVersion, Value: int(version)})
			g := f.linear(t, "linear")
			require.NoError(t, f.b.GraphFinalize(g, 0))

			size, err := f.b.ContextGetBinarySize(f.ctx)
			require.NoError(t, err)
			require.NotZero(t, size)

			buf := make([]byte, size)
			written, err := f.b.ContextGetBinary(f.ctx, buf)
			require.NoError(t, err)
			require.Equal(t, size, written)

			info, err := artifact.Inspect(buf)
			require.NoError(t, err)
			require.Equal(t, version, info.Version)
			require.Equal(t, []string{"linear"}, info.GraphNames())

			loaded, err := f.b.ContextCreateFromBinary(f.be, f.dev, nil, buf)
			require.NoError(t, err)

			lg, err := f.b.GraphRetrieve(loaded, "linear")
			require.NoError(t, err)

			gi, _ := info.Graph("linear")
			in := gi.Inputs[0].WithBuffer(f32Bytes(1, 1, 1))
			out := gi.Outputs[0].WithBuffer(make([]byte, 8))

			require.NoError(t, f.b.GraphExecute(lg, []ml.TensorDescriptor{in}, []ml.TensorDescriptor{out}, 0))

			// [1+2+3+0.5, relu(-6+1)]
			if diff := cmp.Diff(f32Bytes(6.5, 0), out.Buffer); diff != "" {
				t.Errorf("Ausgabe (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFinalizeErrors(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		f := newFixture(t)
		g, err := f.b.GraphCreate(f.ctx, "empty")
		require.NoError(t, err)

		if code := statusCode(f.b.GraphFinalize(g, 0)); code != ml.StatusGraphInvalidOp {
			t.Errorf("erwartet %d, bekommen %d", ml.StatusGraphInvalidOp, code)
		}
	})

	t.Run("undeclared tensor", func(t *testing.T) {
		f := newFixture(t)
		g, err := f.b.GraphCreate(f.ctx, "bad")
		require.NoError(t, err)

		x := ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{4}}
		require.NoError(t, f.b.TensorCreateGraphTensor(g, &x))
		ghost := ml.TensorDescriptor{ID: 42, Name: "ghost", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{4}}

		require.NoError(t, f.b.GraphAddNode(g, ml.OpConfig{
			Name: "relu", PackageName: ml.OpPackageNameQtiAisw, TypeName: ml.OpRelu,
			Inputs: []ml.TensorDescriptor{x}, Outputs: []ml.TensorDescriptor{ghost},
		}))

		if code := statusCode(f.b.GraphFinalize(g, 0)); code != ml.StatusGraphInvalidTens {
			t.Errorf("erwartet %d, bekommen %d", ml.StatusGraphInvalidTens, code)
		}
	})

	t.Run("unknown op", func(t *testing.T) {
		f := newFixture(t)
		g, err := f.b.GraphCreate(f.ctx, "softmax")
		require.NoError(t, err)

		x := ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{4}}
		y := ml.TensorDescriptor{Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{4}}
		require.NoError(t, f.b.TensorCreateGraphTensor(g, &x))
		require.NoError(t, f.b.TensorCreateGraphTensor(g, &y))
		require.NoError(t, f.b.GraphAddNode(g, ml.OpConfig{
			Name: "sm", PackageName: ml.OpPackageNameQtiAisw, TypeName: "Softmax",
			Inputs: []ml.TensorDescriptor{x}, Outputs: []ml.TensorDescriptor{y},
		}))

		if code := statusCode(f.b.GraphFinalize(g, 0)); code != ml.StatusGraphInvalidOp {
			t.Errorf("erwartet %d, bekommen %d", ml.StatusGraphInvalidOp, code)
		}
	})

	t.Run("binary before finalize", func(t *testing.T) {
		f := newFixture(t)
		f.linear(t, "pending")

		if _, err := f.b.ContextGetBinarySize(f.ctx); statusCode(err) != ml.StatusGraphNotFinal {
			t.Errorf("erwartet %d, bekommen %v", ml.StatusGraphNotFinal, err)
		}
	})
}

func TestCreateErrors(t *testing.T) {
	b := New()
	log, err := b.LogCreate(nil, ml.LogLevelWarn)
	require.NoError(t, err)

	if _, err := b.DeviceCreate(log, []ml.DeviceConfig{{Arch: ml.HTPArchNone}}); statusCode(err) != ml.StatusDeviceArch {
		t.Errorf("erwartet %d, bekommen %v", ml.StatusDeviceArch, err)
	}

	if _, err := b.DeviceCreate(log, nil); statusCode(err) != ml.StatusDeviceArch {
		t.Errorf("erwartet %d, bekommen %v", ml.StatusDeviceArch, err)
	}

	if _, err := b.BackendCreate(log, []ml.ConfigOption{{Key: OptionArtifactVersion, Value: 4}}); statusCode(err) != ml.StatusInvalidArgument {
		t.Errorf("erwartet %d, bekommen %v", ml.StatusInvalidArgument, err)
	}

	if _, err := b.BackendCreate(ml.LogHandle(99), nil); statusCode(err) != ml.StatusInvalidHandle {
		t.Errorf("erwartet %d, bekommen %v", ml.StatusInvalidHandle, err)
	}
}

func TestContextFromCorruptBinary(t *testing.T) {
	f := newFixture(t)

	for _, data := range [][]byte{nil, []byte("QNNC\x09\x00\x00\x00"), []byte("not an artifact")} {
		if _, err := f.b.ContextCreateFromBinary(f.be, f.dev, nil, data); statusCode(err) != ml.StatusContextBinary {
			t.Errorf("%q: erwartet %d, bekommen %v", data, ml.StatusContextBinary, err)
		}
	}

	_, err := f.b.ContextCreateFromBinary(f.be, f.dev, nil, []byte("QNNC\x09\x00\x00\x00"))
	if !errors.Is(err, artifact.ErrUnsupportedVersion) {
		t.Errorf("erwartet ErrUnsupportedVersion in der Fehlerkette, bekommen %v", err)
	}
}

// craftBinary encodes a single FullyConnected graph over the given tensors
// without going through TensorCreateGraphTensor.
func craftBinary(t *testing.T, x, w, y ml.TensorDescriptor, wdata []byte) []byte {
	t.Helper()

	ctx := newContext(nil, ml.DeviceConfig{})
	g := newGraph("fc", ctx)
	x.ID, w.ID, y.ID = 1, 2, 3
	g.tensors.Set(x.ID, &tensor{desc: x})
	g.tensors.Set(w.ID, &tensor{desc: w, data: wdata})
	g.tensors.Set(y.ID, &tensor{desc: y})
	g.nodes = append(g.nodes, node{
		name: "fc0", pkg: ml.OpPackageNameQtiAisw, op: ml.OpFullyConnected,
		inputs: []ml.TensorDescriptor{x, w}, outputs: []ml.TensorDescriptor{y},
	})
	ctx.graphs.Set(g.name, g)

	var buf bytes.Buffer
	require.NoError(t, artifact.Write(&buf, artifact.Version3, BackendID, []artifact.GraphRecord{
		{Name: "fc", Inputs: []ml.TensorDescriptor{x}, Outputs: []ml.TensorDescriptor{y}},
	}, encodePayload(ctx)))
	return buf.Bytes()
}

func TestContextFromInvalidTensors(t *testing.T) {
	w := ml.TensorDescriptor{Name: "w", Type: ml.TensorTypeStatic, DType: ml.DTypeFloat32, Dims: []uint32{2, 3}}
	y := ml.TensorDescriptor{Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{1, 2}}
	wdata := f32Bytes(1, 2, 3, 4, 5, 6)

	cases := []struct {
		name    string
		x, w, y ml.TensorDescriptor
		wdata   []byte
	}{
		{
			name: "rank 0",
			x:    ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32},
			w:    w, y: y, wdata: wdata,
		},
		{
			name: "zero dimension",
			x:    ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{1, 0}},
			w:    w, y: y, wdata: wdata,
		},
		{
			name:  "int8",
			x:     ml.TensorDescriptor{Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeInt8, Dims: []uint32{1, 3}},
			w:     ml.TensorDescriptor{Name: "w", Type: ml.TensorTypeStatic, DType: ml.DTypeInt8, Dims: []uint32{2, 3}},
			y:     ml.TensorDescriptor{Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeInt8, Dims: []uint32{1, 2}},
			wdata: []byte{1, 2, 3, 4, 5, 6},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			data := craftBinary(t, tt.x, tt.w, tt.y, tt.wdata)

			if _, err := f.b.ContextCreateFromBinary(f.be, f.dev, nil, data); statusCode(err) != ml.StatusContextBinary {
				t.Errorf("erwartet %d, bekommen %v", ml.StatusContextBinary, err)
			}
		})
	}
}

func TestToFloat32Unsupported(t *testing.T) {
	if _, err := toFloat32(ml.DTypeInt8, []byte{1, 2}); err == nil {
		t.Error("int8 sollte einen Fehler liefern")
	}

	f, err := toFloat32(ml.DTypeFloat32, f32Bytes(1.5))
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{1.5}, f); diff != "" {
		t.Errorf("float32 (-want +got):\n%s", diff)
	}
}

func TestProfileEvents(t *testing.T) {
	f := newFixture(t)
	g := f.linear(t, "linear")
	require.NoError(t, f.b.GraphFinalize(g, 0))

	p, err := f.b.ProfileCreate(f.be, ml.ProfileLevelDetailed)
	require.NoError(t, err)
	require.NoError(t, f.b.ProfileSetConfig(p, []ml.ProfileConfig{{Option: ml.ProfileConfigOptionEnableOpTrace}}))

	in := ml.TensorDescriptor{ID: 1, Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{1, 3}}
	out := ml.TensorDescriptor{ID: 5, Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{1, 2}}

	for range 2 {
		require.NoError(t, f.b.GraphExecute(g,
			[]ml.TensorDescriptor{in.WithBuffer(f32Bytes(1, 2, 3))},
			[]ml.TensorDescriptor{out.WithBuffer(make([]byte, 8))}, p))
	}

	ids, err := f.b.ProfileGetEvents(p)
	require.NoError(t, err)

	// 4 execute events + 2 nodes * (time + cycles), second run replaces the first
	if len(ids) != 8 {
		t.Fatalf("erwartet 8 Ereignisse, bekommen %d", len(ids))
	}

	units := make(map[ml.ProfileEventUnit]int)
	for _, id := range ids {
		e, err := f.b.ProfileGetEventData(id)
		require.NoError(t, err)
		units[e.Unit]++
	}

	want := map[ml.ProfileEventUnit]int{
		ml.ProfileEventUnitMicrosec: 3,
		ml.ProfileEventUnitBytes:    2,
		ml.ProfileEventUnitCount:    1,
		ml.ProfileEventUnitCycles:   2,
	}
	if diff := cmp.Diff(want, units); diff != "" {
		t.Errorf("Einheiten (-want +got):\n%s", diff)
	}

	require.NoError(t, f.b.ProfileFree(p))
	if _, err := f.b.ProfileGetEventData(ids[0]); statusCode(err) != ml.StatusInvalidHandle {
		t.Errorf("Ereignisse nach ProfileFree noch vorhanden: %v", err)
	}
}

func TestExecuteSharedMemory(t *testing.T) {
	alloc, err := arena.DefaultLoader()
	if errors.Is(err, arena.ErrUnavailable) {
		t.Skip("no shared memory allocator on this platform")
	}
	require.NoError(t, err)

	a := arena.New(alloc)
	defer a.Close()

	f := newFixture(t)
	g := f.linear(t, "linear")
	require.NoError(t, f.b.GraphFinalize(g, 0))

	inBuf, outBuf := a.Allocate(12, 8), a.Allocate(8, 8)
	require.NotNil(t, inBuf)
	require.NotNil(t, outBuf)
	copy(inBuf, f32Bytes(1, 0, 0))

	in := ml.TensorDescriptor{ID: 1, Name: "x", Type: ml.TensorTypeAppWrite, DType: ml.DTypeFloat32, Dims: []uint32{1, 3}}
	out := ml.TensorDescriptor{ID: 5, Name: "y", Type: ml.TensorTypeAppRead, DType: ml.DTypeFloat32, Dims: []uint32{1, 2}}

	register := func(td ml.TensorDescriptor, buf []byte) ml.TensorDescriptor {
		fd, off := a.ExportHandle(buf)
		require.NotEqual(t, arena.InvalidHandle, fd)

		h, err := f.b.MemRegister(f.ctx, ml.MemDescriptor{Dims: td.Dims, DType: td.DType, FD: fd, Offset: off})
		require.NoError(t, err)
		t.Cleanup(func() { f.b.MemDeRegister(h) })
		return td.WithMemHandle(h)
	}

	require.NoError(t, f.b.GraphExecute(g,
		[]ml.TensorDescriptor{register(in, inBuf)},
		[]ml.TensorDescriptor{register(out, outBuf)}, 0))

	// [1+0.5, relu(-1+1)]
	if diff := cmp.Diff(f32Bytes(1.5, 0), outBuf); diff != "" {
		t.Errorf("Ausgabe im Arena-Puffer (-want +got):\n%s", diff)
	}
}

func TestMatMulHalfPrecision(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{1, 0, 0, 1, 1, 1}

	tests := []struct {
		name   string
		ta, tb bool
		ar, ac int
		br, bc int
		want   []float32
	}{
		{"plain", false, false, 2, 3, 3, 2, []float32{4, 5, 10, 11}},
		{"transpose b", false, true, 2, 3, 2, 3, []float32{1, 6, 4, 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matMul(a, tt.ar, tt.ac, tt.ta, b, tt.br, tt.bc, tt.tb)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("matMul (-want +got):\n%s", diff)
			}
		})
	}

	for _, dt := range []ml.DataType{ml.DTypeFloat16, ml.DTypeBFloat16} {
		buf := make([]byte, len(a)*dt.Size())
		fromFloat32(dt, a, buf)
		got, err := toFloat32(dt, buf)
		require.NoError(t, err)
		if diff := cmp.Diff(a, got); diff != "" {
			t.Errorf("%s Konvertierung (-want +got):\n%s", dt, diff)
		}
	}
}
