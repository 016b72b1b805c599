// execute.go - Ausfuehrung finalisierter Graphen
//
// Dieses Modul enthaelt:
// - GraphExecute: Bindung der Ein-/Ausgaben, Knoten-Ausfuehrung, Profiling
// - Kernels: FullyConnected, MatMul, ElementWiseAdd, Relu
// - Konvertierung fp32/fp16/bf16 <-> float32
package reference

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/7blacky7/qnnrt/ml"
)

type nodeTiming struct {
	name    string
	elapsed time.Duration
}

func (b *Backend) GraphExecute(gh ml.GraphHandle, inputs, outputs []ml.TensorDescriptor, ph ml.ProfileHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs.get(uintptr(gh))
	if !ok {
		return ml.Errorf("graphExecute", ml.StatusInvalidHandle, "graph %d", gh)
	}

	if !g.finalized {
		return ml.Errorf("graphExecute", ml.StatusGraphNotFinal, "graph %q", g.name)
	}

	var p *profiler
	if ph != 0 {
		if p, ok = b.profiles.get(uintptr(ph)); !ok {
			return ml.Errorf("graphExecute", ml.StatusInvalidHandle, "profile %d", ph)
		}
	}

	start := time.Now()

	inBufs, err := b.bind(g.inputs(), inputs)
	if err != nil {
		return err
	}

	outBufs, err := b.bind(g.outputs(), outputs)
	if err != nil {
		return err
	}

	values := make(map[uint32][]float32)
	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.desc.Type == ml.TensorTypeStatic {
			if values[pair.Key], err = toFloat32(pair.Value.desc.DType, pair.Value.data); err != nil {
				return ml.Errorf("graphExecute", ml.StatusGraphExecution, "tensor %q: %w", pair.Value.desc.Name, err)
			}
		}
	}

	var inBytes, outBytes uint64
	for i, t := range inputs {
		if values[t.ID], err = toFloat32(t.DType, inBufs[i]); err != nil {
			return ml.Errorf("graphExecute", ml.StatusGraphExecution, "tensor %q: %w", t.Name, err)
		}
		inBytes += uint64(len(inBufs[i]))
	}

	timings := make([]nodeTiming, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodeStart := time.Now()
		if err := n.run(values); err != nil {
			g.ctx.backend.log.logf(ml.LogLevelError, "execute %q: %v", g.name, err)
			return ml.Errorf("graphExecute", ml.StatusGraphExecution, "node %q: %v", n.name, err)
		}
		timings = append(timings, nodeTiming{n.name, time.Since(nodeStart)})
	}

	for i, t := range outputs {
		fromFloat32(t.DType, values[t.ID], outBufs[i])
		outBytes += uint64(len(outBufs[i]))
	}

	if p != nil {
		b.recordExecute(p, time.Since(start), inBytes, outBytes, timings)
	}

	return nil
}

// bind checks caller descriptors against the declared ones and returns the
// memory behind each of them.
func (b *Backend) bind(want, have []ml.TensorDescriptor) ([][]byte, error) {
	if len(want) != len(have) {
		return nil, ml.Errorf("graphExecute", ml.StatusInvalidArgument, "%d tensors bound, graph declares %d", len(have), len(want))
	}

	bufs := make([][]byte, len(have))
	for i, t := range have {
		w := want[i]
		if t.ID != w.ID || t.DType != w.DType || !slices.Equal(t.Dims, w.Dims) {
			return nil, ml.Errorf("graphExecute", ml.StatusGraphInvalidTens, "tensor %d: bound %s, declared %s", i, t, w)
		}

		switch t.MemType {
		case ml.MemTypeRaw:
			bufs[i] = t.Buffer
		case ml.MemTypeMemHandle:
			r, ok := b.mems.get(uintptr(t.MemHandle))
			if !ok {
				return nil, ml.Errorf("graphExecute", ml.StatusInvalidHandle, "tensor %q: mem handle %d", t.Name, t.MemHandle)
			}
			bufs[i] = r.data
		default:
			return nil, ml.Errorf("graphExecute", ml.StatusGraphInvalidTens, "tensor %q has no data", t.Name)
		}

		if len(bufs[i]) != w.ByteSize() {
			return nil, ml.Errorf("graphExecute", ml.StatusGraphInvalidTens, "tensor %q: %d bytes, want %d", t.Name, len(bufs[i]), w.ByteSize())
		}
	}

	return bufs, nil
}

// =============================================================================
// Kernels
// =============================================================================

func (n node) run(values map[uint32][]float32) error {
	ins := make([][]float32, len(n.inputs))
	for i, t := range n.inputs {
		v, ok := values[t.ID]
		if !ok {
			return fmt.Errorf("input %q has no value", t.Name)
		}
		ins[i] = v
	}

	var out []float32
	switch n.op {
	case ml.OpFullyConnected:
		rows, k := flatten(n.inputs[0])
		w := n.inputs[1]
		var bias []float32
		if len(ins) == 3 {
			bias = ins[2]
		}
		out = fullyConnected(ins[0], rows, k, ins[1], int(w.Dims[0]), bias)

	case ml.OpMatMul:
		ta, tb := n.params["transpose_in0"], n.params["transpose_in1"]
		a, bt := n.inputs[0], n.inputs[1]
		out = matMul(ins[0], int(a.Dims[0]), int(a.Dims[1]), ta, ins[1], int(bt.Dims[0]), int(bt.Dims[1]), tb)

	case ml.OpElementWiseAdd:
		out = make([]float32, len(ins[0]))
		for i := range out {
			out[i] = ins[0][i] + ins[1][i]
		}

	case ml.OpRelu:
		out = make([]float32, len(ins[0]))
		for i, v := range ins[0] {
			out[i] = max(v, 0)
		}

	default:
		return fmt.Errorf("unsupported op %q", n.op)
	}

	values[n.outputs[0].ID] = out
	return nil
}

// fullyConnected computes x * w^T + bias for x [rows, k] and w [units, k].
func fullyConnected(x []float32, rows, k int, w []float32, units int, bias []float32) []float32 {
	wm := mat.NewDense(units, k, toFloat64(w))
	out := mulRows(mat.NewDense(rows, k, toFloat64(x)), wm.T())

	if bias != nil {
		for r := range rows {
			for c := range units {
				out[r*units+c] += bias[c]
			}
		}
	}
	return out
}

// matMul computes op(a) * op(b) where op optionally transposes.
func matMul(a []float32, ar, ac int, ta bool, b []float32, br, bc int, tb bool) []float32 {
	am := mat.NewDense(ar, ac, toFloat64(a))
	if ta {
		var t mat.Dense
		t.CloneFrom(am.T())
		am = &t
	}

	var bm mat.Matrix = mat.NewDense(br, bc, toFloat64(b))
	if tb {
		bm = bm.T()
	}

	return mulRows(am, bm)
}

// mulRows multiplies a by b, splitting a into row blocks computed in parallel.
func mulRows(a *mat.Dense, b mat.Matrix) []float32 {
	rows, _ := a.Dims()
	_, cols := b.Dims()
	out := make([]float32, rows*cols)

	workers := runtime.GOMAXPROCS(0)
	block := max(1, (rows+workers-1)/workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for r0 := 0; r0 < rows; r0 += block {
		r1 := min(r0+block, rows)
		g.Go(func() error {
			_, k := a.Dims()
			var dst mat.Dense
			dst.Mul(a.Slice(r0, r1, 0, k), b)
			for r := r0; r < r1; r++ {
				for c, v := range dst.RawRowView(r - r0) {
					out[r*cols+c] = float32(v)
				}
			}
			return nil
		})
	}

	g.Wait()
	return out
}

func toFloat64(f []float32) []float64 {
	d := make([]float64, len(f))
	for i, v := range f {
		d[i] = float64(v)
	}
	return d
}

// =============================================================================
// Konvertierung
// =============================================================================

func toFloat32(dt ml.DataType, b []byte) ([]float32, error) {
	switch dt {
	case ml.DTypeFloat32:
		f := make([]float32, len(b)/4)
		for i := range f {
			f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return f, nil
	case ml.DTypeFloat16:
		f := make([]float32, len(b)/2)
		for i := range f {
			f[i] = float16.Frombits(binary.LittleEndian.Uint16(b[2*i:])).Float32()
		}
		return f, nil
	case ml.DTypeBFloat16:
		return bfloat16.DecodeFloat32(b), nil
	default:
		return nil, fmt.Errorf("data type %s not supported", dt)
	}
}

func fromFloat32(dt ml.DataType, f []float32, dst []byte) {
	switch dt {
	case ml.DTypeFloat32:
		for i, v := range f {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	case ml.DTypeFloat16:
		for i, v := range f {
			binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(v).Bits())
		}
	case ml.DTypeBFloat16:
		copy(dst, bfloat16.EncodeFloat32(f))
	}
}
