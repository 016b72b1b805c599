// graph.go - Graph-Komposition und Finalisierung
//
// Dieses Modul enthaelt:
// - context/graph/tensor/node: interner Zustand eines Contexts
// - GraphCreate, TensorCreateGraphTensor, GraphAddNode, GraphFinalize, GraphRetrieve
// - validate: Pruefung von Tensor-Referenzen, Op-Typen und Shapes
package reference

import (
	"errors"
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/7blacky7/qnnrt/ml"
)

type context struct {
	backend *backendConfig
	device  ml.DeviceConfig

	graphs *orderedmap.OrderedMap[string, *graph]

	// binary caches the serialized context between size query and retrieval
	binary []byte
}

func newContext(cfg *backendConfig, dev ml.DeviceConfig) *context {
	return &context{
		backend: cfg,
		device:  dev,
		graphs:  orderedmap.New[string, *graph](),
	}
}

type tensor struct {
	desc ml.TensorDescriptor
	data []byte
}

type node struct {
	name    string
	pkg     string
	op      string
	inputs  []ml.TensorDescriptor
	outputs []ml.TensorDescriptor
	params  map[string]bool
}

type graph struct {
	name string
	ctx  *context

	tensors *orderedmap.OrderedMap[uint32, *tensor]
	nodes   []node

	finalized bool
}

func newGraph(name string, ctx *context) *graph {
	return &graph{
		name:    name,
		ctx:     ctx,
		tensors: orderedmap.New[uint32, *tensor](),
	}
}

// inputs are the AppWrite tensors in creation order.
func (g *graph) inputs() []ml.TensorDescriptor {
	return g.external(ml.TensorTypeAppWrite)
}

// outputs are the AppRead tensors in creation order.
func (g *graph) outputs() []ml.TensorDescriptor {
	return g.external(ml.TensorTypeAppRead)
}

func (g *graph) external(tt ml.TensorType) []ml.TensorDescriptor {
	var ts []ml.TensorDescriptor
	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.desc.Type == tt {
			ts = append(ts, pair.Value.desc.Clone())
		}
	}
	return ts
}

func (g *graph) tensorByName(name string) *tensor {
	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.desc.Name == name {
			return pair.Value
		}
	}
	return nil
}

// =============================================================================
// Capability-Tabelle
// =============================================================================

func (b *Backend) GraphCreate(ch ml.ContextHandle, name string) (ml.GraphHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.get(uintptr(ch))
	if !ok {
		return 0, ml.Errorf("graphCreate", ml.StatusInvalidHandle, "context %d", ch)
	}

	if name == "" {
		return 0, ml.Errorf("graphCreate", ml.StatusGraphInvalidName, "empty graph name")
	}

	if _, exists := ctx.graphs.Get(name); exists {
		return 0, ml.Errorf("graphCreate", ml.StatusGraphInvalidName, "graph %q already exists", name)
	}

	g := newGraph(name, ctx)
	ctx.graphs.Set(name, g)
	ctx.binary = nil

	ctx.backend.log.logf(ml.LogLevelVerbose, "graph %q created", name)
	return ml.GraphHandle(b.graphs.add(g)), nil
}

func (b *Backend) GraphRetrieve(ch ml.ContextHandle, name string) (ml.GraphHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, ok := b.contexts.get(uintptr(ch))
	if !ok {
		return 0, ml.Errorf("graphRetrieve", ml.StatusInvalidHandle, "context %d", ch)
	}

	g, ok := ctx.graphs.Get(name)
	if !ok {
		return 0, ml.Errorf("graphRetrieve", ml.StatusGraphInvalidName, "graph %q not in context", name)
	}

	return ml.GraphHandle(b.graphs.add(g)), nil
}

// TensorCreateGraphTensor registers t with the graph and assigns its id.
// Static tensors must carry their data as a raw buffer, which is copied.
func (b *Backend) TensorCreateGraphTensor(gh ml.GraphHandle, t *ml.TensorDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs.get(uintptr(gh))
	if !ok {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusInvalidHandle, "graph %d", gh)
	}

	if g.finalized {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "graph %q is finalized", g.name)
	}

	if t.Name == "" {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "empty tensor name")
	}

	if g.tensorByName(t.Name) != nil {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "tensor %q already exists", t.Name)
	}

	if err := checkTensor(*t); err != nil {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "%w", err)
	}

	if err := t.Validate(); err != nil {
		return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "%w", err)
	}

	var data []byte
	if t.Type == ml.TensorTypeStatic {
		if t.MemType != ml.MemTypeRaw || len(t.Buffer) == 0 {
			return ml.Errorf("tensorCreateGraphTensor", ml.StatusGraphInvalidTens, "static tensor %q without data", t.Name)
		}
		data = slices.Clone(t.Buffer)
	}

	t.ID = uint32(g.tensors.Len() + 1)
	g.tensors.Set(t.ID, &tensor{desc: t.Clone(), data: data})
	return nil
}

// GraphAddNode records op. References are resolved when the graph is finalized.
func (b *Backend) GraphAddNode(gh ml.GraphHandle, op ml.OpConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs.get(uintptr(gh))
	if !ok {
		return ml.Errorf("graphAddNode", ml.StatusInvalidHandle, "graph %d", gh)
	}

	if g.finalized {
		return ml.Errorf("graphAddNode", ml.StatusGraphInvalidOp, "graph %q is finalized", g.name)
	}

	params := make(map[string]bool, len(op.Params))
	for k, v := range op.Params {
		bv, ok := v.(bool)
		if !ok {
			return ml.Errorf("graphAddNode", ml.StatusGraphInvalidOp, "node %q: parameter %s has type %T", op.Name, k, v)
		}
		params[k] = bv
	}

	n := node{
		name:   op.Name,
		pkg:    op.PackageName,
		op:     op.TypeName,
		params: params,
	}
	for _, t := range op.Inputs {
		n.inputs = append(n.inputs, t.Clone())
	}
	for _, t := range op.Outputs {
		n.outputs = append(n.outputs, t.Clone())
	}

	g.nodes = append(g.nodes, n)
	return nil
}

func (b *Backend) GraphFinalize(gh ml.GraphHandle, ph ml.ProfileHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs.get(uintptr(gh))
	if !ok {
		return ml.Errorf("graphFinalize", ml.StatusInvalidHandle, "graph %d", gh)
	}

	if g.finalized {
		return nil
	}

	if err := g.validate(); err != nil {
		var se *ml.StatusError
		if errors.As(err, &se) {
			g.ctx.backend.log.logf(ml.LogLevelError, "finalize %q: %s", g.name, se.Detail)
		}
		return err
	}

	g.finalized = true
	g.ctx.binary = nil

	if p, ok := b.profiles.get(uintptr(ph)); ok {
		b.record(p, ml.ProfileEventData{
			Type:       ml.ProfileEventTypeFinalize,
			Identifier: "Number of nodes",
			Value:      uint64(len(g.nodes)),
			Unit:       ml.ProfileEventUnitCount,
		})
	}

	g.ctx.backend.log.logf(ml.LogLevelInfo, "graph %q finalized with %d nodes", g.name, len(g.nodes))
	return nil
}

// =============================================================================
// Validierung
// =============================================================================

func invalidOp(format string, args ...any) error {
	return ml.Errorf("graphFinalize", ml.StatusGraphInvalidOp, format, args...)
}

func invalidTensor(format string, args ...any) error {
	return ml.Errorf("graphFinalize", ml.StatusGraphInvalidTens, format, args...)
}

// validate checks that every node references declared tensors, that each
// tensor is produced before it is consumed and that shapes match the op.
func (g *graph) validate() error {
	if len(g.nodes) == 0 {
		return invalidOp("graph %q has no nodes", g.name)
	}

	produced := make(map[uint32]string)
	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if t := pair.Value.desc.Type; t == ml.TensorTypeAppWrite || t == ml.TensorTypeStatic {
			produced[pair.Key] = ""
		}
	}

	for _, n := range g.nodes {
		if n.pkg != ml.OpPackageNameQtiAisw {
			return invalidOp("node %q: unknown op package %q", n.name, n.pkg)
		}

		ins, err := g.resolve(n, n.inputs)
		if err != nil {
			return err
		}

		outs, err := g.resolve(n, n.outputs)
		if err != nil {
			return err
		}

		for _, t := range ins {
			if _, ok := produced[t.ID]; !ok {
				return invalidTensor("node %q: tensor %q consumed before it is produced", n.name, t.Name)
			}
		}

		for _, t := range outs {
			if t.Type == ml.TensorTypeAppWrite || t.Type == ml.TensorTypeStatic {
				return invalidTensor("node %q: cannot write %s tensor %q", n.name, t.Type, t.Name)
			}
			if by, ok := produced[t.ID]; ok {
				return invalidTensor("node %q: tensor %q already produced by %q", n.name, t.Name, by)
			}
			produced[t.ID] = n.name
		}

		if err := checkShapes(n, ins, outs); err != nil {
			return err
		}
	}

	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.desc.Type == ml.TensorTypeAppRead {
			if _, ok := produced[pair.Key]; !ok {
				return invalidTensor("output %q is never produced", pair.Value.desc.Name)
			}
		}
	}

	return nil
}

// resolve maps node references to declared tensors by id and name.
func (g *graph) resolve(n node, refs []ml.TensorDescriptor) ([]ml.TensorDescriptor, error) {
	ts := make([]ml.TensorDescriptor, len(refs))
	for i, ref := range refs {
		t, ok := g.tensors.Get(ref.ID)
		if !ok || t.desc.Name != ref.Name {
			return nil, invalidTensor("node %q: tensor %q (id %d) is not declared in graph %q", n.name, ref.Name, ref.ID, g.name)
		}
		ts[i] = t.desc
	}
	return ts, nil
}

func checkShapes(n node, ins, outs []ml.TensorDescriptor) error {
	arity := func(nin, nout int) error {
		if len(ins) != nin || len(outs) != nout {
			return invalidOp("node %q: %s expects %d inputs and %d outputs, have %d and %d", n.name, n.op, nin, nout, len(ins), len(outs))
		}
		return nil
	}

	if len(ins) == 0 || len(outs) == 0 {
		return invalidOp("node %q: %s without inputs or outputs", n.name, n.op)
	}

	for _, t := range append(slices.Clone(ins), outs...) {
		if t.DType != ins[0].DType {
			return invalidTensor("node %q: mixed data types %s and %s", n.name, ins[0].DType, t.DType)
		}
	}

	switch n.op {
	case ml.OpFullyConnected:
		if len(ins) != 3 {
			if err := arity(2, 1); err != nil {
				return err
			}
		} else if err := arity(3, 1); err != nil {
			return err
		}

		x, w, y := ins[0], ins[1], outs[0]
		rows, k := flatten(x)
		if w.Rank() != 2 || int(w.Dims[1]) != k {
			return invalidTensor("node %q: weights %v do not match input %v", n.name, w.Dims, x.Dims)
		}
		if y.Elements() != rows*int(w.Dims[0]) {
			return invalidTensor("node %q: output %v, want %d x %d", n.name, y.Dims, rows, w.Dims[0])
		}
		if len(ins) == 3 && ins[2].Elements() != int(w.Dims[0]) {
			return invalidTensor("node %q: bias %v, want %d", n.name, ins[2].Dims, w.Dims[0])
		}

	case ml.OpMatMul:
		if err := arity(2, 1); err != nil {
			return err
		}

		a, bt, y := ins[0], ins[1], outs[0]
		if a.Rank() != 2 || bt.Rank() != 2 || y.Rank() != 2 {
			return invalidTensor("node %q: matmul needs rank 2 tensors", n.name)
		}
		m, k := matDims(a, n.params["transpose_in0"])
		k2, cols := matDims(bt, n.params["transpose_in1"])
		if k != k2 || int(y.Dims[0]) != m || int(y.Dims[1]) != cols {
			return invalidTensor("node %q: %v x %v -> %v", n.name, a.Dims, bt.Dims, y.Dims)
		}

	case ml.OpElementWiseAdd:
		if err := arity(2, 1); err != nil {
			return err
		}
		if !slices.Equal(ins[0].Dims, ins[1].Dims) || !slices.Equal(ins[0].Dims, outs[0].Dims) {
			return invalidTensor("node %q: shapes %v + %v -> %v", n.name, ins[0].Dims, ins[1].Dims, outs[0].Dims)
		}

	case ml.OpRelu:
		if err := arity(1, 1); err != nil {
			return err
		}
		if !slices.Equal(ins[0].Dims, outs[0].Dims) {
			return invalidTensor("node %q: shapes %v -> %v", n.name, ins[0].Dims, outs[0].Dims)
		}

	default:
		return invalidOp("node %q: unsupported op %q", n.name, n.op)
	}

	return nil
}

// flatten treats all but the last dimension as rows.
func flatten(t ml.TensorDescriptor) (rows, cols int) {
	cols = int(t.Dims[len(t.Dims)-1])
	return t.Elements() / cols, cols
}

func matDims(t ml.TensorDescriptor, transpose bool) (rows, cols int) {
	if transpose {
		return int(t.Dims[1]), int(t.Dims[0])
	}
	return int(t.Dims[0]), int(t.Dims[1])
}

// checkTensor holds for every tensor of a graph, whether it was declared by
// the client or decoded from a context binary.
func checkTensor(t ml.TensorDescriptor) error {
	if !supportedDType(t.DType) {
		return fmt.Errorf("tensor %q: data type %s", t.Name, t.DType)
	}
	if len(t.Dims) == 0 || slices.Contains(t.Dims, 0) {
		return fmt.Errorf("tensor %q: shape %v", t.Name, t.Dims)
	}
	return nil
}

func supportedDType(dt ml.DataType) bool {
	switch dt {
	case ml.DTypeFloat32, ml.DTypeFloat16, ml.DTypeBFloat16:
		return true
	}
	return false
}

func (n node) String() string {
	return fmt.Sprintf("%s(%s.%s)", n.name, n.pkg, n.op)
}
