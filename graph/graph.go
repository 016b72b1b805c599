// graph.go - Client-seitige Graph-Beschreibung
//
// Dieses Modul enthaelt:
// - Graph/Tensor/Node: namensbasierte Beschreibung eines Graphen
// - Build: registriert Tensoren und Knoten ueber einen Builder (z.B. eine Session)
// - Linear/MatMul: die beiden Beispielgraphen (fp16)
package graph

import (
	"errors"
	"fmt"

	"github.com/7blacky7/qnnrt/ml"
)

// ErrUnknownTensor is returned when a node references a tensor the graph
// does not declare.
var ErrUnknownTensor = errors.New("unknown tensor")

// Builder receives tensors and nodes. *session.Session implements it.
type Builder interface {
	CreateTensor(*ml.TensorDescriptor) error
	AddNode(ml.OpConfig) error
}

// Tensor describes one graph tensor. Static tensors take their contents from
// Data or, if Data is empty, from Fill.
type Tensor struct {
	Name  string    `yaml:"name"`
	Type  string    `yaml:"type"`
	DType string    `yaml:"dtype"`
	Dims  []uint32  `yaml:"dims"`
	Data  []float32 `yaml:"data,omitempty"`
	Fill  float32   `yaml:"fill,omitempty"`
}

// Node references its tensors by name.
type Node struct {
	Name    string          `yaml:"name"`
	Package string          `yaml:"package,omitempty"`
	Op      string          `yaml:"op"`
	Inputs  []string        `yaml:"inputs"`
	Outputs []string        `yaml:"outputs"`
	Params  map[string]bool `yaml:"params,omitempty"`
}

// Graph is a complete graph description.
type Graph struct {
	Name    string   `yaml:"name"`
	Tensors []Tensor `yaml:"tensors"`
	Nodes   []Node   `yaml:"nodes"`
}

// Descriptor converts t into a tensor descriptor. Static tensors get their
// encoded contents as raw buffer.
func (t Tensor) Descriptor() (ml.TensorDescriptor, error) {
	tt, err := parseTensorType(t.Type)
	if err != nil {
		return ml.TensorDescriptor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}

	dt, err := ml.ParseDataType(t.DType)
	if err != nil {
		return ml.TensorDescriptor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}

	desc := ml.TensorDescriptor{
		Name:   t.Name,
		Type:   tt,
		Format: ml.DataFormatDense,
		DType:  dt,
		Dims:   t.Dims,
	}

	if tt != ml.TensorTypeStatic {
		return desc, nil
	}

	values := t.Data
	if len(values) == 0 {
		values = make([]float32, desc.Elements())
		for i := range values {
			values[i] = t.Fill
		}
	}

	if len(values) != desc.Elements() {
		return ml.TensorDescriptor{}, fmt.Errorf("tensor %q: %d values for shape %v", t.Name, len(values), t.Dims)
	}

	buf, err := Encode(dt, values)
	if err != nil {
		return ml.TensorDescriptor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return desc.WithBuffer(buf), nil
}

// Build declares every tensor in order, then adds every node. IDs assigned
// by the builder are used for the node references.
func (g *Graph) Build(b Builder) error {
	declared := make(map[string]ml.TensorDescriptor, len(g.Tensors))
	for _, t := range g.Tensors {
		desc, err := t.Descriptor()
		if err != nil {
			return err
		}

		if err := b.CreateTensor(&desc); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		declared[t.Name] = desc
	}

	refs := func(node string, names []string) ([]ml.TensorDescriptor, error) {
		out := make([]ml.TensorDescriptor, len(names))
		for i, name := range names {
			d, ok := declared[name]
			if !ok {
				return nil, fmt.Errorf("node %q: %w %q", node, ErrUnknownTensor, name)
			}
			out[i] = d
		}
		return out, nil
	}

	for _, n := range g.Nodes {
		ins, err := refs(n.Name, n.Inputs)
		if err != nil {
			return err
		}
		outs, err := refs(n.Name, n.Outputs)
		if err != nil {
			return err
		}

		op := ml.OpConfig{
			Name:        n.Name,
			PackageName: n.Package,
			TypeName:    n.Op,
			Inputs:      ins,
			Outputs:     outs,
		}
		if op.PackageName == "" {
			op.PackageName = ml.OpPackageNameQtiAisw
		}
		if len(n.Params) > 0 {
			op.Params = make(map[string]any, len(n.Params))
			for k, v := range n.Params {
				op.Params[k] = v
			}
		}

		if err := b.AddNode(op); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}

	return nil
}

func parseTensorType(s string) (ml.TensorType, error) {
	for _, tt := range []ml.TensorType{ml.TensorTypeAppWrite, ml.TensorTypeAppRead, ml.TensorTypeStatic, ml.TensorTypeNative} {
		if tt.String() == s {
			return tt, nil
		}
	}
	return 0, fmt.Errorf("unknown tensor type %q", s)
}

// =============================================================================
// Beispielgraphen
// =============================================================================

// Linear is output = input * weight^T + bias with weight filled with 1.0 and
// bias with 0.0, all float16.
func Linear(batch, in, out uint32) *Graph {
	return &Graph{
		Name: "linear",
		Tensors: []Tensor{
			{Name: "input", Type: "app_write", DType: "float16", Dims: []uint32{batch, in}},
			{Name: "weight", Type: "static", DType: "float16", Dims: []uint32{out, in}, Fill: 1},
			{Name: "bias", Type: "static", DType: "float16", Dims: []uint32{out}},
			{Name: "output", Type: "app_read", DType: "float16", Dims: []uint32{batch, out}},
		},
		Nodes: []Node{{
			Name:    "linear",
			Op:      ml.OpFullyConnected,
			Inputs:  []string{"input", "weight", "bias"},
			Outputs: []string{"output"},
		}},
	}
}

// MatMul is output = input * weight with weight [in, out] filled with 1.0,
// all float16.
func MatMul(batch, in, out uint32) *Graph {
	return &Graph{
		Name: "matmul",
		Tensors: []Tensor{
			{Name: "input", Type: "app_write", DType: "float16", Dims: []uint32{batch, in}},
			{Name: "weight", Type: "static", DType: "float16", Dims: []uint32{in, out}, Fill: 1},
			{Name: "output", Type: "app_read", DType: "float16", Dims: []uint32{batch, out}},
		},
		Nodes: []Node{{
			Name:    "matmul",
			Op:      ml.OpMatMul,
			Inputs:  []string{"input", "weight"},
			Outputs: []string{"output"},
		}},
	}
}
