// payload.go - Backend-Payload im Protobuf-Wire-Format
//
// Dieses Modul enthaelt die Serialisierung des backend-spezifischen Teils
// eines Context-Binaries (alle Tensoren inkl. statischer Daten und alle Knoten):
//
//	Payload { repeated Graph graphs = 1 }
//	Graph   { string name = 1; repeated Tensor tensors = 2; repeated Node nodes = 3 }
//	Tensor  { uint32 id = 1; string name = 2; uint32 type = 3; uint32 format = 4;
//	          uint32 dtype = 5; repeated uint32 dims = 6; bytes data = 7;
//	          repeated uint32 dynamic_dims = 8 }
//	Node    { string name = 1; string package = 2; string type = 3;
//	          repeated uint32 inputs = 4; repeated uint32 outputs = 5;
//	          repeated Param params = 6 }
//	Param   { string key = 1; bool value = 2 }
package reference

import (
	"fmt"
	"slices"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/7blacky7/qnnrt/ml"
)

func encodePayload(ctx *context) []byte {
	var b []byte
	for pair := ctx.graphs.Oldest(); pair != nil; pair = pair.Next() {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeGraph(pair.Value))
	}
	return b
}

func encodeGraph(g *graph) []byte {
	var b []byte
	b = appendString(b, 1, g.name)

	for pair := g.tensors.Oldest(); pair != nil; pair = pair.Next() {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTensor(pair.Value))
	}

	for _, n := range g.nodes {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(n))
	}
	return b
}

func encodeTensor(t *tensor) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(t.desc.ID))
	b = appendString(b, 2, t.desc.Name)
	b = appendVarint(b, 3, uint64(t.desc.Type))
	b = appendVarint(b, 4, uint64(t.desc.Format))
	b = appendVarint(b, 5, uint64(t.desc.DType))
	for _, d := range t.desc.Dims {
		b = appendVarint(b, 6, uint64(d))
	}
	if t.data != nil {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, t.data)
	}
	for i, dynamic := range t.desc.DynamicDims {
		if dynamic {
			b = appendVarint(b, 8, uint64(i))
		}
	}
	return b
}

func encodeNode(n node) []byte {
	var b []byte
	b = appendString(b, 1, n.name)
	b = appendString(b, 2, n.pkg)
	b = appendString(b, 3, n.op)
	for _, t := range n.inputs {
		b = appendVarint(b, 4, uint64(t.ID))
	}
	for _, t := range n.outputs {
		b = appendVarint(b, 5, uint64(t.ID))
	}

	keys := make([]string, 0, len(n.params))
	for k := range n.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var p []byte
		p = appendString(p, 1, k)
		p = appendVarint(p, 2, protowire.EncodeBool(n.params[k]))
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// =============================================================================
// Dekodierung
// =============================================================================

// decodePayload rebuilds the graphs of ctx. Static data is copied out of b.
func decodePayload(b []byte, ctx *context) (map[string]*graph, error) {
	graphs := make(map[string]*graph)
	err := fields(b, func(num protowire.Number, v []byte, _ uint64) error {
		if num != 1 || v == nil {
			return nil
		}

		g, err := decodeGraph(v, ctx)
		if err != nil {
			return err
		}

		if _, dup := graphs[g.name]; dup {
			return fmt.Errorf("duplicate graph %q", g.name)
		}
		graphs[g.name] = g
		return nil
	})
	return graphs, err
}

func decodeGraph(b []byte, ctx *context) (*graph, error) {
	g := newGraph("", ctx)

	var rawNodes [][]byte
	err := fields(b, func(num protowire.Number, v []byte, _ uint64) error {
		switch num {
		case 1:
			g.name = string(v)
		case 2:
			t, err := decodeTensor(v)
			if err != nil {
				return err
			}
			if _, dup := g.tensors.Get(t.desc.ID); dup || t.desc.ID == 0 {
				return fmt.Errorf("tensor %q: invalid id %d", t.desc.Name, t.desc.ID)
			}
			g.tensors.Set(t.desc.ID, t)
		case 3:
			rawNodes = append(rawNodes, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// nodes reference tensors, which may follow them in the encoding
	for _, v := range rawNodes {
		n, err := decodeNode(v, g)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", g.name, err)
		}
		g.nodes = append(g.nodes, n)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	return g, nil
}

func decodeTensor(b []byte) (*tensor, error) {
	t := &tensor{}
	var dynamic []int
	err := fields(b, func(num protowire.Number, v []byte, x uint64) error {
		switch num {
		case 1:
			t.desc.ID = uint32(x)
		case 2:
			t.desc.Name = string(v)
		case 3:
			t.desc.Type = ml.TensorType(x)
		case 4:
			t.desc.Format = ml.DataFormat(x)
		case 5:
			t.desc.DType = ml.DataType(x)
		case 6:
			t.desc.Dims = append(t.desc.Dims, uint32(x))
		case 7:
			t.data = slices.Clone(v)
		case 8:
			dynamic = append(dynamic, int(x))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkTensor(t.desc); err != nil {
		return nil, err
	}

	for _, i := range dynamic {
		if i >= len(t.desc.Dims) {
			return nil, fmt.Errorf("tensor %q: dynamic dimension %d out of range", t.desc.Name, i)
		}
		if t.desc.DynamicDims == nil {
			t.desc.DynamicDims = make([]bool, len(t.desc.Dims))
		}
		t.desc.DynamicDims[i] = true
	}

	if t.desc.Type == ml.TensorTypeStatic && len(t.data) != t.desc.ByteSize() {
		return nil, fmt.Errorf("static tensor %q: %d bytes, want %d", t.desc.Name, len(t.data), t.desc.ByteSize())
	}

	return t, nil
}

func decodeNode(b []byte, g *graph) (node, error) {
	n := node{params: make(map[string]bool)}

	ref := func(x uint64) (ml.TensorDescriptor, error) {
		t, ok := g.tensors.Get(uint32(x))
		if !ok {
			return ml.TensorDescriptor{}, fmt.Errorf("node %q: unknown tensor id %d", n.name, x)
		}
		return t.desc, nil
	}

	err := fields(b, func(num protowire.Number, v []byte, x uint64) error {
		switch num {
		case 1:
			n.name = string(v)
		case 2:
			n.pkg = string(v)
		case 3:
			n.op = string(v)
		case 4, 5:
			t, err := ref(x)
			if err != nil {
				return err
			}
			if num == 4 {
				n.inputs = append(n.inputs, t)
			} else {
				n.outputs = append(n.outputs, t)
			}
		case 6:
			var key string
			var value bool
			if err := fields(v, func(num protowire.Number, v []byte, x uint64) error {
				switch num {
				case 1:
					key = string(v)
				case 2:
					value = protowire.DecodeBool(x)
				}
				return nil
			}); err != nil {
				return err
			}
			n.params[key] = value
		}
		return nil
	})
	return n, err
}

// fields walks the varint and length-delimited fields of a message. Other
// wire types are skipped.
func fields(b []byte, fn func(num protowire.Number, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
			if v == nil {
				v = []byte{}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}

		if err := fn(num, v, x); err != nil {
			return err
		}
	}
	return nil
}
