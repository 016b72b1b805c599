// Package artifact - Layout-Varianten der Schema-Versionen
//
// Dieses Modul enthaelt die drei Layouts als Varianten einer Schnittstelle:
// - layoutV1: uint32-Zaehler, NUL-terminierte Strings
// - layoutV2: uint64-Zaehler und -Stringlaengen, dynamische Dimensionen
// - layoutV3: wie V2, plus Backend-ID sowie VTCM- und Spill-Fill-Groessen je Graph
//
// Eine neue Version ist eine neue Variante in layouts.
package artifact

import (
	"fmt"

	"github.com/7blacky7/qnnrt/ml"
)

// layout decodes the version specific graph table and tensor records.
type layout interface {
	// scan validates the graph table starting at d and returns its index.
	scan(d *decoder) (backendID uint32, graphs []graphIndex, err error)
	// tensor decodes one tensor record at d.
	tensor(d *decoder) (ml.TensorDescriptor, error)
}

var layouts = map[uint32]layout{
	Version1: layoutV1{},
	Version2: layoutV2{},
	Version3: layoutV3{},
}

// graphIndex holds offsets into the artifact, never copies of its content.
type graphIndex struct {
	nameOff, nameLen int

	inputs  []int
	outputs []int

	vtcm      uint64
	spillFill uint64
}

func (g *graphIndex) name(data []byte) string {
	return borrowString(data, g.nameOff, g.nameLen)
}

// minTensorSize is the smallest possible tensor record, used to reject counts
// that cannot fit in the remaining data before allocating for them.
const minTensorSize = 4 * 6

// =============================================================================
// Version 1
// =============================================================================

type layoutV1 struct{}

func (layoutV1) scan(d *decoder) (uint32, []graphIndex, error) {
	n, err := read[uint32](d)
	if err != nil {
		return 0, nil, err
	}

	graphs, err := scanGraphs(d, uint64(n), func(g *graphIndex) error {
		var err error
		if g.nameOff, g.nameLen, err = d.stringV1(); err != nil {
			return err
		}
		if g.inputs, err = scanTensors(d, layoutV1{}); err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		if g.outputs, err = scanTensors(d, layoutV1{}); err != nil {
			return fmt.Errorf("outputs: %w", err)
		}
		return nil
	})
	return 0, graphs, err
}

func (layoutV1) tensor(d *decoder) (ml.TensorDescriptor, error) {
	return decodeTensor(d, d.stringV1, false)
}

// =============================================================================
// Version 2
// =============================================================================

type layoutV2 struct{}

func (layoutV2) scan(d *decoder) (uint32, []graphIndex, error) {
	n, err := read[uint64](d)
	if err != nil {
		return 0, nil, err
	}

	graphs, err := scanGraphs(d, n, func(g *graphIndex) error {
		var err error
		if g.nameOff, g.nameLen, err = d.stringV2(); err != nil {
			return err
		}
		if g.inputs, err = scanTensors(d, layoutV2{}); err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		if g.outputs, err = scanTensors(d, layoutV2{}); err != nil {
			return fmt.Errorf("outputs: %w", err)
		}
		return nil
	})
	return 0, graphs, err
}

func (layoutV2) tensor(d *decoder) (ml.TensorDescriptor, error) {
	return decodeTensor(d, d.stringV2, true)
}

// =============================================================================
// Version 3
// =============================================================================

type layoutV3 struct{}

func (layoutV3) scan(d *decoder) (uint32, []graphIndex, error) {
	n, err := read[uint64](d)
	if err != nil {
		return 0, nil, err
	}

	backendID, err := read[uint32](d)
	if err != nil {
		return 0, nil, err
	}

	graphs, err := scanGraphs(d, n, func(g *graphIndex) error {
		var err error
		if g.nameOff, g.nameLen, err = d.stringV2(); err != nil {
			return err
		}

		numInputs, err := read[uint32](d)
		if err != nil {
			return err
		}
		numOutputs, err := read[uint32](d)
		if err != nil {
			return err
		}
		if g.vtcm, err = read[uint64](d); err != nil {
			return err
		}
		if g.spillFill, err = read[uint64](d); err != nil {
			return err
		}

		if g.inputs, err = scanTensorsN(d, layoutV3{}, numInputs); err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		if g.outputs, err = scanTensorsN(d, layoutV3{}, numOutputs); err != nil {
			return fmt.Errorf("outputs: %w", err)
		}
		return nil
	})
	return backendID, graphs, err
}

func (layoutV3) tensor(d *decoder) (ml.TensorDescriptor, error) {
	return decodeTensor(d, d.stringV2, true)
}

// =============================================================================
// Gemeinsame Hilfsfunktionen
// =============================================================================

func scanGraphs(d *decoder, n uint64, fn func(*graphIndex) error) ([]graphIndex, error) {
	if n > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: graph count %d exceeds data", ErrCorrupt, n)
	}

	graphs := make([]graphIndex, n)
	for i := range graphs {
		if err := fn(&graphs[i]); err != nil {
			return nil, fmt.Errorf("graph %d: %w", i, err)
		}
	}
	return graphs, nil
}

// scanTensors reads a uint32 count followed by that many tensor records.
func scanTensors(d *decoder, l layout) ([]int, error) {
	n, err := read[uint32](d)
	if err != nil {
		return nil, err
	}
	return scanTensorsN(d, l, n)
}

func scanTensorsN(d *decoder, l layout, n uint32) ([]int, error) {
	if uint64(n)*minTensorSize > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: tensor count %d exceeds data", ErrCorrupt, n)
	}

	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = d.off
		if _, err := l.tensor(d); err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
	}
	return offsets, nil
}

// decodeTensor reads {id, name, type, format, dtype, rank, dims[rank]} and,
// when dynamic is set, one flag byte per dimension.
func decodeTensor(d *decoder, readString func() (int, int, error), dynamic bool) (ml.TensorDescriptor, error) {
	var t ml.TensorDescriptor

	var err error
	if t.ID, err = read[uint32](d); err != nil {
		return t, err
	}

	off, n, err := readString()
	if err != nil {
		return t, err
	}
	t.Name = borrowString(d.data, off, n)

	var fields [4]uint32
	for i := range fields {
		if fields[i], err = read[uint32](d); err != nil {
			return t, err
		}
	}
	t.Type = ml.TensorType(fields[0])
	t.Format = ml.DataFormat(fields[1])
	t.DType = ml.DataType(fields[2])
	rank := fields[3]

	if uint64(rank)*4 > uint64(d.remaining()) {
		return t, fmt.Errorf("%w: rank %d exceeds data", ErrCorrupt, rank)
	}

	t.Dims = make([]uint32, rank)
	for i := range t.Dims {
		if t.Dims[i], err = read[uint32](d); err != nil {
			return t, err
		}
	}

	if dynamic {
		flags, err := d.bytes(uint64(rank))
		if err != nil {
			return t, err
		}
		for i, f := range flags {
			if f != 0 {
				if t.DynamicDims == nil {
					t.DynamicDims = make([]bool, rank)
				}
				t.DynamicDims[i] = true
			}
		}
	}

	return t, nil
}
