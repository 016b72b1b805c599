// Package artifact - Schreiben von Context-Binaries
//
// Dieses Modul enthaelt:
// - GraphRecord: Inhalt eines Graph-Eintrags
// - Write: serialisiert Graphen und Backend-Payload in einer der drei Versionen
// - writeString/writeTensor: versionsabhaengige Serialisierung
package artifact

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/7blacky7/qnnrt/ml"
)

// GraphRecord is one graph table entry. VTCMSize and SpillFillSize are only
// stored by version 3.
type GraphRecord struct {
	Name    string
	Inputs  []ml.TensorDescriptor
	Outputs []ml.TensorDescriptor

	VTCMSize      uint64
	SpillFillSize uint64
}

// Write serializes graphs and payload with the layout of version. backendID
// is recorded by version 3 only.
func Write(w io.Writer, version, backendID uint32, graphs []GraphRecord, payload []byte) error {
	if _, ok := layouts[version]; !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	// Magic: "QNNC"
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return err
	}

	// Graph Count
	var err error
	switch version {
	case Version1:
		if uint64(len(graphs)) > math.MaxUint32 {
			return fmt.Errorf("too many graphs for v1: %d", len(graphs))
		}
		err = binary.Write(w, binary.LittleEndian, uint32(len(graphs)))
	case Version2:
		err = binary.Write(w, binary.LittleEndian, uint64(len(graphs)))
	case Version3:
		err = binary.Write(w, binary.LittleEndian, struct {
			NumGraphs uint64
			BackendID uint32
		}{uint64(len(graphs)), backendID})
	}
	if err != nil {
		return err
	}

	for _, g := range graphs {
		if err := writeGraph(w, version, g); err != nil {
			return fmt.Errorf("graph %q: %w", g.Name, err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(payload))); err != nil {
		return err
	}

	_, err = w.Write(payload)
	return err
}

func writeGraph(w io.Writer, version uint32, g GraphRecord) error {
	if err := writeString(w, version, g.Name); err != nil {
		return err
	}

	if version == Version3 {
		if err := binary.Write(w, binary.LittleEndian, struct {
			NumInputs, NumOutputs uint32
			VTCMSize              uint64
			SpillFillSize         uint64
		}{uint32(len(g.Inputs)), uint32(len(g.Outputs)), g.VTCMSize, g.SpillFillSize}); err != nil {
			return err
		}

		for _, ts := range [][]ml.TensorDescriptor{g.Inputs, g.Outputs} {
			for _, t := range ts {
				if err := writeTensor(w, version, t); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, ts := range [][]ml.TensorDescriptor{g.Inputs, g.Outputs} {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ts))); err != nil {
			return err
		}
		for _, t := range ts {
			if err := writeTensor(w, version, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeString(w io.Writer, version uint32, s string) error {
	if version == Version1 {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s)+1)); err != nil {
			return err
		}
		_, err := io.WriteString(w, s+"\x00")
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeTensor(w io.Writer, version uint32, t ml.TensorDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, t.ID); err != nil {
		return err
	}

	if err := writeString(w, version, t.Name); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, [4]uint32{
		uint32(t.Type),
		uint32(t.Format),
		uint32(t.DType),
		uint32(len(t.Dims)),
	}); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, t.Dims); err != nil {
		return err
	}

	if version == Version1 {
		return nil
	}

	flags := make([]uint8, len(t.Dims))
	for i := range flags {
		if i < len(t.DynamicDims) && t.DynamicDims[i] {
			flags[i] = 1
		}
	}
	_, err := w.Write(flags)
	return err
}
