// tensor.go - Tensor-Deskriptoren und Op-Konfiguration
//
// Dieses Modul enthaelt:
// - TensorDescriptor: Identitaet, Rolle, Format, Datentyp, Shape und Datenort
// - OpConfig: Knoten-Beschreibung fuer GraphAddNode
// - MemDescriptor: Beschreibung eines registrierbaren Shared-Memory-Puffers
package ml

import (
	"errors"
	"fmt"
	"slices"
)

// ErrBufferSize is returned when a raw buffer does not match the tensor shape.
var ErrBufferSize = errors.New("buffer size does not match tensor shape")

// TensorDescriptor is the structural description of a graph tensor together
// with the location of its data.
type TensorDescriptor struct {
	ID     uint32
	Name   string
	Type   TensorType
	Format DataFormat
	DType  DataType
	Dims   []uint32

	// DynamicDims marks dimensions whose size is only known at execution time.
	// Empty means all dimensions are static.
	DynamicDims []bool

	MemType MemType

	// Buffer is the raw client buffer when MemType is MemTypeRaw.
	Buffer []byte

	// MemHandle is the registered memory when MemType is MemTypeMemHandle.
	MemHandle MemHandle
}

// Rank gibt die Anzahl der Dimensionen zurueck
func (t TensorDescriptor) Rank() int {
	return len(t.Dims)
}

// Elements gibt die Anzahl der Elemente zurueck
func (t TensorDescriptor) Elements() int {
	n := 1
	for _, d := range t.Dims {
		n *= int(d)
	}
	return n
}

// ByteSize is the number of bytes a dense buffer for this tensor occupies.
func (t TensorDescriptor) ByteSize() int {
	return t.Elements() * t.DType.Size()
}

// Shape gibt die Dimensionen als []int zurueck
func (t TensorDescriptor) Shape() []int {
	shape := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		shape[i] = int(d)
	}
	return shape
}

// Validate checks the data location of the descriptor. A raw buffer must be
// exactly ByteSize bytes long.
func (t TensorDescriptor) Validate() error {
	if t.DType.Size() == 0 {
		return fmt.Errorf("tensor %q: unsupported data type %s", t.Name, t.DType)
	}

	switch t.MemType {
	case MemTypeUnset:
	case MemTypeRaw:
		if t.Buffer == nil {
			return nil
		}
		if len(t.Buffer) != t.ByteSize() {
			return fmt.Errorf("tensor %q: %w: have %d bytes, want %d", t.Name, ErrBufferSize, len(t.Buffer), t.ByteSize())
		}
	case MemTypeMemHandle:
		if t.MemHandle == 0 {
			return fmt.Errorf("tensor %q: memory handle not set", t.Name)
		}
	default:
		return fmt.Errorf("tensor %q: unknown memory type %d", t.Name, t.MemType)
	}

	return nil
}

// Clone returns a deep copy of the descriptor without its data location.
func (t TensorDescriptor) Clone() TensorDescriptor {
	c := t
	c.Dims = slices.Clone(t.Dims)
	c.DynamicDims = slices.Clone(t.DynamicDims)
	c.MemType = MemTypeUnset
	c.Buffer = nil
	c.MemHandle = 0
	return c
}

// WithBuffer returns a copy bound to a raw client buffer.
func (t TensorDescriptor) WithBuffer(b []byte) TensorDescriptor {
	c := t
	c.MemType = MemTypeRaw
	c.Buffer = b
	c.MemHandle = 0
	return c
}

// WithMemHandle returns a copy bound to registered memory.
func (t TensorDescriptor) WithMemHandle(h MemHandle) TensorDescriptor {
	c := t
	c.MemType = MemTypeMemHandle
	c.Buffer = nil
	c.MemHandle = h
	return c
}

func (t TensorDescriptor) String() string {
	return fmt.Sprintf("%s(id=%d %s %s %v)", t.Name, t.ID, t.Type, t.DType, t.Dims)
}

// Op package and type names understood by the backends.
const (
	OpPackageNameQtiAisw = "qti.aisw"

	OpFullyConnected = "FullyConnected"
	OpMatMul         = "MatMul"
	OpElementWiseAdd = "ElementWiseAdd"
	OpRelu           = "Relu"
)

// OpConfig describes one node of a graph. Inputs and Outputs reference
// tensors that were created on the graph before.
type OpConfig struct {
	Name        string
	PackageName string
	TypeName    string
	Inputs      []TensorDescriptor
	Outputs     []TensorDescriptor
	Params      map[string]any
}

// MemDescriptor describes shared memory to register with a context.
type MemDescriptor struct {
	Dims  []uint32
	DType DataType

	// FD is the exported file descriptor of the shared allocation and Offset
	// the position of the tensor data inside it.
	FD     int
	Offset int64
}

// ByteSize gibt die Groesse des registrierten Bereichs zurueck
func (m MemDescriptor) ByteSize() int {
	n := m.DType.Size()
	for _, d := range m.Dims {
		n *= int(d)
	}
	return n
}
