// types.go - Datentypen und Konstanten fuer Tensor-Beschreibungen
// Dieses Modul definiert DataType, TensorType, DataFormat und MemType
// so wie sie vom Accelerator-Backend erwartet werden.
package ml

import "fmt"

// DataType is the element type of a tensor as understood by the backend.
type DataType uint32

const (
	DTypeUnknown DataType = iota
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeUInt8
	DTypeUInt16
	DTypeUInt32
	DTypeFloat16
	DTypeBFloat16
	DTypeFloat32
	DTypeBool8
)

// Size gibt die Groesse eines Elements in Bytes zurueck (0 fuer unbekannt)
func (t DataType) Size() int {
	switch t {
	case DTypeInt8, DTypeUInt8, DTypeBool8:
		return 1
	case DTypeInt16, DTypeUInt16, DTypeFloat16, DTypeBFloat16:
		return 2
	case DTypeInt32, DTypeUInt32, DTypeFloat32:
		return 4
	default:
		return 0
	}
}

func (t DataType) String() string {
	switch t {
	case DTypeInt8:
		return "int8"
	case DTypeInt16:
		return "int16"
	case DTypeInt32:
		return "int32"
	case DTypeUInt8:
		return "uint8"
	case DTypeUInt16:
		return "uint16"
	case DTypeUInt32:
		return "uint32"
	case DTypeFloat16:
		return "float16"
	case DTypeBFloat16:
		return "bfloat16"
	case DTypeFloat32:
		return "float32"
	case DTypeBool8:
		return "bool8"
	default:
		return fmt.Sprintf("dtype(%d)", uint32(t))
	}
}

// ParseDataType parst einen Typnamen wie "float16" oder "f16"
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "int8", "i8":
		return DTypeInt8, nil
	case "int16", "i16":
		return DTypeInt16, nil
	case "int32", "i32":
		return DTypeInt32, nil
	case "uint8", "u8":
		return DTypeUInt8, nil
	case "uint16", "u16":
		return DTypeUInt16, nil
	case "uint32", "u32":
		return DTypeUInt32, nil
	case "float16", "f16", "fp16":
		return DTypeFloat16, nil
	case "bfloat16", "bf16":
		return DTypeBFloat16, nil
	case "float32", "f32", "fp32":
		return DTypeFloat32, nil
	case "bool8", "bool":
		return DTypeBool8, nil
	default:
		return DTypeUnknown, fmt.Errorf("unknown data type %q", s)
	}
}

// TensorType is the role a tensor plays in a graph.
type TensorType uint32

const (
	// TensorTypeAppWrite is written by the client before execution (graph input).
	TensorTypeAppWrite TensorType = iota
	// TensorTypeAppRead is read by the client after execution (graph output).
	TensorTypeAppRead
	// TensorTypeStatic holds constant data baked into the artifact.
	TensorTypeStatic
	// TensorTypeNative is internal to the graph.
	TensorTypeNative
)

func (t TensorType) String() string {
	switch t {
	case TensorTypeAppWrite:
		return "app_write"
	case TensorTypeAppRead:
		return "app_read"
	case TensorTypeStatic:
		return "static"
	case TensorTypeNative:
		return "native"
	default:
		return fmt.Sprintf("tensor_type(%d)", uint32(t))
	}
}

// DataFormat is the storage layout of a tensor.
type DataFormat uint32

const (
	DataFormatDense DataFormat = iota
	DataFormatFlatBuffer
)

func (f DataFormat) String() string {
	switch f {
	case DataFormatDense:
		return "dense"
	case DataFormatFlatBuffer:
		return "flat_buffer"
	default:
		return fmt.Sprintf("format(%d)", uint32(f))
	}
}

// MemType beschreibt, wo die Daten eines Tensors liegen
type MemType uint32

const (
	MemTypeUnset MemType = iota
	MemTypeRaw
	MemTypeMemHandle
)

func (m MemType) String() string {
	switch m {
	case MemTypeUnset:
		return "unset"
	case MemTypeRaw:
		return "raw"
	case MemTypeMemHandle:
		return "memhandle"
	default:
		return fmt.Sprintf("memtype(%d)", uint32(m))
	}
}

// Version is a semantic version triple reported by a provider.
type Version struct {
	Major, Minor, Patch uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
