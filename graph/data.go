package graph

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/7blacky7/qnnrt/ml"
)

// Encode converts values into the little endian representation of dt.
// Integer types truncate toward zero.
func Encode(dt ml.DataType, values []float32) ([]byte, error) {
	size := dt.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported data type %s", dt)
	}

	if dt == ml.DTypeBFloat16 {
		return bfloat16.EncodeFloat32(values), nil
	}

	buf := make([]byte, len(values)*size)
	for i, v := range values {
		b := buf[i*size:]
		switch dt {
		case ml.DTypeFloat32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		case ml.DTypeFloat16:
			binary.LittleEndian.PutUint16(b, float16.Fromfloat32(v).Bits())
		case ml.DTypeInt8:
			b[0] = byte(int8(v))
		case ml.DTypeUInt8:
			b[0] = uint8(v)
		case ml.DTypeBool8:
			if v != 0 {
				b[0] = 1
			}
		case ml.DTypeInt16:
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		case ml.DTypeUInt16:
			binary.LittleEndian.PutUint16(b, uint16(v))
		case ml.DTypeInt32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case ml.DTypeUInt32:
			binary.LittleEndian.PutUint32(b, uint32(v))
		}
	}
	return buf, nil
}

// Decode is the inverse of Encode.
func Decode(dt ml.DataType, b []byte) ([]float32, error) {
	size := dt.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported data type %s", dt)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %s", len(b), dt)
	}

	if dt == ml.DTypeBFloat16 {
		return bfloat16.DecodeFloat32(b), nil
	}

	values := make([]float32, len(b)/size)
	for i := range values {
		e := b[i*size:]
		switch dt {
		case ml.DTypeFloat32:
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(e))
		case ml.DTypeFloat16:
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(e)).Float32()
		case ml.DTypeInt8:
			values[i] = float32(int8(e[0]))
		case ml.DTypeUInt8, ml.DTypeBool8:
			values[i] = float32(e[0])
		case ml.DTypeInt16:
			values[i] = float32(int16(binary.LittleEndian.Uint16(e)))
		case ml.DTypeUInt16:
			values[i] = float32(binary.LittleEndian.Uint16(e))
		case ml.DTypeInt32:
			values[i] = float32(int32(binary.LittleEndian.Uint32(e)))
		case ml.DTypeUInt32:
			values[i] = float32(binary.LittleEndian.Uint32(e))
		}
	}
	return values, nil
}

// Fill returns a buffer of n elements of dt all set to v.
func Fill(dt ml.DataType, n int, v float32) ([]byte, error) {
	values := make([]float32, n)
	for i := range values {
		values[i] = v
	}
	return Encode(dt, values)
}
