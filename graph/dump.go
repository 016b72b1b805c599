// dump.go - Tensor-Inhalte lesbar ausgeben
// Wird vom run-Befehl fuer die Ausgabetensoren verwendet.
package graph

import (
	"strconv"
	"strings"

	"github.com/7blacky7/qnnrt/ml"
)

// DumpOptions configures tensor dump output format.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the number of decimal places to print.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Precision = n
	}
}

// DumpWithThreshold sets the threshold for printing the entire tensor. If the
// number of elements is less than or equal to this value, the entire tensor
// will be printed. Otherwise, only the beginning and end of each dimension
// will be printed.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Threshold = n
	}
}

// DumpWithEdgeItems sets the number of elements to print at the beginning and
// end of each dimension.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.EdgeItems = n
	}
}

type dumpOptions struct {
	Precision, Threshold, EdgeItems int
}

// Dump renders the row-major contents of t. data must hold t.ByteSize() bytes.
func Dump(t ml.TensorDescriptor, data []byte, optsFuncs ...DumpOptions) string {
	opts := dumpOptions{Precision: 4, Threshold: 1000, EdgeItems: 3}
	for _, optsFunc := range optsFuncs {
		optsFunc(&opts)
	}

	values, err := Decode(t.DType, data)
	if err != nil || len(values) != t.Elements() {
		return "<unsupported>"
	}

	shape := t.Shape()
	if len(shape) == 0 {
		shape = []int{1}
	}

	items := opts.EdgeItems
	if t.Elements() <= opts.Threshold {
		items = t.Elements()
	}

	format := func(f float32) string {
		return strconv.FormatFloat(float64(f), 'f', opts.Precision, 32)
	}

	var sb strings.Builder
	var f func(dims []int, offset int)
	f = func(dims []int, offset int) {
		stride := 1
		for _, d := range dims[1:] {
			stride *= d
		}

		prefix := strings.Repeat(" ", len(shape)-len(dims)+1)
		sb.WriteString("[")
		for i := 0; i < dims[0]; i++ {
			if i >= items && i < dims[0]-items {
				sb.WriteString("...")
				if len(dims) > 1 {
					sb.WriteString(",")
					sb.WriteString(strings.Repeat("\n", len(dims)-1))
					sb.WriteString(prefix)
				} else {
					sb.WriteString(", ")
				}
				i = dims[0] - items - 1
				continue
			}

			if len(dims) > 1 {
				f(dims[1:], offset+i*stride)
				if i < dims[0]-1 {
					sb.WriteString(",")
					sb.WriteString(strings.Repeat("\n", len(dims)-1))
					sb.WriteString(prefix)
				}
				continue
			}

			text := format(values[offset+i])
			if text[0] != '-' {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
			if i < dims[0]-1 {
				sb.WriteString(", ")
			}
		}
		sb.WriteString("]")
	}
	f(shape, 0)

	return sb.String()
}
