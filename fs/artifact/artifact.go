// Package artifact - Versioniertes Context-Binary
//
// Dieses Modul enthaelt den Einstieg zum Lesen von Context-Binaries:
// - Magic/Version-Konstanten und Fehler
// - File: versionsunabhaengige Sicht auf ein Binary (borgt den Speicher)
// - Open: erkennt die Version und waehlt das passende Layout
// - Inspect: erzeugt die generische ml.BinaryInfo
package artifact

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/7blacky7/qnnrt/ml"
)

// Magic leitet jedes Context-Binary ein
var Magic = [4]byte{'Q', 'N', 'N', 'C'}

// Known schema versions.
const (
	Version1 uint32 = 1
	Version2 uint32 = 2
	Version3 uint32 = 3

	LatestVersion = Version3
)

var (
	ErrInvalidMagic       = errors.New("invalid artifact magic")
	ErrUnsupportedVersion = errors.New("unsupported artifact version")
	ErrCorrupt            = errors.New("corrupt artifact")
)

// headerSize is magic plus version tag.
const headerSize = 8

// File is a read-only view over an artifact. Strings returned from it borrow
// the artifact memory, so the underlying slice must not be modified while the
// File or anything derived from it is in use.
type File struct {
	data    []byte
	version uint32
	layout  layout

	backendID uint32
	graphs    []graphIndex
	payload   []byte
}

// Open parses the header and builds the graph index. The data is not copied.
func Open(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}

	if !bytes.Equal(data[:4], Magic[:]) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, data[:4])
	}

	d := &decoder{data: data, off: 4}
	version, err := read[uint32](d)
	if err != nil {
		return nil, err
	}

	l, ok := layouts[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	f := &File{data: data, version: version, layout: l}
	if f.backendID, f.graphs, err = l.scan(d); err != nil {
		return nil, fmt.Errorf("v%d graph table: %w", version, err)
	}

	size, err := read[uint64](d)
	if err != nil {
		return nil, fmt.Errorf("payload size: %w", err)
	}

	if f.payload, err = d.bytes(size); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	if d.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-d.off)
	}

	return f, nil
}

// Version gibt die Schema-Version zurueck
func (f *File) Version() uint32 {
	return f.version
}

// BackendID is the id of the producing backend. Only version 3 records it.
func (f *File) BackendID() uint32 {
	return f.backendID
}

// NumGraphs gibt die Anzahl der Graphen zurueck
func (f *File) NumGraphs() int {
	return len(f.graphs)
}

// Graph returns the i-th graph.
func (f *File) Graph(i int) Graph {
	return Graph{f: f, idx: &f.graphs[i]}
}

// GraphByName sucht einen Graphen ueber seinen Namen
func (f *File) GraphByName(name string) (Graph, bool) {
	for i := range f.graphs {
		if f.graphs[i].name(f.data) == name {
			return f.Graph(i), true
		}
	}
	return Graph{}, false
}

// Payload is the backend specific part of the artifact.
func (f *File) Payload() []byte {
	return f.payload
}

// Info builds the generic view of all graphs.
func (f *File) Info() *ml.BinaryInfo {
	info := &ml.BinaryInfo{
		Version: f.version,
		Graphs:  make([]ml.GraphInfo, f.NumGraphs()),
	}

	for i := range f.graphs {
		g := f.Graph(i)
		info.Graphs[i] = ml.GraphInfo{
			Name:    g.Name(),
			Inputs:  g.Inputs(),
			Outputs: g.Outputs(),
		}
	}

	return info
}

// Inspect returns the generic view of an artifact without the caller having
// to know which schema version produced it.
func Inspect(data []byte) (*ml.BinaryInfo, error) {
	f, err := Open(data)
	if err != nil {
		return nil, err
	}
	return f.Info(), nil
}

// Graph is the view of one graph record.
type Graph struct {
	f   *File
	idx *graphIndex
}

// Name borrows the artifact memory.
func (g Graph) Name() string {
	return g.idx.name(g.f.data)
}

func (g Graph) NumInputs() int {
	return len(g.idx.inputs)
}

func (g Graph) NumOutputs() int {
	return len(g.idx.outputs)
}

// Input decodes the i-th input descriptor.
func (g Graph) Input(i int) ml.TensorDescriptor {
	return g.tensor(g.idx.inputs[i])
}

// Output decodes the i-th output descriptor.
func (g Graph) Output(i int) ml.TensorDescriptor {
	return g.tensor(g.idx.outputs[i])
}

// Inputs gibt alle Eingabe-Deskriptoren zurueck
func (g Graph) Inputs() []ml.TensorDescriptor {
	ts := make([]ml.TensorDescriptor, g.NumInputs())
	for i := range ts {
		ts[i] = g.Input(i)
	}
	return ts
}

// Outputs gibt alle Ausgabe-Deskriptoren zurueck
func (g Graph) Outputs() []ml.TensorDescriptor {
	ts := make([]ml.TensorDescriptor, g.NumOutputs())
	for i := range ts {
		ts[i] = g.Output(i)
	}
	return ts
}

// VTCMSize is the on-chip memory the graph reserves (version 3 only).
func (g Graph) VTCMSize() uint64 {
	return g.idx.vtcm
}

// SpillFillSize is the spill/fill buffer size of the graph (version 3 only).
func (g Graph) SpillFillSize() uint64 {
	return g.idx.spillFill
}

func (g Graph) tensor(off int) ml.TensorDescriptor {
	d := &decoder{data: g.f.data, off: off}
	t, err := g.f.layout.tensor(d)
	if err != nil {
		// offsets were validated by Open
		panic(fmt.Sprintf("artifact: tensor record at %d: %v", off, err))
	}
	return t
}
