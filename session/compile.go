// compile.go - Compile-Session: Graph aufbauen und als Artefakt exportieren
//
// Dieses Modul enthaelt:
// - OpenForCompile: Praefix + Context + Graph
// - CreateTensor / AddNode: Tensor- und Op-Registrierung
// - FinalizeAndExport: Finalisierung und Abruf des Context-Binaries
package session

import (
	"fmt"

	"github.com/7blacky7/qnnrt/ml"
)

// OpenForCompile loads the backend module and creates an empty graph called
// graphName. On failure every acquired handle is already released.
func OpenForCompile(modulePath, graphName string, opts ...Option) (*Session, error) {
	s := newSession(KindCompile, opts)
	s.log.Info("opening compile session", "module", modulePath, "graph", graphName, "arch", s.opts.arch)

	if err := s.open(modulePath); err != nil {
		return nil, err
	}

	var err error
	s.context, err = s.iface.ContextCreate(s.backend, s.device, nil)
	if err != nil {
		return nil, s.fail(err)
	}
	s.acquired("context", func() error { return s.iface.ContextFree(s.context, 0) })
	if err := s.advance(ContextReady); err != nil {
		return nil, err
	}

	s.graph, err = s.iface.GraphCreate(s.context, graphName)
	if err != nil {
		return nil, s.fail(err)
	}
	s.graphInfo.Name = graphName
	if err := s.advance(GraphComposing); err != nil {
		return nil, err
	}

	return s, nil
}

// CreateTensor declares t on the graph. The backend assigns t.ID.
func (s *Session) CreateTensor(t *ml.TensorDescriptor) error {
	if err := s.check("createTensor", GraphComposing); err != nil {
		return err
	}

	if err := s.iface.TensorCreateGraphTensor(s.graph, t); err != nil {
		return s.fail(err)
	}

	switch t.Type {
	case ml.TensorTypeAppWrite:
		s.graphInfo.Inputs = append(s.graphInfo.Inputs, t.Clone())
	case ml.TensorTypeAppRead:
		s.graphInfo.Outputs = append(s.graphInfo.Outputs, t.Clone())
	}

	s.log.Debug("tensor created", "tensor", t.String())
	return nil
}

// AddNode adds op to the graph. Tensor references are checked on finalize.
func (s *Session) AddNode(op ml.OpConfig) error {
	if err := s.check("addNode", GraphComposing); err != nil {
		return err
	}

	if err := s.iface.GraphAddNode(s.graph, op); err != nil {
		return s.fail(err)
	}

	s.log.Debug("node added", "node", op.Name, "op", op.TypeName)
	return nil
}

// FinalizeAndExport finalizes the graph and retrieves the context binary.
func (s *Session) FinalizeAndExport() (Artifact, error) {
	if err := s.check("finalizeAndExport", GraphComposing); err != nil {
		return nil, err
	}

	if err := s.iface.GraphFinalize(s.graph, 0); err != nil {
		return nil, s.fail(fmt.Errorf("%w: %s: %w", ErrGraphInvalid, s.graphInfo.Name, err))
	}
	if err := s.advance(GraphFinalized); err != nil {
		return nil, err
	}

	size, err := s.iface.ContextGetBinarySize(s.context)
	if err != nil {
		return nil, s.fail(err)
	}
	if size == 0 {
		return nil, s.fail(ErrArtifactEmpty)
	}

	buf := make([]byte, size)
	written, err := s.iface.ContextGetBinary(s.context, buf)
	if err != nil {
		return nil, s.fail(err)
	}
	if written != size {
		return nil, s.fail(fmt.Errorf("%w: wrote %d of %d bytes", ErrArtifactTruncated, written, size))
	}

	if err := s.advance(ArtifactExtracted); err != nil {
		return nil, err
	}

	s.log.Info("artifact extracted", "graph", s.graphInfo.Name, "size", size)
	return Artifact(buf), nil
}
