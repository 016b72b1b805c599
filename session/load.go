// load.go - Load-Session: Artefakt laden, binden und ausfuehren
//
// Dieses Modul enthaelt:
// - OpenForLoad: Praefix + System-Modul + Profiler + Context aus Artefakt + Graph
// - RegisterMemory / Bind / Execute / ProfileEvents
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/agnivade/levenshtein"

	"github.com/7blacky7/qnnrt/ml"
)

// OpenForLoad restores the graph of art. The system module is used to read
// the graph table before the backend sees the artifact.
func OpenForLoad(modulePath, systemModulePath string, art Artifact, opts ...Option) (*Session, error) {
	s := newSession(KindLoad, opts)
	s.log.Info("opening load session", "module", modulePath, "system_module", systemModulePath, "size", len(art), "arch", s.opts.arch)

	if len(art) == 0 {
		return nil, s.fail(ErrArtifactEmpty)
	}

	if err := s.open(modulePath); err != nil {
		return nil, err
	}

	if err := s.loadSystem(systemModulePath, art); err != nil {
		return nil, err
	}

	var err error
	s.profile, err = s.iface.ProfileCreate(s.backend, ml.ProfileLevelDetailed)
	if err != nil {
		return nil, s.fail(err)
	}
	s.acquired("profile", func() error { return s.iface.ProfileFree(s.profile) })

	if err := s.iface.ProfileSetConfig(s.profile, []ml.ProfileConfig{{Option: ml.ProfileConfigOptionEnableOpTrace}}); err != nil {
		return nil, s.fail(err)
	}
	if err := s.advance(ProfilerReady); err != nil {
		return nil, err
	}

	s.context, err = s.iface.ContextCreateFromBinary(s.backend, s.device, nil, art)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %w", ErrArtifactCorrupt, err))
	}
	s.acquired("context", func() error { return s.iface.ContextFree(s.context, s.profile) })
	if err := s.advance(ContextFromArtifact); err != nil {
		return nil, err
	}

	name := s.opts.graphName
	if name == "" {
		name = s.info.Graphs[0].Name
	}

	gi, ok := s.info.Graph(name)
	if !ok {
		return nil, s.fail(graphNotFound(name, s.info.GraphNames()))
	}

	s.graph, err = s.iface.GraphRetrieve(s.context, name)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %q: %w", ErrGraphNotFound, name, err))
	}
	s.graphInfo = gi
	if err := s.advance(GraphRetrieved); err != nil {
		return nil, err
	}

	s.log.Info("graph retrieved", "graph", name, "inputs", len(gi.Inputs), "outputs", len(gi.Outputs))
	return s, nil
}

// loadSystem opens the system module and reads the graph table of art.
func (s *Session) loadSystem(path string, art Artifact) error {
	m, providers, err := ml.DiscoverSystem(path)
	if err != nil {
		return s.fail(err)
	}
	s.acquired("system module", m.Close)

	sp, err := ml.SelectSystem(providers)
	if err != nil {
		return s.fail(err)
	}
	sys := sp.Interface

	h, err := sys.SystemContextCreate()
	if err != nil {
		return s.fail(err)
	}
	s.acquired("system context", func() error { return sys.SystemContextFree(h) })

	s.info, err = sys.SystemContextGetBinaryInfo(h, art)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrArtifactCorrupt, err))
	}

	if len(s.info.Graphs) == 0 {
		return s.fail(fmt.Errorf("%w: no graphs", ErrArtifactCorrupt))
	}

	s.log.Debug("binary info", "version", s.info.Version, "graphs", s.info.GraphNames())
	return s.advance(SystemModuleLoaded)
}

func graphNotFound(name string, names []string) error {
	best, score := "", -1
	for _, n := range names {
		if d := levenshtein.ComputeDistance(name, n); score < 0 || d < score {
			best, score = n, d
		}
	}

	if best != "" && score <= max(len(name), len(best))/2 {
		return fmt.Errorf("%w: %q, did you mean %q?", ErrGraphNotFound, name, best)
	}
	return fmt.Errorf("%w: %q, artifact has %v", ErrGraphNotFound, name, names)
}

// Graph returns the tensor table of the retrieved graph.
func (s *Session) Graph() ml.GraphInfo {
	return s.graphInfo
}

// BinaryInfo returns the graph table read from the artifact.
func (s *Session) BinaryInfo() *ml.BinaryInfo {
	return s.info
}

// RegisterMemory registers shared memory with the context. The handle is
// deregistered before the context is freed.
func (s *Session) RegisterMemory(desc ml.MemDescriptor) (ml.MemHandle, error) {
	if err := s.check("registerMemory", GraphRetrieved, Bound, Executing); err != nil {
		return 0, err
	}

	h, err := s.iface.MemRegister(s.context, desc)
	if err != nil {
		return 0, s.fail(err)
	}
	s.acquired("memory", func() error { return s.iface.MemDeRegister(h) })
	return h, nil
}

// Bind sets the tensors used by Execute. They must match the graph table
// positionally.
func (s *Session) Bind(inputs, outputs []ml.TensorDescriptor) error {
	if err := s.check("bind", GraphRetrieved, Bound, Executing); err != nil {
		return err
	}

	if err := matchTensors("input", s.graphInfo.Inputs, inputs); err != nil {
		return err
	}
	if err := matchTensors("output", s.graphInfo.Outputs, outputs); err != nil {
		return err
	}

	s.inputs, s.outputs = inputs, outputs
	return s.advance(Bound)
}

func matchTensors(kind string, want, have []ml.TensorDescriptor) error {
	if len(want) != len(have) {
		return fmt.Errorf("%d %ss bound, graph declares %d", len(have), kind, len(want))
	}

	var errs []error
	for i, t := range have {
		if t.ID != want[i].ID || t.DType != want[i].DType || !slices.Equal(t.Dims, want[i].Dims) {
			errs = append(errs, fmt.Errorf("%s %d: bound %s, declared %s", kind, i, t, want[i]))
			continue
		}
		if t.MemType == ml.MemTypeUnset {
			errs = append(errs, fmt.Errorf("%s %q has no data", kind, t.Name))
			continue
		}
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute runs the graph once with the bound tensors. A backend failure is
// fatal to the session.
func (s *Session) Execute() error {
	if err := s.check("execute", Bound, Executing); err != nil {
		return err
	}

	if err := s.advance(Executing); err != nil {
		return err
	}

	if err := s.iface.GraphExecute(s.graph, s.inputs, s.outputs, s.profile); err != nil {
		return s.fail(err)
	}
	return nil
}

// ProfileEvents returns the events recorded by the last Execute.
func (s *Session) ProfileEvents() ([]ml.ProfileEventData, error) {
	if err := s.check("profileEvents", Executing); err != nil {
		return nil, err
	}

	ids, err := s.iface.ProfileGetEvents(s.profile)
	if err != nil {
		return nil, s.fail(err)
	}

	events := make([]ml.ProfileEventData, 0, len(ids))
	for _, id := range ids {
		e, err := s.iface.ProfileGetEventData(id)
		if err != nil {
			return nil, s.fail(err)
		}
		events = append(events, e)
	}
	return events, nil
}
