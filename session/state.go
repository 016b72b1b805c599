// state.go - Zustandsautomat einer Accelerator-Session
//
// Dieses Modul enthaelt:
// - State: alle Zustaende beider Session-Arten plus Failed
// - transitions: erlaubte Einweg-Uebergaenge (kein Zustand darf uebersprungen werden)
package session

import "fmt"

// State is the position of a session in its resource chain.
type State int

const (
	Unopened State = iota
	ModuleLoaded
	LoggerReady
	BackendReady
	DeviceReady

	// compile branch
	ContextReady
	GraphComposing
	GraphFinalized
	ArtifactExtracted

	// load branch
	SystemModuleLoaded
	ProfilerReady
	ContextFromArtifact
	GraphRetrieved
	Bound
	Executing

	Closed
	Failed
)

var stateNames = [...]string{
	Unopened:            "unopened",
	ModuleLoaded:        "module_loaded",
	LoggerReady:         "logger_ready",
	BackendReady:        "backend_ready",
	DeviceReady:         "device_ready",
	ContextReady:        "context_ready",
	GraphComposing:      "graph_composing",
	GraphFinalized:      "graph_finalized",
	ArtifactExtracted:   "artifact_extracted",
	SystemModuleLoaded:  "system_module_loaded",
	ProfilerReady:       "profiler_ready",
	ContextFromArtifact: "context_from_artifact",
	GraphRetrieved:      "graph_retrieved",
	Bound:               "bound",
	Executing:           "executing",
	Closed:              "closed",
	Failed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the forward moves. Closing and failing are handled
// separately since both are reachable from every live state.
var transitions = map[State][]State{
	Unopened:     {ModuleLoaded},
	ModuleLoaded: {LoggerReady},
	LoggerReady:  {BackendReady},
	BackendReady: {DeviceReady},
	DeviceReady:  {ContextReady, SystemModuleLoaded},

	ContextReady:   {GraphComposing},
	GraphComposing: {GraphFinalized},
	GraphFinalized: {ArtifactExtracted},

	SystemModuleLoaded:  {ProfilerReady},
	ProfilerReady:       {ContextFromArtifact},
	ContextFromArtifact: {GraphRetrieved},
	GraphRetrieved:      {Bound},
	Bound:               {Bound, Executing},
	Executing:           {Bound, Executing},
}

func canAdvance(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
