package session

import (
	"os"

	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

// Artifact is the serialized context binary produced by FinalizeAndExport.
// It is immutable once produced.
type Artifact []byte

// WriteFile schreibt das Artefakt unveraendert auf die Platte
func (a Artifact) WriteFile(path string) error {
	return os.WriteFile(path, a, 0o644)
}

// Inspect returns the version independent graph table.
func (a Artifact) Inspect() (*ml.BinaryInfo, error) {
	return artifact.Inspect(a)
}

// ReadArtifact liest ein Artefakt von der Platte
func ReadArtifact(path string) (Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Artifact(b), nil
}
