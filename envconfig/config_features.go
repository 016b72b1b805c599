// config_features.go - Feature-Flags und Ausfuehrungs-Parameter
//
// Dieses Modul enthaelt:
// - SharedBuffer: Zero-Copy-Puffer aus der Shared-Memory-Arena
// - Iterations: Anzahl der Graph-Ausfuehrungen pro Lauf
// - Alignment: Ausrichtung der Arena-Allokationen
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// SharedBuffer bindet Ein-/Ausgaben ueber exportierte Arena-Handles statt Rohzeiger
	SharedBuffer = Bool("QNN_SHARED_BUFFER")
)

// =============================================================================
// Ausfuehrungs-Einstellungen
// =============================================================================

var (
	// Iterations setzt die Anzahl der Graph-Ausfuehrungen
	// Konfigurierbar via QNN_ITERATIONS
	Iterations = Uint("QNN_ITERATIONS", 10)

	// Alignment setzt die Byte-Ausrichtung fuer Arena-Allokationen
	// Konfigurierbar via QNN_ALIGNMENT
	Alignment = Uint("QNN_ALIGNMENT", 8)
)
