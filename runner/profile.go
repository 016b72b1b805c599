package runner

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/7blacky7/qnnrt/ml"
)

// FormatEvent renders e as "<identifier> <value>" followed by " (<unit>)"
// when the unit has a label.
func FormatEvent(e ml.ProfileEventData) string {
	var sb strings.Builder
	sb.WriteString(e.Identifier)
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatUint(e.Value, 10))
	if label := e.Unit.Label(); label != "" {
		sb.WriteString(" (")
		sb.WriteString(label)
		sb.WriteByte(')')
	}
	return sb.String()
}

// ProfileLog is an append-only text file of profiling events, one per line.
// Existing contents are kept.
type ProfileLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenProfileLog oeffnet (oder erstellt) die Profil-Datei zum Anhaengen
func OpenProfileLog(path string) (*ProfileLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open profile log: %w", err)
	}
	return &ProfileLog{f: f}, nil
}

// Append writes one event line.
func (p *ProfileLog) Append(e ml.ProfileEventData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := fmt.Fprintln(p.f, FormatEvent(e))
	return err
}

// Name gibt den Dateipfad zurueck
func (p *ProfileLog) Name() string {
	return p.f.Name()
}

func (p *ProfileLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}
