// runner.go - Ausfuehrungs-Engine fuer geladene Graphen
//
// Dieses Modul enthaelt:
// - Session: die Load-Session-Operationen, die der Runner benoetigt
// - Bind: paart Graph-Tensoren positionell mit Client-Puffern (raw oder shared)
// - Execute: N Iterationen mit Zeitmessung, Profil-Events an eine Senke
// - Stats: Latenz-Statistik ueber alle Iterationen
package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/7blacky7/qnnrt/arena"
	"github.com/7blacky7/qnnrt/ml"
)

var (
	// ErrExecutionFailed is returned when an iteration fails. No further
	// iterations are run.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrBindMismatch is returned when descriptors and buffers do not pair up.
	ErrBindMismatch = errors.New("bind mismatch")
	// ErrNotShared is returned in shared mode for buffers the arena did not allocate.
	ErrNotShared = errors.New("buffer not allocated from shared memory arena")
)

// Session is the part of a load session the runner drives.
type Session interface {
	RegisterMemory(ml.MemDescriptor) (ml.MemHandle, error)
	Bind(inputs, outputs []ml.TensorDescriptor) error
	Execute() error
	ProfileEvents() ([]ml.ProfileEventData, error)
}

// Sink receives every profiling event of every iteration.
type Sink interface {
	Append(ml.ProfileEventData) error
}

// Bind pairs descs with buffers by position. In shared mode every buffer
// must come from a and is registered with s; otherwise buffers are bound as
// raw client memory and must match the tensor size exactly.
func Bind(s Session, a *arena.Arena, descs []ml.TensorDescriptor, buffers [][]byte, shared bool) ([]ml.TensorDescriptor, error) {
	if len(descs) != len(buffers) {
		return nil, fmt.Errorf("%w: %d tensors, %d buffers", ErrBindMismatch, len(descs), len(buffers))
	}

	bound := make([]ml.TensorDescriptor, len(descs))
	for i, desc := range descs {
		buf := buffers[i]
		if len(buf) != desc.ByteSize() {
			return nil, fmt.Errorf("%w: tensor %q needs %d bytes, buffer has %d", ErrBindMismatch, desc.Name, desc.ByteSize(), len(buf))
		}

		if !shared {
			bound[i] = desc.WithBuffer(buf)
			continue
		}

		if a == nil {
			return nil, arena.ErrArenaUninitialized
		}

		fd, offset := a.ExportHandle(buf)
		if fd == arena.InvalidHandle {
			return nil, fmt.Errorf("tensor %q: %w", desc.Name, ErrNotShared)
		}

		h, err := s.RegisterMemory(ml.MemDescriptor{
			Dims:   slices.Clone(desc.Dims),
			DType:  desc.DType,
			FD:     fd,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", desc.Name, err)
		}

		slog.Debug("registered shared buffer", "tensor", desc.Name, "fd", fd, "offset", offset, "handle", h)
		bound[i] = desc.WithMemHandle(h)
	}

	return bound, nil
}

// Stats summarizes the iteration latencies of one Execute call.
type Stats struct {
	Iterations int
	Total      time.Duration
	Min        time.Duration
	Avg        time.Duration
	Max        time.Duration
	Events     int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d iterations, total %s, min %s, avg %s, max %s", s.Iterations, s.Total, s.Min, s.Avg, s.Max)
}

// Execute binds inputs and outputs once and runs the graph iterations times.
// After every iteration the profiling events are appended to sink, which
// may be nil. The first failing iteration ends the run.
func Execute(s Session, inputs, outputs []ml.TensorDescriptor, iterations int, sink Sink) (Stats, error) {
	if iterations < 1 {
		return Stats{}, fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}

	if err := s.Bind(inputs, outputs); err != nil {
		return Stats{}, fmt.Errorf("bind: %w", err)
	}

	latencies := make([]time.Duration, 0, iterations)
	var events int
	for i := range iterations {
		start := time.Now()
		err := s.Execute()
		elapsed := time.Since(start)
		if err != nil {
			return calculateStats(latencies, events), fmt.Errorf("%w: iteration %d: %w", ErrExecutionFailed, i, err)
		}

		latencies = append(latencies, elapsed)
		slog.Info("graph executed", "iteration", i, "duration", elapsed)

		evs, err := s.ProfileEvents()
		if err != nil {
			return calculateStats(latencies, events), fmt.Errorf("%w: iteration %d: profile events: %w", ErrExecutionFailed, i, err)
		}

		if sink == nil {
			continue
		}
		for _, e := range evs {
			if err := sink.Append(e); err != nil {
				return calculateStats(latencies, events), fmt.Errorf("profile sink: %w", err)
			}
			events++
		}
	}

	stats := calculateStats(latencies, events)
	slog.Debug("execution finished", "stats", stats.String())
	return stats, nil
}

func calculateStats(latencies []time.Duration, events int) Stats {
	if len(latencies) == 0 {
		return Stats{Events: events}
	}

	stats := Stats{
		Iterations: len(latencies),
		Min:        slices.Min(latencies),
		Max:        slices.Max(latencies),
		Events:     events,
	}
	for _, d := range latencies {
		stats.Total += d
	}
	stats.Avg = stats.Total / time.Duration(len(latencies))
	return stats
}
