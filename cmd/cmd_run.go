// cmd_run.go - Run Handler
// Hauptfunktionen: RunHandler, allocBuffers
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/arena"
	"github.com/7blacky7/qnnrt/envconfig"
	"github.com/7blacky7/qnnrt/format"
	"github.com/7blacky7/qnnrt/graph"
	"github.com/7blacky7/qnnrt/ml"
	"github.com/7blacky7/qnnrt/runner"
	"github.com/7blacky7/qnnrt/session"
)

// RunHandler - Laedt das Artefakt, bindet Puffer und fuehrt den Graphen aus
func RunHandler(cmd *cobra.Command, args []string) error {
	art, err := session.ReadArtifact(args[0])
	if err != nil {
		return err
	}

	opts, err := sessionOptions(cmd)
	if err != nil {
		return err
	}
	if name, _ := cmd.Flags().GetString("graph"); name != "" {
		opts = append(opts, session.WithGraphName(name))
	}

	backend, _ := cmd.Flags().GetString("backend")
	system, _ := cmd.Flags().GetString("system")
	s, err := session.OpenForLoad(backend, system, art, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	gi := s.Graph()
	shared, _ := cmd.Flags().GetBool("shared")

	var a *arena.Arena
	if shared {
		a = arena.Get(arena.DefaultLoader)
		if !a.Initialized() {
			return arena.ErrArenaUninitialized
		}
	}

	inBufs, err := allocBuffers(a, gi.Inputs)
	if err != nil {
		return err
	}
	defer freeBuffers(a, inBufs)

	outBufs, err := allocBuffers(a, gi.Outputs)
	if err != nil {
		return err
	}
	defer freeBuffers(a, outBufs)

	// Registrierter Speicher wird vor den Puffern freigegeben
	defer s.Close()

	fill, _ := cmd.Flags().GetFloat32("fill")
	for i, desc := range gi.Inputs {
		data, err := graph.Fill(desc.DType, desc.Elements(), fill)
		if err != nil {
			return fmt.Errorf("input %q: %w", desc.Name, err)
		}
		copy(inBufs[i], data)
	}

	inputs, err := runner.Bind(s, a, gi.Inputs, inBufs, shared)
	if err != nil {
		return err
	}
	outputs, err := runner.Bind(s, a, gi.Outputs, outBufs, shared)
	if err != nil {
		return err
	}

	var sink runner.Sink
	if path, _ := cmd.Flags().GetString("profile"); path != "" {
		p, err := runner.OpenProfileLog(path)
		if err != nil {
			return err
		}
		defer p.Close()
		sink = p
	}

	iterations, _ := cmd.Flags().GetInt("iterations")
	stats, err := runner.Execute(s, inputs, outputs, iterations, sink)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "graph %q: %s\n", gi.Name, stats)
	fmt.Fprintf(w, "min %s, avg %s, max %s\n", format.HumanDuration(stats.Min), format.HumanDuration(stats.Avg), format.HumanDuration(stats.Max))

	if dump, _ := cmd.Flags().GetBool("dump"); dump {
		for i, desc := range gi.Outputs {
			fmt.Fprintf(w, "%s %v:\n%s\n", desc.Name, desc.Dims, graph.Dump(desc, outBufs[i]))
		}
	}

	return s.Close()
}

// allocBuffers - Allokiert einen Puffer pro Tensor, aus der Arena wenn a gesetzt ist
func allocBuffers(a *arena.Arena, descs []ml.TensorDescriptor) ([][]byte, error) {
	bufs := make([][]byte, len(descs))
	for i, desc := range descs {
		if a == nil {
			bufs[i] = make([]byte, desc.ByteSize())
			continue
		}

		bufs[i] = a.Allocate(desc.ByteSize(), int(envconfig.Alignment()))
		if bufs[i] == nil {
			freeBuffers(a, bufs[:i])
			return nil, fmt.Errorf("tensor %q: shared allocation of %s failed", desc.Name, format.HumanBytes(int64(desc.ByteSize())))
		}
		slog.Debug("shared buffer", "tensor", desc.Name, "size", desc.ByteSize())
	}
	return bufs, nil
}

func freeBuffers(a *arena.Arena, bufs [][]byte) {
	if a == nil {
		return
	}
	for _, b := range bufs {
		if b != nil {
			a.Free(b)
		}
	}
}
