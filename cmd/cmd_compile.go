// cmd_compile.go - Compile Handler
// Hauptfunktionen: CompileHandler, loadGraph
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/format"
	"github.com/7blacky7/qnnrt/graph"
	"github.com/7blacky7/qnnrt/ml/backend/reference"
	"github.com/7blacky7/qnnrt/session"
)

// CompileHandler - Baut den Graphen, finalisiert ihn und schreibt das Artefakt
func CompileHandler(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(cmd, args)
	if err != nil {
		return err
	}

	opts, err := sessionOptions(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("artifact-version") {
		v, _ := cmd.Flags().GetInt("artifact-version")
		opts = append(opts, session.WithBackendOption(reference.OptionArtifactVersion, v))
	}

	backend, _ := cmd.Flags().GetString("backend")
	s, err := session.OpenForCompile(backend, g.Name, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := g.Build(s); err != nil {
		return err
	}

	art, err := s.FinalizeAndExport()
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = g.Name + "HtpContext.bin"
	}

	if err := art.WriteFile(output); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s) with graph %q\n", output, format.HumanBytes(int64(len(art))), g.Name)
	return s.Close()
}

// loadGraph - Laedt die Graph-Datei oder baut den Beispielgraphen
func loadGraph(cmd *cobra.Command, args []string) (*graph.Graph, error) {
	if len(args) == 1 {
		return graph.Load(args[0])
	}

	example, _ := cmd.Flags().GetString("example")
	batch, _ := cmd.Flags().GetUint32("batch")
	in, _ := cmd.Flags().GetUint32("in")
	out, _ := cmd.Flags().GetUint32("out")

	switch example {
	case "linear":
		return graph.Linear(batch, in, out), nil
	case "matmul":
		return graph.MatMul(batch, in, out), nil
	default:
		return nil, fmt.Errorf("unknown example graph %q (linear, matmul)", example)
	}
}
