// cmd_builders.go - Command Builder Funktionen
// Hauptfunktionen: newCompileCmd, newRunCmd, newInspectCmd, newProvidersCmd, newEnvCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/envconfig"
)

// newCompileCmd - Erstellt den compile Command
func newCompileCmd() *cobra.Command {
	compileCmd := &cobra.Command{
		Use:   "compile [GRAPH.yaml]",
		Short: "Compile a graph into a context binary",
		Long: `Compile a graph into a context binary.

Without a graph file one of the built-in example graphs is compiled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: CompileHandler,
	}

	compileCmd.Flags().StringP("output", "o", "", "Artifact path (default <graph>HtpContext.bin)")
	compileCmd.Flags().String("example", "linear", "Built-in graph when no file is given (linear, matmul)")
	compileCmd.Flags().Uint32("batch", 32, "Batch size of the example graph")
	compileCmd.Flags().Uint32("in", 4096, "Input features of the example graph")
	compileCmd.Flags().Uint32("out", 4096, "Output features of the example graph")
	compileCmd.Flags().String("backend", envconfig.BackendLib(), "Backend module")
	compileCmd.Flags().String("arch", envconfig.HTPArch(), "Accelerator architecture")
	compileCmd.Flags().Uint32("device", 0, "Device id")
	compileCmd.Flags().Int("artifact-version", 0, "Artifact schema version, if the backend supports choosing one")

	return compileCmd
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run ARTIFACT",
		Short: "Load a context binary and execute its graph",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}

	runCmd.Flags().String("backend", envconfig.BackendLib(), "Backend module")
	runCmd.Flags().String("system", envconfig.SystemLib(), "System module")
	runCmd.Flags().String("arch", envconfig.HTPArch(), "Accelerator architecture")
	runCmd.Flags().Uint32("device", 0, "Device id")
	runCmd.Flags().String("graph", "", "Graph to execute (default first graph)")
	runCmd.Flags().Int("iterations", int(envconfig.Iterations()), "Number of executions")
	runCmd.Flags().Bool("shared", envconfig.SharedBuffer(), "Bind tensors through shared memory")
	runCmd.Flags().String("profile", envconfig.ProfilePath(), "Append profiling events to this file")
	runCmd.Flags().Float32("fill", 1, "Value written to every input element")
	runCmd.Flags().Bool("dump", true, "Print the output tensors")

	return runCmd
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect ARTIFACT",
		Short: "Show the graphs and tensors of a context binary",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
}

// newProvidersCmd - Erstellt den providers Command
func newProvidersCmd() *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List the interface providers of a backend module",
		Args:  cobra.NoArgs,
		RunE:  ProvidersHandler,
	}

	providersCmd.Flags().String("backend", envconfig.BackendLib(), "Backend module")

	return providersCmd
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the environment variables and their current values",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}
