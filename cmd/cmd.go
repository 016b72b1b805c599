// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/discover"
	"github.com/7blacky7/qnnrt/envconfig"
	"github.com/7blacky7/qnnrt/logutil"
	_ "github.com/7blacky7/qnnrt/ml/backend"
	"github.com/7blacky7/qnnrt/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// logCloser haelt die rotierende Log-Datei bis zum Ende des Commands offen
var logCloser io.Closer

// setupLogging - Setzt den Default-Logger (stderr, optional QNN_LOG_FILE)
func setupLogging(cmd *cobra.Command, _ []string) error {
	level := envconfig.LogLevel()

	if path := envconfig.LogFile(); path != "" {
		var logger *slog.Logger
		logger, logCloser = logutil.WithFile(cmd.ErrOrStderr(), level, path)
		slog.SetDefault(logger)
	} else {
		slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), level))
	}

	discover.OverrideWarnings()
	slog.Debug("config", "env", envconfig.Values())
	return nil
}

func closeLogging(*cobra.Command, []string) error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:                "qnnrt",
		Short:              "Ahead-of-time accelerator graph runtime",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setupLogging,
		PersistentPostRunE: closeLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(cmd.OutOrStdout(), "qnnrt version is %s\n", version.Version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	compileCmd := newCompileCmd()
	runCmd := newRunCmd()
	inspectCmd := newInspectCmd()
	providersCmd := newProvidersCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["QNN_DEBUG"], envVars["QNN_LOG_FILE"]}

	for _, cmd := range []*cobra.Command{
		compileCmd,
		runCmd,
		inspectCmd,
		providersCmd,
	} {
		switch cmd {
		case compileCmd:
			appendEnvDocs(cmd, append(envs,
				envVars["QNN_BACKEND_LIB"],
				envVars["QNN_SDK_ROOT"],
				envVars["QNN_LIBRARY_PATH"],
				envVars["QNN_HTP_ARCH"],
			))
		case runCmd:
			appendEnvDocs(cmd, append(envs,
				envVars["QNN_BACKEND_LIB"],
				envVars["QNN_SYSTEM_LIB"],
				envVars["QNN_SDK_ROOT"],
				envVars["QNN_LIBRARY_PATH"],
				envVars["QNN_HTP_ARCH"],
				envVars["QNN_SHARED_BUFFER"],
				envVars["QNN_ALIGNMENT"],
				envVars["QNN_ITERATIONS"],
				envVars["QNN_PROFILE_PATH"],
			))
		case providersCmd:
			appendEnvDocs(cmd, append(envs,
				envVars["QNN_BACKEND_LIB"],
				envVars["QNN_SDK_ROOT"],
				envVars["QNN_LIBRARY_PATH"],
			))
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		compileCmd,
		runCmd,
		inspectCmd,
		providersCmd,
		envCmd,
	)

	return rootCmd
}
