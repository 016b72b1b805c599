// cmd_utils.go - Hilfsfunktionen fuer CLI Commands
// Hauptfunktionen: sessionOptions
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/ml"
	"github.com/7blacky7/qnnrt/session"
)

// sessionOptions - Baut die Session-Optionen aus den gemeinsamen Flags
func sessionOptions(cmd *cobra.Command) ([]session.Option, error) {
	opts := []session.Option{session.WithLogger(slog.Default())}

	if s, _ := cmd.Flags().GetString("arch"); s != "" {
		arch, err := ml.ParseHTPArch(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithArch(arch))
	}

	if id, _ := cmd.Flags().GetUint32("device"); id != 0 {
		opts = append(opts, session.WithDeviceID(id))
	}

	return opts, nil
}
