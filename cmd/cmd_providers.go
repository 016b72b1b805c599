// cmd_providers.go - Providers Handler
// Hauptfunktionen: ProvidersHandler
package cmd

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/ml"
)

// ProvidersHandler - Listet die Provider eines Backend-Moduls und markiert den gewaehlten
func ProvidersHandler(cmd *cobra.Command, _ []string) error {
	backend, _ := cmd.Flags().GetString("backend")

	m, providers, err := ml.Discover(backend)
	if err != nil {
		return err
	}
	defer m.Close()

	selected, err := ml.Select(providers)
	if err != nil {
		return err
	}

	var data [][]string
	for _, p := range providers {
		mark := ""
		if p.Name == selected.Name {
			mark = "*"
		}

		compatible := "no"
		if ml.Compatible(p.CoreAPIVersion) {
			compatible = "yes"
		}

		data = append(data, []string{
			mark,
			p.Name,
			"0x" + strconv.FormatUint(uint64(p.BackendID), 16),
			p.CoreAPIVersion.String(),
			p.BackendAPIVersion.String(),
			compatible,
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"", "PROVIDER", "BACKEND ID", "CORE API", "BACKEND API", "COMPATIBLE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}
