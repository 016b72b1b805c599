// cmd_inspect.go - Inspect Handler
// Hauptfunktionen: InspectHandler, showArtifact
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/7blacky7/qnnrt/format"
	"github.com/7blacky7/qnnrt/fs/artifact"
	"github.com/7blacky7/qnnrt/ml"
)

// InspectHandler - Zeigt Graphen und Tensoren eines Artefakts
func InspectHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	f, err := artifact.Open(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	return showArtifact(f, len(data), cmd.OutOrStdout())
}

// showArtifact - Gibt die Artefakt-Tabellen aus
func showArtifact(f *artifact.File, size int, w io.Writer) error {
	tableRender := func(header string, columns []string, rows [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		if columns != nil {
			table.SetHeader(columns)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetAutoFormatHeaders(false)
		}
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	rows := [][]string{
		{"", "version", strconv.FormatUint(uint64(f.Version()), 10)},
		{"", "size", format.HumanBytes(int64(size))},
		{"", "graphs", strconv.Itoa(f.NumGraphs())},
		{"", "payload", format.HumanBytes(int64(len(f.Payload())))},
	}
	if f.Version() >= artifact.Version3 {
		rows = append(rows, []string{"", "backend id", fmt.Sprintf("0x%x", f.BackendID())})
	}
	tableRender("Artifact", nil, rows)

	for i := range f.NumGraphs() {
		g := f.Graph(i)

		var tensors [][]string
		add := func(role string, td ml.TensorDescriptor) {
			tensors = append(tensors, []string{
				"",
				role,
				td.Name,
				strconv.FormatUint(uint64(td.ID), 10),
				td.DType.String(),
				fmt.Sprint(td.Dims),
				format.HumanBytes2(uint64(td.ByteSize())),
			})
		}
		for _, td := range g.Inputs() {
			add("input", td)
		}
		for _, td := range g.Outputs() {
			add("output", td)
		}

		header := "Graph " + g.Name()
		if f.Version() >= artifact.Version3 {
			header += fmt.Sprintf(" (vtcm %s, spill/fill %s)", format.HumanBytes2(g.VTCMSize()), format.HumanBytes2(g.SpillFillSize()))
		}
		tableRender(header, []string{"", "ROLE", "NAME", "ID", "DTYPE", "SHAPE", "SIZE"}, tensors)
	}

	return nil
}
