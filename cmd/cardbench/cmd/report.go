package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kasuganosora/cardbench/pkg/report"
)

func reportCmd() *cobra.Command {
	var (
		formats   []string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "report ./results/cardbench-<run>.json",
		Short: "Re-render a saved JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := report.ReadFile(args[0])
			if err != nil {
				return err
			}
			_, err = report.WriteFiles(outputDir, formats, rep, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringSliceVar(&formats, "format", []string{report.FormatTable}, "output formats: table, json, xlsx")
	cmd.Flags().StringVar(&outputDir, "output", ".", "directory for json and xlsx output")
	return cmd
}
