package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/cardbench/pkg/runner"
)

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate and export the synthetic tables",
		Long: `Generate one table per (tier, dimensionality) pair from a multivariate
normal distribution and export it as delimited integers, one row per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			tables, err := runner.GenerateTables(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\t%s\n", t.Spec.Name, t.Rows, t.File)
			}
			return nil
		},
	}
}
