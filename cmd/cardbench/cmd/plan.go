package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/runner"
	"github.com/kasuganosora/cardbench/pkg/schema"
)

func planCmd() *cobra.Command {
	var dialectName string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the DDL, load and statistics script for the configured tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closer, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			if dialectName == "" {
				f, err := engine.GetFactory(cfg.Engine.Type)
				if err != nil {
					return err
				}
				dialectName = f.Dialect()
			}
			dialect, err := schema.GetDialect(dialectName)
			if err != nil {
				return err
			}

			plans, err := runner.PlanTables(cfg, dialect, cfg.Harness.Baseline)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), schema.Script(plans...))
			return err
		},
	}

	cmd.Flags().StringVar(&dialectName, "dialect", "", "schema dialect, defaults to the engine's dialect")
	return cmd
}
