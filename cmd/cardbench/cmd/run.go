package cmd

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/engine"
	"github.com/kasuganosora/cardbench/pkg/metrics"
	"github.com/kasuganosora/cardbench/pkg/report"
	"github.com/kasuganosora/cardbench/pkg/runner"
	"github.com/kasuganosora/cardbench/pkg/schema"
	"github.com/kasuganosora/cardbench/pkg/store"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, load, measure and report",
		Long: `Run the full pipeline: generate the tables, load each one with and without
statistics, submit the same query set to both and report the estimation error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			return runPipeline(cmd, cfg, logger)
		},
	}
	cmd.Flags().Bool(tolerantFlag, false, "record per-query failures and continue")
	return cmd
}

func runPipeline(cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger) error {
	ctx := cmd.Context()

	if err := runner.ValidateQueries(cfg); err != nil {
		return err
	}

	client, factory, err := engine.Open(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	dialect, err := schema.GetDialect(factory.Dialect())
	if err != nil {
		return err
	}

	retrying := engine.WithRetry(client, engine.Policy{
		QueryTimeout: cfg.Engine.QueryTimeout,
		MaxRetries:   cfg.Engine.MaxRetries,
		RetryDelay:   cfg.Engine.RetryDelay,
	}, logger)

	r, err := runner.New(cfg, retrying, dialect, logger)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		retrying.SetObserver(collector)
		r.SetMetrics(collector)
	}

	if cfg.Store.Enabled {
		st, err := store.Open(ctx, cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		r.SetStore(st)
	}

	rep, runErr := r.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted, reporting partial results")
	}

	if rep != nil && len(rep.Runs) > 0 {
		written, err := report.WriteFiles(cfg.Report.OutputDir, cfg.Report.Formats, rep, cmd.OutOrStdout())
		if err != nil {
			logger.WithError(err).Error("failed to write report")
		}
		for _, path := range written {
			logger.WithField("path", path).Info("report written")
		}
	}

	if collector != nil && cfg.Metrics.Textfile != "" {
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Error("failed to write metrics")
		}
	}
	return runErr
}
