package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/pipelines"
)

func pipelineNames() string {
	names := make([]string, len(pipelines.Order))
	for i, n := range pipelines.Order {
		names[i] = string(n)
	}
	return strings.Join(names, ", ")
}

func newPipelineCmd(a *app) *cobra.Command {
	var opts pipelines.Options
	cmd := &cobra.Command{
		Use:   "pipeline <name|all>",
		Short: "Run a batch correction pipeline",
		Long:  "Runs one correction pipeline, or all of them in dependency order, and prints the run reports as JSON.\n\nPipelines: " + pipelineNames(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.BatchSize == 0 {
				opts.BatchSize = a.cfg.PipelineBatchSize
			}
			var name pipelines.Name
			if args[0] != "all" {
				n, err := pipelines.ParseName(args[0])
				if err != nil {
					return err
				}
				name = n
			}

			s, err := a.bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.close()

			var reports []*pipelines.Report
			if name == "" {
				reports, err = s.runner.RunAll(cmd.Context(), opts)
			} else {
				var rep *pipelines.Report
				rep, err = s.runner.Run(cmd.Context(), name, opts)
				if rep != nil {
					reports = append(reports, rep)
				}
			}
			if werr := writeReports(cmd, reports); werr != nil {
				a.log.Error("Failed to write reports", zap.Error(werr))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute and report changes without writing")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows per batch (defaults to PIPELINE_BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "recompute rows whose derived fields are already set")
	return cmd
}

func writeReports(cmd *cobra.Command, reports []*pipelines.Report) error {
	if reports == nil {
		reports = []*pipelines.Report{}
	}
	out, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
