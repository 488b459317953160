package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/config"
	"github.com/medtariff/refprice/logging"
)

// app is filled in by the root command before any subcommand runs.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFiles []string

	root := &cobra.Command{
		Use:          "refprice",
		Short:        "Hierarchical classification and reference price resolution",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file(s) to load before reading the environment")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newImportSchemeCmd(a),
		newPipelineCmd(a),
		newCorrectionsCmd(a),
	)
	return root
}
