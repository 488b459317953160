package main

import (
	"github.com/spf13/cobra"

	"github.com/medtariff/refprice/models"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return models.Migrate(a.cfg.DatabaseURL(), a.log)
		},
	}
}
