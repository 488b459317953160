package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medtariff/refprice/models"
)

func newCorrectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "corrections <run-id>",
		Short: "Print the audit log entries written by one pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer (&services{db: db}).close()

			entries, err := models.NewCorrectionsRepository(db).ListCorrections(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
