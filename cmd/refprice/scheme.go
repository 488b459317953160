package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
	"github.com/medtariff/refprice/refdata"
)

func newImportSchemeCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-scheme",
		Short: "Import a classification scheme into the category hierarchy",
		Long: "Reads a flat list of codes and names, derives each parent from the code prefixes " +
			"and upserts the nodes parents first. Re-importing only refreshes names.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = a.cfg.SchemePath
			}
			entries, err := a.scheme(file)
			if err != nil {
				return err
			}

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer (&services{db: db}).close()

			stored, err := hierarchy.Import(cmd.Context(), models.NewCategoriesRepository(db), entries)
			if err != nil {
				return fmt.Errorf("import scheme: %w", err)
			}
			a.log.Info("Imported classification scheme", zap.Int("categories", len(stored)), zap.String("source", schemeSource(file)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scheme YAML file (defaults to SCHEME_PATH, then the bundled sample)")
	return cmd
}

func (a *app) scheme(file string) ([]hierarchy.SchemeEntry, error) {
	if file == "" {
		return refdata.Scheme()
	}
	return refdata.LoadScheme(file)
}

func schemeSource(file string) string {
	if file == "" {
		return "bundled"
	}
	return file
}
