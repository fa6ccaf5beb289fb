package migrate

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/agencyos/textline/cmd/textline/internal"
	"github.com/agencyos/textline/pkg/store/postgres"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return errors.New("migrate requires the postgres driver")
			}
			return postgres.Migrate(cmd.Context(), cfg.Database.URL)
		},
	}
}
