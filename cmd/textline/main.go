package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agencyos/textline/cmd/textline/internal/migrate"
	"github.com/agencyos/textline/cmd/textline/internal/serve"
	"github.com/agencyos/textline/cmd/textline/internal/trigger"
	"github.com/agencyos/textline/cmd/textline/internal/version"
)

func NewTextlineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "textline",
		Short:   "Insurance agency SMS automation service",
		Example: "textline serve",
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		trigger.NewTriggerCommand(),
		migrate.NewMigrateCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewTextlineCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
