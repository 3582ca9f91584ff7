package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/orderproc/db"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|status>",
		Short: "Apply, roll back or inspect database migrations",
		Example: `  orderproc migrate up
  orderproc migrate down
  orderproc migrate status`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(os.Stderr)
			if err != nil {
				return err
			}

			dbConn, err := db.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer dbConn.Close()

			if args[0] != "status" {
				if err := db.Migrate(cmd.Context(), dbConn, args[0]); err != nil {
					return err
				}
			}
			version, err := db.Version(dbConn)
			if err != nil {
				return err
			}
			logger.Debug("migrations", "command", args[0], "path", cfg.Database.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", cfg.Database.Path, version)
			return nil
		},
	}
	return cmd
}
