package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitacare/concierge/internal/bootstrap"
	"github.com/vitacare/concierge/internal/config"
	"github.com/vitacare/concierge/internal/store/pg"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the clinic catalog and FAQ (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := pg.OpenDB(cfg.Database.PostgresDSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return bootstrap.Seed(cmd.Context(), db, newLogger())
		},
	}
}
