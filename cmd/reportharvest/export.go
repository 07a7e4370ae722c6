package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/reportharvest/internal/storage"
)

// exportCmd creates the "export" subcommand.
func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Copy the report table into a SQLite database",
		Long: `Upsert every row of the report table into the SQLite database at
storage.sqlite_path (or --sqlite). Rows are keyed by link, so exporting
again updates rows in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			ctx, stop := signalContext()
			defer stop()

			records, err := storage.NewReportTable(cfg.Storage.ReportsFile, logger).Load()
			if err != nil {
				return err
			}

			db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Store(ctx, records); err != nil {
				return err
			}
			count, err := db.Count(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d rows exported, %d reports in %s\n", len(records), count, cfg.Storage.SQLitePath)
			return nil
		},
	}
}
