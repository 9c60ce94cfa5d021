package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contextcache/contextcache/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	Long:  "Opens the database, applies the base schema and any pending migrations, and exits. serve does the same on startup; migrate exists for deploy pipelines that migrate before rolling.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := sqlite.New(cmd.Context(), cfg.DBPath, sqlite.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		version, err := sqlite.SchemaVersion(cmd.Context(), store.UnderlyingDB())
		if err != nil {
			return err
		}
		fmt.Printf("database %s at schema version %d\n", store.Path(), version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
