package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convodesk/convodesk/internal/config"
	"github.com/convodesk/convodesk/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:   "convodesk",
		Short: "Multi-tenant shared inbox for LINE official accounts",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
