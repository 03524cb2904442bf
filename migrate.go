package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthchat/hearth/config"
	"github.com/hearthchat/hearth/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(*cobra.Command, []string) error {
		migrator, err := newMigrator()
		if err != nil {
			return err
		}
		defer migrator.Close()

		if err := migrator.Up(); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(*cobra.Command, []string) error {
		migrator, err := newMigrator()
		if err != nil {
			return err
		}
		defer migrator.Close()

		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)
		return nil
	},
}

func newMigrator() (*store.Migrator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(cfg.DatabaseURL)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}
