package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth chat backend",
	Long:  "Hearth serves the account API and the websocket chat fan-out.",
	PersistentPreRun: func(*cobra.Command, []string) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
