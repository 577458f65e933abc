package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "clinic-api",
		Short: "Clinic consultation API: availability, appointments and chat",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yml")

	load := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadConfig(configPath)
		}
		return config.LoadConfig()
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(seedCmd(load))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)
