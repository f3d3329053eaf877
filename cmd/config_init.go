package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samis-guide/guide-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "config.yaml"
		if !configInitForce {
			if _, err := os.Stat(path); err == nil {
				return eris.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		starter := config.Config{
			Store: config.StoreConfig{
				Driver:     "sqlite",
				SQLitePath: "guide.db",
			},
			Places: config.PlacesConfig{
				APIKey:            "",
				BaseURL:           "https://places.googleapis.com/v1",
				TimeoutSecs:       8,
				RequestsPerSecond: 10,
				RegionLat:         40.4168,
				RegionLng:         -3.7038,
			},
			Expand: config.ExpandConfig{
				MaxHops:     4,
				TimeoutSecs: 8,
			},
			Ingest: config.IngestConfig{
				City:             "Madrid",
				RateLimit:        30,
				RateWindowSecs:   60,
				BatchConcurrency: 4,
			},
			Server: config.ServerConfig{Port: 8080},
			Log:    config.LogConfig{Level: "info", Format: "json"},
		}

		data, err := yaml.Marshal(starter)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", path)
		}

		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
