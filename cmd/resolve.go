package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/samis-guide/guide-cli/internal/expand"
	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/places"
	"github.com/samis-guide/guide-cli/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve a Maps link without saving anything",
	Long:  "Follow redirects, extract identity signals and print what ingest would work with. Nothing is written to the store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		placesClient := places.New(places.Options{
			APIKey:            cfg.Places.APIKey,
			BaseURL:           cfg.Places.BaseURL,
			Timeout:           time.Duration(cfg.Places.TimeoutSecs) * time.Second,
			RegionCenter:      model.Coordinates{Lat: cfg.Places.RegionLat, Lng: cfg.Places.RegionLng},
			RequestsPerSecond: cfg.Places.RequestsPerSecond,
		})
		follower := expand.New(expand.Options{
			MaxHops: cfg.Expand.MaxHops,
			Timeout: time.Duration(cfg.Expand.TimeoutSecs) * time.Second,
		})
		res := resolver.New(follower, placesClient, cfg.Ingest.City)

		loc, err := res.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := struct {
			CanonicalURL string             `json:"canonicalUrl"`
			PlaceID      string             `json:"placeId,omitempty"`
			CID          string             `json:"cid,omitempty"`
			Coords       *model.Coordinates `json:"coords,omitempty"`
			TextQuery    string             `json:"textQuery,omitempty"`
		}{
			CanonicalURL: loc.CanonicalURL,
			PlaceID:      loc.StableID,
			CID:          loc.AlternateID,
			Coords:       loc.Coords,
			TextQuery:    loc.TextQuery,
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
