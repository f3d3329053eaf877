package main

import (
	"encoding/json"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/store"
)

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "Inspect and manage saved places",
}

var placesListFlags struct {
	all      bool
	category string
}

var placesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved places",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.Filter{PublishedOnly: !placesListFlags.all}
		if placesListFlags.category != "" {
			c := model.NormalizeCategory(placesListFlags.category)
			if c == "" {
				return eris.Errorf("unknown category %q", placesListFlags.category)
			}
			filter.Category = c
		}

		list, err := env.Store.List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer tw.Flush()
		for _, p := range list {
			flags := make([]string, 0, 2)
			if !p.Published {
				flags = append(flags, "draft")
			}
			if p.Featured {
				flags = append(flags, "featured")
			}
			tw.Write([]byte(strings.Join([]string{
				p.ID, p.Name, p.Neighborhood, string(p.Category), strings.Join(flags, ","),
			}, "\t") + "\n"))
		}
		return nil
	},
}

var placesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one place as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		place, err := env.Store.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(place)
	},
}

var placesPublishCmd = &cobra.Command{
	Use:   "publish <id>",
	Short: "Mark a place published",
	Args:  cobra.ExactArgs(1),
	RunE:  setFlagRunE(func(p *model.Place, on bool) { p.Published = on }, "publish"),
}

var placesUnpublishCmd = &cobra.Command{
	Use:   "unpublish <id>",
	Short: "Mark a place unpublished",
	Args:  cobra.ExactArgs(1),
	RunE:  setFlagRunE(func(p *model.Place, on bool) { p.Published = !on }, "unpublish"),
}

var placesFeatureCmd = &cobra.Command{
	Use:   "feature <id>",
	Short: "Mark a place featured",
	Args:  cobra.ExactArgs(1),
	RunE:  setFlagRunE(func(p *model.Place, on bool) { p.Featured = on }, "feature"),
}

var placesUnfeatureCmd = &cobra.Command{
	Use:   "unfeature <id>",
	Short: "Clear the featured flag",
	Args:  cobra.ExactArgs(1),
	RunE:  setFlagRunE(func(p *model.Place, on bool) { p.Featured = !on }, "unfeature"),
}

var placesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("deleted %s\n", args[0])
		return nil
	},
}

// setFlagRunE builds the RunE for the publish/feature flag toggles. They
// all load, mutate one bool and save.
func setFlagRunE(mutate func(*model.Place, bool), name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		place, err := env.Store.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		mutate(place, true)
		if err := env.Store.Update(cmd.Context(), place); err != nil {
			return err
		}
		cmd.Printf("%s: %s (%s)\n", name, place.Name, place.ID)
		return nil
	}
}

func init() {
	placesListCmd.Flags().BoolVar(&placesListFlags.all, "all", false, "include unpublished places")
	placesListCmd.Flags().StringVar(&placesListFlags.category, "category", "", "filter by category")
	placesCmd.AddCommand(placesListCmd, placesShowCmd, placesPublishCmd, placesUnpublishCmd, placesFeatureCmd, placesUnfeatureCmd, placesDeleteCmd)
	rootCmd.AddCommand(placesCmd)
}
