package main

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/pipeline"
)

var ingestFlags struct {
	file         string
	category     string
	neighborhood string
	rating       float64
	tags         []string
	goodFor      []string
	review       string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [url]",
	Short: "Resolve a Google Maps link and save the place",
	Long: `Resolve a Google Maps share link into a place record and save it.

With --file, reads one URL per line (blank lines and # comments skipped)
and ingests them concurrently. Overrides apply to every URL in the batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestFlags.file == "" && len(args) == 0 {
			return eris.New("pass a URL or --file")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		overrides := model.Overrides{
			Category:     ingestFlags.category,
			Neighborhood: ingestFlags.neighborhood,
			Tags:         ingestFlags.tags,
			GoodFor:      ingestFlags.goodFor,
			Review:       ingestFlags.review,
		}
		if cmd.Flags().Changed("rating") {
			r := ingestFlags.rating
			overrides.Rating = &r
		}
		if err := overrides.Validate(); err != nil {
			return err
		}

		if ingestFlags.file != "" {
			return ingestBatch(cmd, env, ingestFlags.file, overrides)
		}

		result, err := env.Pipeline.Ingest(cmd.Context(), pipeline.Request{
			SourceURL: args[0],
			Overrides: overrides,
		})
		if err != nil {
			return err
		}

		printResult(cmd, result)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.file, "file", "", "file with one URL per line")
	ingestCmd.Flags().StringVar(&ingestFlags.category, "category", "", "category override")
	ingestCmd.Flags().StringVar(&ingestFlags.neighborhood, "neighborhood", "", "neighborhood override")
	ingestCmd.Flags().Float64Var(&ingestFlags.rating, "rating", 0, "rating override (1-5)")
	ingestCmd.Flags().StringSliceVar(&ingestFlags.tags, "tag", nil, "tag (repeatable)")
	ingestCmd.Flags().StringSliceVar(&ingestFlags.goodFor, "good-for", nil, "good-for label (repeatable)")
	ingestCmd.Flags().StringVar(&ingestFlags.review, "review", "", "review text override")
	rootCmd.AddCommand(ingestCmd)
}

func ingestBatch(cmd *cobra.Command, env *env, path string, overrides model.Overrides) error {
	urls, err := readURLFile(path)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return eris.Errorf("no URLs found in %s", path)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(cfg.Ingest.BatchConcurrency)

	var mu sync.Mutex
	var created, updated, failed int

	for _, url := range urls {
		g.Go(func() error {
			result, err := env.Pipeline.Ingest(ctx, pipeline.Request{
				SourceURL: url,
				Overrides: overrides,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				zap.L().Warn("batch ingest failed", zap.String("url", url), zap.Error(err))
				cmd.PrintErrf("FAIL  %s: %v\n", url, err)
				return nil
			}
			if result.Created {
				created++
			} else {
				updated++
			}
			cmd.Printf("%-6s %s  (%s)\n", verb(result.Created), result.Place.Name, result.Place.ID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	cmd.Printf("\n%d created, %d updated, %d failed\n", created, updated, failed)
	if failed > 0 {
		return eris.Errorf("%d of %d URLs failed", failed, len(urls))
	}
	return nil
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return urls, nil
}

func verb(created bool) string {
	if created {
		return "SAVED"
	}
	return "MERGED"
}

func printResult(cmd *cobra.Command, result *pipeline.Result) {
	cmd.Printf("%s %s\n", verb(result.Created), result.Place.Name)
	cmd.Printf("  id:           %s\n", result.Place.ID)
	cmd.Printf("  neighborhood: %s\n", result.Place.Neighborhood)
	cmd.Printf("  category:     %s\n", result.Place.Category)
	if result.Place.Address != "" {
		cmd.Printf("  address:      %s\n", result.Place.Address)
	}
	if result.Place.Lat != nil && result.Place.Lng != nil {
		cmd.Printf("  coords:       %.5f, %.5f\n", *result.Place.Lat, *result.Place.Lng)
	}
	if result.Resolved.StableID != "" {
		cmd.Printf("  place id:     %s\n", result.Resolved.StableID)
	}
}
