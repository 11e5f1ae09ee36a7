package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/internal/plugin"
	"github.com/yairfalse/surface/internal/plugin/aws"
	itelemetry "github.com/yairfalse/surface/internal/telemetry"
	"github.com/yairfalse/surface/types"
)

var (
	discoverRegions []string
	discoverReplace bool
	discoverDryRun  bool
	discoverOutput  string
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover AWS assets and store them as resources",
	Long: `Discover EC2 instances, security groups, S3 buckets and RDS instances
in each configured region and store them as resource documents.

Credentials come from the default AWS chain; set aws.profile to pick a
shared config profile. With --replace, previously discovered resources for
each region that answered are removed first so the inventory mirrors the
account.`,
	Example: `  surface discover
  surface discover --region us-east-1 --region eu-west-1 --replace
  surface discover --dry-run -o json`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringSliceVar(&discoverRegions, "region", nil, "Region to discover (repeatable, overrides aws.regions)")
	discoverCmd.Flags().BoolVar(&discoverReplace, "replace", false, "Delete earlier AWS resources for each discovered region first")
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "Print what would be stored without writing")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", outputTable, "Output format for --dry-run: table, json")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(discoverOutput); err != nil {
		return err
	}
	ctx := cmd.Context()

	regions := cfg.AWS.Regions
	if len(discoverRegions) > 0 {
		regions = discoverRegions
	}
	if len(regions) == 0 {
		return errors.New("no regions configured; set aws.regions or pass --region")
	}

	provider, err := itelemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownProvider(provider)

	plugin.Clear()
	for _, region := range regions {
		p, err := aws.New(ctx, aws.Config{
			Region:   region,
			Profile:  cfg.AWS.Profile,
			Recorder: provider,
		})
		if err != nil {
			return fmt.Errorf("init aws plugin for %s: %w", region, err)
		}
		plugin.Register(p)
	}

	results := plugin.DiscoverAll(ctx, plugin.All())

	var docs []types.Document
	var answered []string
	var failures []error
	for _, r := range results {
		if r.Err != nil {
			logger.Error().Err(r.Err).Str("plugin", r.Plugin).Msg("discovery failed")
			failures = append(failures, fmt.Errorf("%s: %w", r.Plugin, r.Err))
			continue
		}
		docs = append(docs, r.Documents...)
		answered = append(answered, regionOf(r))
	}
	if len(answered) == 0 {
		return errors.Join(failures...)
	}

	if discoverDryRun {
		if discoverOutput == outputJSON {
			return printJSON(cmd.OutOrStdout(), docs)
		}
		return printDiscovered(cmd.OutOrStdout(), docs)
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if discoverReplace {
		for _, region := range answered {
			n, err := a.inventory.DeleteResources(ctx, map[string]any{
				"provider":        aws.ProviderName,
				types.FieldRegion: region,
			})
			if err != nil {
				return fmt.Errorf("replace resources in %s: %w", region, err)
			}
			logger.Info().Str("region", region).Int("deleted", n).Msg("removed previous resources")
		}
	}

	n, err := a.inventory.ImportResources(ctx, docs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d resources from %d region(s)\n", n, len(answered))

	if len(failures) > 0 {
		return fmt.Errorf("some regions failed: %w", errors.Join(failures...))
	}
	return nil
}

// regionOf recovers the region from a plugin name such as "aws:us-east-1"
func regionOf(r plugin.Result) string {
	return strings.TrimPrefix(r.Plugin, aws.ProviderName+":")
}

// printDiscovered shows per-region, per-type counts
func printDiscovered(w io.Writer, docs []types.Document) error {
	type key struct{ region, resourceType string }
	counts := make(map[key]int)
	for _, d := range docs {
		counts[key{d.StringField(types.FieldRegion), d.StringField(types.FieldResourceType)}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].region != keys[j].region {
			return keys[i].region < keys[j].region
		}
		return keys[i].resourceType < keys[j].resourceType
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tTYPE\tCOUNT")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", k.region, k.resourceType, counts[k])
	}
	fmt.Fprintf(tw, "TOTAL\t\t%d\n", len(docs))
	return tw.Flush()
}
