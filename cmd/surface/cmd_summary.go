package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/analyzer"
)

var summaryOutput string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarise findings by severity, resource type or region",
}

var summarySeverityCmd = &cobra.Command{
	Use:   "severity",
	Short: "Count findings per severity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSummaries(cmd, func(agg *analyzer.Aggregator) error {
			summary, err := agg.SeveritySummary(cmd.Context())
			if err != nil {
				return err
			}
			if summaryOutput == outputJSON {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			ordered := summary.Ordered()
			keys := make([]string, len(ordered))
			counts := make(map[string]int, len(ordered))
			for i, b := range ordered {
				keys[i] = string(b.Severity)
				counts[keys[i]] = b.Count
			}
			return printCounts(cmd.OutOrStdout(), "severity", keys, counts)
		})
	},
}

var summaryTypeCmd = &cobra.Command{
	Use:     "type",
	Aliases: []string{"resource-type"},
	Short:   "Count findings per resource type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSummaries(cmd, func(agg *analyzer.Aggregator) error {
			buckets, err := agg.ResourceTypeSummary(cmd.Context())
			if err != nil {
				return err
			}
			if summaryOutput == outputJSON {
				return printJSON(cmd.OutOrStdout(), buckets)
			}
			keys := make([]string, len(buckets))
			counts := make(map[string]int, len(buckets))
			for i, b := range buckets {
				keys[i] = b.ResourceType
				counts[b.ResourceType] = b.Count
			}
			return printCounts(cmd.OutOrStdout(), "resource type", keys, counts)
		})
	},
}

var summaryRegionCmd = &cobra.Command{
	Use:   "region",
	Short: "Count findings per region of the affected resource",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSummaries(cmd, func(agg *analyzer.Aggregator) error {
			buckets, err := agg.RegionSummary(cmd.Context())
			if err != nil {
				return err
			}
			if summaryOutput == outputJSON {
				return printJSON(cmd.OutOrStdout(), buckets)
			}
			keys := make([]string, len(buckets))
			counts := make(map[string]int, len(buckets))
			for i, b := range buckets {
				keys[i] = b.Region
				counts[b.Region] = b.Count
			}
			return printCounts(cmd.OutOrStdout(), "region", keys, counts)
		})
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.AddCommand(summarySeverityCmd, summaryTypeCmd, summaryRegionCmd)
	summaryCmd.PersistentFlags().StringVarP(&summaryOutput, "output", "o", outputTable, "Output format: table, json")
}

func withSummaries(cmd *cobra.Command, fn func(*analyzer.Aggregator) error) error {
	if err := checkOutput(summaryOutput); err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a.summaries)
}
