package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	findingsFilter string
	findingsOutput string
	findingsAll    bool
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Inspect and clear findings",
}

var findingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List findings in the order they were recorded",
	Example: `  surface findings list
  surface findings list --filter '{"severity": "HIGH"}'
  surface findings list --filter '{"scan_id": "..."}' -o json`,
	RunE: runFindingsList,
}

var findingsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete findings matching a filter",
	RunE:  runFindingsDelete,
}

func init() {
	rootCmd.AddCommand(findingsCmd)
	findingsCmd.AddCommand(findingsListCmd, findingsDeleteCmd)

	findingsListCmd.Flags().StringVarP(&findingsFilter, "filter", "f", "", "Filter object (JSON or YAML)")
	findingsListCmd.Flags().StringVarP(&findingsOutput, "output", "o", outputTable, "Output format: table, json")

	findingsDeleteCmd.Flags().StringVarP(&findingsFilter, "filter", "f", "", "Filter object (JSON or YAML)")
	findingsDeleteCmd.Flags().BoolVar(&findingsAll, "all", false, "Delete every finding when no filter is given")
}

func runFindingsList(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(findingsOutput); err != nil {
		return err
	}
	f, err := parseFilterFlag(findingsFilter)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	docs, err := a.inventory.ListFindings(cmd.Context(), f)
	if err != nil {
		return err
	}
	if findingsOutput == outputJSON {
		return printJSON(cmd.OutOrStdout(), docs)
	}
	return printDocuments(cmd.OutOrStdout(), docs, "severity", "resource_name", "resource_type", "rule_name", "actual_value")
}

func runFindingsDelete(cmd *cobra.Command, _ []string) error {
	if findingsFilter == "" && !findingsAll {
		return fmt.Errorf("refusing to delete every finding without --all")
	}
	f, err := parseFilterFlag(findingsFilter)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.inventory.DeleteFindings(cmd.Context(), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d findings\n", n)
	return nil
}
