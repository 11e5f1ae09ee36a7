package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/types"
	"github.com/yairfalse/surface/wal"
)

var (
	scansLimit  int
	scansOutput string
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Inspect the scan journal",
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent scan passes, newest first",
	RunE:  runScansList,
}

var scansStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show journal size and sequence range",
	RunE:  runScansStats,
}

var scansCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove journal files past the retention period",
	RunE:  runScansCleanup,
}

func init() {
	rootCmd.AddCommand(scansCmd)
	scansCmd.AddCommand(scansListCmd, scansStatsCmd, scansCleanupCmd)

	scansListCmd.Flags().IntVar(&scansLimit, "limit", 20, "Maximum scans to show (0 for all)")
	scansListCmd.Flags().StringVarP(&scansOutput, "output", "o", outputTable, "Output format: table, json")
}

func requireJournal() (string, error) {
	dir := journalDir(cfg)
	if dir == "" {
		return "", errors.New("the scan journal needs storage.path to be set")
	}
	return dir, nil
}

func runScansList(cmd *cobra.Command, _ []string) error {
	if err := checkOutput(scansOutput); err != nil {
		return err
	}
	dir, err := requireJournal()
	if err != nil {
		return err
	}

	records, err := wal.History(dir, wal.DefaultConfig(), scansLimit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if scansOutput == outputJSON {
		if records == nil {
			records = []wal.ScanRecord{}
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	return printScanRecords(cmd.OutOrStdout(), records)
}

func printScanRecords(w io.Writer, records []wal.ScanRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No scans recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCAN ID\tFINISHED\tOUTCOME\tRESOURCES\tFINDINGS\tERROR")
	for _, r := range records {
		resources, findings := "-", "-"
		var result types.ScanResult
		if len(r.Result) > 0 && json.Unmarshal(r.Result, &result) == nil && result.ScanID != "" {
			resources = fmt.Sprint(result.ResourcesScanned)
			findings = fmt.Sprint(result.FindingsCreated)
		}
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ScanID,
			r.Finished.Local().Format(time.DateTime),
			r.Outcome,
			resources,
			findings,
			truncate(errText, 60),
		)
	}
	return tw.Flush()
}

func runScansCleanup(cmd *cobra.Command, _ []string) error {
	dir, err := requireJournal()
	if err != nil {
		return err
	}

	stats, err := wal.Cleanup(dir, wal.DefaultConfig())
	if err != nil {
		return fmt.Errorf("clean journal: %w", err)
	}
	if stats.FilesRemoved == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clean up")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal file(s), %d bytes freed\n", stats.FilesRemoved, stats.BytesFreed)
	return nil
}

func runScansStats(cmd *cobra.Command, _ []string) error {
	dir, err := requireJournal()
	if err != nil {
		return err
	}

	stats := wal.GetStatsFromDir(dir, wal.DefaultConfig())
	w := cmd.OutOrStdout()
	if stats.TotalFiles == 0 {
		fmt.Fprintln(w, "Journal is empty")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Directory:\t%s\n", dir)
	fmt.Fprintf(tw, "Files:\t%d\n", stats.TotalFiles)
	fmt.Fprintf(tw, "Size:\t%d bytes\n", stats.TotalSizeBytes)
	fmt.Fprintf(tw, "Sequences:\t%d - %d\n", stats.FirstSequence, stats.LastSequence)
	fmt.Fprintf(tw, "Oldest file:\t%s\n", stats.OldestFile.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Newest file:\t%s\n", stats.NewestFile.Local().Format(time.DateTime))
	return tw.Flush()
}
