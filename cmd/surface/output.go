package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/yairfalse/surface/types"
)

// Output formats
const (
	outputTable = "table"
	outputJSON  = "json"
)

func checkOutput(format string) error {
	if format != outputTable && format != outputJSON {
		return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputTable, outputJSON)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDocuments renders docs as a table of the given columns
func printDocuments(w io.Writer, docs []types.Document, columns ...string) error {
	if len(docs) == 0 {
		_, err := fmt.Fprintln(w, "No documents found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, d := range docs {
		row := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := d.Lookup(c); ok {
				row[i] = truncate(v.String(), 40)
			} else {
				row[i] = "-"
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// printCounts renders label/count pairs in the given order
func printCounts(w io.Writer, label string, keys []string, counts map[string]int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tCOUNT\n", strings.ToUpper(label))
	total := 0
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
		total += counts[k]
	}
	fmt.Fprintf(tw, "TOTAL\t%d\n", total)
	return tw.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
