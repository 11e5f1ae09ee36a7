package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/surface/inventory"
)

// collectionOps binds a document command tree to one collection
type collectionOps struct {
	name    string // plural, e.g. "resources"
	columns []string
	upload  func(s *inventory.Service, ctx context.Context, raw []map[string]any) (int, error)
	list    func(s *inventory.Service, ctx context.Context, req inventory.ListRequest) (*inventory.Page, error)
	remove  func(s *inventory.Service, ctx context.Context, raw map[string]any) (int, error)
}

// newCollectionCmd builds "<name> upload|list|delete"
func newCollectionCmd(ops collectionOps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   ops.name,
		Short: fmt.Sprintf("Upload, list and delete %s", ops.name),
	}
	cmd.AddCommand(newUploadCmd(ops), newListCmd(ops), newDeleteCmd(ops))
	return cmd
}

func newUploadCmd(ops collectionOps) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: fmt.Sprintf("Upload %s from a JSON or YAML file (- for stdin)", ops.name),
		Long: fmt.Sprintf(`Upload %[1]s as one batch. The file holds a list of objects or an
object with the list under "%[1]s". If any document is invalid nothing
is stored.`, ops.name),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(args[0], ops.name, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := ops.upload(a.inventory, cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d %s\n", n, ops.name)
			return nil
		},
	}
}

func newListCmd(ops collectionOps) *cobra.Command {
	var (
		filterRaw string
		req       inventory.ListRequest
		output    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s with filter, search, sort and paging", ops.name),
		Example: fmt.Sprintf(`  surface %[1]s list
  surface %[1]s list --search web --sort name,-created_at
  surface %[1]s list --filter '{"region": "us-east-1"}' --page 2 --page-size 50
  surface %[1]s list -o json`, ops.name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			f, err := parseFilterFlag(filterRaw)
			if err != nil {
				return err
			}
			req.Filter = f

			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			page, err := ops.list(a.inventory, cmd.Context(), req)
			if err != nil {
				return err
			}
			if output == outputJSON {
				return printJSON(cmd.OutOrStdout(), page)
			}
			if err := printDocuments(cmd.OutOrStdout(), page.Data, ops.columns...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d (%d per page), %d total\n", page.PageNumber, page.PageSize, page.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filterRaw, "filter", "f", "", "Filter object (JSON or YAML)")
	cmd.Flags().IntVar(&req.PageNumber, "page", inventory.DefaultPageNumber, "Page number, starting at 1")
	cmd.Flags().IntVar(&req.PageSize, "page-size", inventory.DefaultPageSize, fmt.Sprintf("Page size (max %d)", inventory.MaxPageSize))
	cmd.Flags().StringVar(&req.SortBy, "sort", inventory.DefaultSortBy, "Comma separated sort fields; prefix with - for descending")
	cmd.Flags().StringVar(&req.SortOrder, "order", inventory.SortAsc, "Sort order: asc or desc")
	cmd.Flags().StringVarP(&req.Search, "search", "s", "", "Case-insensitive substring match on name")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, json")
	return cmd
}

func newDeleteCmd(ops collectionOps) *cobra.Command {
	var (
		filterRaw string
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: fmt.Sprintf("Delete %s matching a filter", ops.name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(filterRaw) == "" && !all {
				return fmt.Errorf("refusing to delete every %s without --all", strings.TrimSuffix(ops.name, "s"))
			}
			f, err := parseFilterFlag(filterRaw)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := ops.remove(a.inventory, cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d %s\n", n, ops.name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filterRaw, "filter", "f", "", "Filter object (JSON or YAML)")
	cmd.Flags().BoolVar(&all, "all", false, "Delete everything when no filter is given")
	return cmd
}

func init() {
	rootCmd.AddCommand(newCollectionCmd(collectionOps{
		name:    "resources",
		columns: []string{"_id", "name", "resource_type", "region"},
		upload:  (*inventory.Service).UploadResources,
		list:    (*inventory.Service).ListResources,
		remove:  (*inventory.Service).DeleteResources,
	}))
	rootCmd.AddCommand(newCollectionCmd(collectionOps{
		name:    "rules",
		columns: []string{"_id", "name", "field", "op", "value", "severity"},
		upload:  (*inventory.Service).UploadRules,
		list:    (*inventory.Service).ListRules,
		remove:  (*inventory.Service).DeleteRules,
	}))
}
