package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/garnizeh/initiatives/internal/aggregate"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
)

var catalogFile string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Initiative catalog tools",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse a catalog CSV and report skipped rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogFile
		if path == "" {
			path = cfg.Catalog.Path
		}
		return runCatalogCheck(cmd.Context(), cmd.OutOrStdout(), path)
	},
}

func init() {
	catalogCheckCmd.Flags().StringVar(&catalogFile, "file", "", "catalog CSV (defaults to catalog.path, then the embedded catalog)")
	catalogCmd.AddCommand(catalogCheckCmd)
	rootCmd.AddCommand(catalogCmd)
}

// runCatalogCheck fails only when the file cannot be read; malformed rows are
// reported, not fatal.
func runCatalogCheck(ctx context.Context, out io.Writer, path string) error {
	var (
		snap *catalog.Snapshot
		err  error
		name = path
	)
	if path == "" {
		name = "embedded:" + embeddedCatalog
		snap, err = newCatalogStore(config.CatalogConfig{}, catalog.Hooks{}).Reload(ctx)
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer f.Close()
		snap, err = catalog.Parse(f)
	}
	if err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	groups := aggregate.CompanyGroups(snap)
	fmt.Fprintf(out, "%s: %d initiatives from %d companies, %d rows skipped\n", name, snap.Len(), len(groups), len(snap.Skipped))
	for _, sk := range snap.Skipped {
		fmt.Fprintf(out, "  line %d: %s (%d fields)\n", sk.Line, sk.Reason, sk.Fields)
	}
	return nil
}
