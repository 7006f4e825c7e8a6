package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/storefront/internal/app/runtime"
	catalogsvc "github.com/R3E-Network/storefront/internal/app/services/catalog"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog maintenance",
	}

	var mappingPath string
	importCmd := &cobra.Command{
		Use:   "import <feed.json|->",
		Short: "Create or update products from a JSON feed",
		Long: `Create or update products by SKU from a JSON feed. Without --mapping the
feed must be an array of objects with sku, name, price (major units), stock,
description, image_url, category and active fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feed, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			mapping := catalogsvc.DefaultMapping()
			if mappingPath != "" {
				raw, err := os.ReadFile(mappingPath)
				if err != nil {
					return err
				}
				mapping = catalogsvc.ImportMapping{}
				if err := json.Unmarshal(raw, &mapping); err != nil {
					return fmt.Errorf("parse mapping: %w", err)
				}
			}
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				result, err := rt.App().Catalog.ImportProducts(cmd.Context(), feed, mapping)
				if err != nil {
					return err
				}
				for _, e := range result.Errors {
					opts.out.Warning("item %d (%s): %s", e.Index, e.SKU, e.Message)
				}
				opts.out.Success("imported %d new and %d updated products", result.Created, result.Updated)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&mappingPath, "mapping", "", "JSON file describing the feed's field paths")

	cmd.AddCommand(importCmd)
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
