package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compresr/provider-gateway/internal/pricing"
)

const defaultCatalogPath = "data/prices.db"

func newPricesCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage the sqlite price catalog",
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", defaultCatalogPath, "sqlite catalog file (pricing.catalog_path)")

	importCmd := &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Load a YAML price seed into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prices, err := pricing.LoadSeed(args[0])
			if err != nil {
				return err
			}
			db, err := pricing.OpenSQLite(cmd.Context(), catalogPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Upsert(cmd.Context(), prices); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "imported %d prices into %s\n", len(prices), catalogPath)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := pricing.OpenSQLite(cmd.Context(), catalogPath)
			if err != nil {
				return err
			}
			defer db.Close()

			prices, err := db.All(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tINPUT $/M\tOUTPUT $/M")
			for _, p := range prices {
				fmt.Fprintf(tw, "%s\t%.4g\t%.4g\n", p.Model, p.InputPerMillion, p.OutputPerMillion)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}
