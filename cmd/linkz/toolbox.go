package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zoobzio/linkz"
)

func newToolboxCmd(reg *linkz.Registry) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "toolbox",
		Short: "List the available link classes",
		Long:  "Display every registered link class with its tooltip and constructor signature.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if category != "" && !slices.Contains(reg.Categories(), category) {
				return fmt.Errorf("unknown category %q, have %v", category, reg.Categories())
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CLASS\tTOOLTIP")
			for _, e := range reg.Toolbox() {
				if category != "" && e.Category != category {
					continue
				}
				fmt.Fprintf(w, "%s.%s\t%s\n", e.Category, e.Class, e.Tooltip)
				fmt.Fprintf(w, "  %s\t\n", e.API)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list classes of this category")
	return cmd
}
