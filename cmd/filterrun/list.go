package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/filterd/internal/graph"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFILTERS\tDESCRIPTION")
			for _, info := range graph.NewBuiltinRegistry().List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, strings.Join(info.Filters, " -> "), info.Description)
			}
			return tw.Flush()
		},
	}
}
