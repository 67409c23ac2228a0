package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabula/internal/preview"
)

func newPreviewCmd() *cobra.Command {
	var rows int
	c := &cobra.Command{
		Use:   "preview <file>",
		Short: "Print a JSON preview of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := readDataset(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), preview.Project(d, rows))
		},
	}
	c.Flags().IntVarP(&rows, "rows", "n", preview.ResultRows, "maximum rows to show (-1 for all)")
	return c
}
