// Package cmd implements the tabula command line: offline previews and
// operation pipelines over local csv and spreadsheet files.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabula/internal/codec"
	"github.com/JonMunkholm/tabula/internal/core"
	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/logging"
)

var (
	logLevel string
	verbose  bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tabula",
		Short: "Transform csv and spreadsheet files",
		Long: `tabula previews tabular files and applies substitute, filter and
compute operations to them without running the server.

Examples:
  tabula preview sales.csv --rows 10
  tabula apply sales.csv cleaned.xlsx --ops ops.yaml
  tabula translate sales.csv "keep rows where Region is West"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logLevel
			if verbose {
				level = "debug"
			}
			logging.Setup(level, "text")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newPreviewCmd(), newApplyCmd(), newTranslateCmd())
	return root
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err, then the support message and code when the error
// is one a user can act on.
func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}

// readDataset loads and decodes a local file, picking the format from its
// extension.
func readDataset(path string) (*dataset.Dataset, codec.Format, error) {
	format, err := codec.FormatFromFilename(path)
	if err != nil {
		return nil, format, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, format, fmt.Errorf("read %s: %w", path, err)
	}
	d, err := codec.Decode(data, format)
	if err != nil {
		return nil, format, fmt.Errorf("%s: %w", path, err)
	}
	return d, format, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
