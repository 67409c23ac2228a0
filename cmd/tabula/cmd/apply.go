package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/tabula/internal/codec"
	"github.com/JonMunkholm/tabula/internal/core"
	"github.com/JonMunkholm/tabula/internal/operation"
)

// pipelineFile is the ops file layout:
//
//	operations:
//	  - kind: substitute
//	    column: Price
//	    pattern: '\$'
//	  - kind: filter
//	    expression: Price > 10
type pipelineFile struct {
	Operations []operation.Operation `yaml:"operations"`
}

func loadPipeline(path string) ([]operation.Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ops: %w", err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse ops %s: %w", path, err)
	}
	if len(pf.Operations) == 0 {
		return nil, fmt.Errorf("ops %s: no operations", path)
	}
	for i := range pf.Operations {
		kind, err := operation.ParseKind(string(pf.Operations[i].Kind))
		if err != nil {
			return nil, fmt.Errorf("ops %s: operation %d: %w", path, i+1, err)
		}
		pf.Operations[i].Kind = kind
	}
	return pf.Operations, nil
}

func newApplyCmd() *cobra.Command {
	var opsPath string
	c := &cobra.Command{
		Use:   "apply <input> <output>",
		Short: "Apply a pipeline of operations and write the result",
		Long: `Apply reads operations from a YAML file and runs them in order. The
output format follows the output file's extension, so a csv can be
written as a spreadsheet and back. Nothing is written if any step fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opsPath == "" {
				return errors.New("--ops is required")
			}
			ops, err := loadPipeline(opsPath)
			if err != nil {
				return err
			}
			outFormat, err := codec.FormatFromFilename(args[1])
			if err != nil {
				return err
			}
			d, _, err := readDataset(args[0])
			if err != nil {
				return err
			}

			out, steps, err := core.RunPipeline(d, ops)
			if err != nil {
				return err
			}
			data, err := codec.Encode(out, outFormat)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}

			w := cmd.OutOrStdout()
			for i, s := range steps {
				fmt.Fprintf(w, "%d. %s: %s\n", i+1, s.Label, s.Message)
			}
			fmt.Fprintf(w, "wrote %d rows to %s\n", out.Len(), args[1])
			return nil
		},
	}
	c.Flags().StringVarP(&opsPath, "ops", "o", "", "YAML file listing operations")
	return c
}
