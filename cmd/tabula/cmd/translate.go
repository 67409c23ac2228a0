package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/translator"
)

func newTranslateCmd() *cobra.Command {
	var (
		kind    string
		model   string
		samples int
		timeout time.Duration
	)
	c := &cobra.Command{
		Use:   "translate <file> <instruction>",
		Short: "Ask the model for an operation and print it as YAML-ready JSON",
		Long: `Translate sends the file's header and a few sample rows with the
instruction to an OpenAI-compatible model. The candidate is printed, not
applied. Requires OPENAI_API_KEY; OPENAI_BASE_URL selects another endpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want operation.Kind
			if kind != "" {
				k, err := operation.ParseKind(kind)
				if err != nil {
					return err
				}
				want = k
			}

			d, _, err := readDataset(args[0])
			if err != nil {
				return err
			}
			tr, err := translator.NewOpenAI(translator.OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   model,
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				Timeout: timeout,
			})
			if err != nil {
				return err
			}

			op, err := tr.Translate(context.Background(), translator.Request{
				Instruction: args[1],
				Kind:        want,
				Sample:      translator.NewSample(d, samples),
			})
			if err != nil {
				return err
			}

			out := map[string]any{"operation": op}
			if _, verr := operation.Validate(op, d); verr != nil {
				out["warning"] = verr.Error()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	c.Flags().StringVarP(&kind, "kind", "k", "", "restrict to substitute, filter or compute")
	c.Flags().StringVar(&model, "model", "gpt-4o-mini", "chat model")
	c.Flags().IntVar(&samples, "samples", 3, "sample rows sent to the model (at most 5)")
	c.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "translation deadline")
	return c
}
