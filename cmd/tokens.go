package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compresr/provider-gateway/internal/adapters"
	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/store"
	"github.com/compresr/provider-gateway/internal/tokenizer"
)

const defaultTokensModel = "gpt-4o"

// newTokenizers is swapped in tests to avoid loading BPE ranks.
var newTokenizers = func() tokenizer.Source { return tokenizer.NewCache() }

type tokensOptions struct {
	provider string
	model    string
	show     bool
}

func newTokensCmd() *cobra.Command {
	var opts tokensOptions
	cmd := &cobra.Command{
		Use:   "tokens <file>",
		Short: "Count tokens and TOON savings for a JSON file",
		Long: "With --provider the file is a request body in that provider's format and every\n" +
			"tool result in it is compressed. Without it the whole file is one tool result.\n" +
			"Use - to read stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return runTokens(cmd.OutOrStdout(), args[0], data, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "request body format (openai, anthropic, bedrock, ...)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model for tokenizer and price lookup (default: request model, then "+defaultTokensModel+")")
	cmd.Flags().BoolVar(&opts.show, "show", false, "print the TOON form of a single tool result")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func runTokens(out io.Writer, name string, data []byte, opts tokensOptions) error {
	memo := store.NewMemoryStore(store.DefaultTTL)
	defer memo.Close()
	stage := compression.NewStage(newTokenizers(), pricing.NewDefaultCatalog(), memo)

	model := opts.model
	var (
		res     compression.Result
		updates map[string]string
	)

	if opts.provider != "" {
		p := adapters.ProviderFromString(opts.provider)
		if p == adapters.ProviderUnknown {
			return fmt.Errorf("unknown provider %q", opts.provider)
		}
		req, err := adapters.NewRegistry().NewRequestAdapter(p, data, adapters.WithCompressor(stage))
		if err != nil {
			return err
		}
		if model == "" {
			model = req.Model()
		}
		if model == "" {
			model = defaultTokensModel
		}
		res = req.ApplyToonCompression(model)
		fmt.Fprintf(out, "%-10s %s (%d tool results)\n", "provider:", p, len(req.ToolResults()))
	} else {
		if model == "" {
			model = defaultTokensModel
		}
		updates, res = stage.Compress(model, []compression.Item{{ID: name, Content: string(data)}})
	}

	fmt.Fprintf(out, "%-10s %s\n", "model:", model)
	printResult(out, res)

	if opts.show {
		if toon, ok := updates[name]; ok {
			fmt.Fprintf(out, "\n%s\n", toon)
		} else {
			fmt.Fprintln(out, "\n(no TOON form: content kept as is)")
		}
	}
	return nil
}

func printResult(out io.Writer, res compression.Result) {
	if res.TokensBefore == nil || res.TokensAfter == nil {
		fmt.Fprintf(out, "%-10s no tool results to compress\n", "tokens:")
		return
	}

	before, after := *res.TokensBefore, *res.TokensAfter
	saved := res.TokensSaved()
	pct := 0.0
	if before > 0 {
		pct = float64(saved) * 100 / float64(before)
	}
	savedColor := color.New(color.FgGreen)
	if saved <= 0 {
		savedColor = color.New(color.FgYellow)
	}
	fmt.Fprintf(out, "%-10s %d -> %d ", "tokens:", before, after)
	savedColor.Fprintf(out, "(saved %d, %.1f%%)\n", saved, pct)

	switch {
	case res.CostSavings != nil:
		fmt.Fprintf(out, "%-10s $%.6f saved (%s)\n", "cost:", *res.CostSavings, res.CostStatus)
	default:
		fmt.Fprintf(out, "%-10s %s\n", "cost:", res.CostStatus)
	}
}
