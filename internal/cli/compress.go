package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentpress/internal/compaction"
	"agentpress/internal/prompt"
)

type compressOptions struct {
	threadID   string
	model      string
	maxTokens  int
	threshold  int
	jsonOutput bool
}

// NewCompressCmd creates the compress command. It runs compression over the
// prompt a thread would produce and reports the outcome without changing
// anything.
func NewCompressCmd() *cobra.Command {
	var opts compressOptions

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Report how a thread's prompt would be compressed",
		Example: `  agentpress compress --thread 2b1c... --model gpt-4o
  agentpress compress --thread 2b1c... --max-tokens 8000 --threshold 512`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.threadID, "thread", "t", "", "thread ID")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model whose budget applies")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "budget override (0 derives it from the model)")
	cmd.Flags().IntVar(&opts.threshold, "threshold", 0, "per-message threshold override, a power of two")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output the result as JSON")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}

func runCompress(cmd *cobra.Command, opts compressOptions) error {
	cliCtx := GetCLIContext(cmd)
	ctx := cmd.Context()

	store, err := cliCtx.Store(ctx)
	if err != nil {
		return err
	}
	msgs, err := store.FetchThreadMessages(ctx, opts.threadID)
	if err != nil {
		return err
	}
	system, err := systemPrompt(cliCtx, "", nil)
	if err != nil {
		return err
	}
	assembled := prompt.Assemble(system, msgs, nil)

	model := opts.model
	if model == "" {
		model = cliCtx.Config.ModelName()
	}
	copts := cliCtx.Config.Context.CompressOptions()
	if opts.maxTokens > 0 {
		copts.MaxTokens = opts.maxTokens
	}
	if opts.threshold > 0 {
		copts.Threshold = opts.threshold
	}

	res, err := compaction.NewCompressor(cliCtx.Counter()).Compress(assembled, model, copts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		return writeJSON(out, res)
	}

	fmt.Fprintf(out, "Model:      %s\n", model)
	fmt.Fprintf(out, "Budget:     %d tokens\n", res.MaxTokens)
	fmt.Fprintf(out, "Before:     %d tokens\n", res.TokensBefore)
	fmt.Fprintf(out, "After:      %d tokens\n", res.TokensAfter)
	fmt.Fprintf(out, "Threshold:  %d\n", res.Threshold)
	fmt.Fprintf(out, "Attempts:   %d\n", res.Attempts)
	fmt.Fprintf(out, "Converged:  %t\n", res.Converged)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "Warning:    %s\n", w)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	changed := false
	for i, m := range res.Messages {
		before, after := assembled[i].Content.Len(), m.Content.Len()
		if before == after {
			continue
		}
		if !changed {
			fmt.Fprintln(out)
			fmt.Fprintln(w, "ID\tROLE\tBYTES BEFORE\tBYTES AFTER")
			changed = true
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", m.ID, m.Role, before, after)
	}
	return w.Flush()
}
