package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentpress/internal/compaction"
)

// NewSummarizeCmd creates the summarize command.
func NewSummarizeCmd() *cobra.Command {
	var (
		threadID string
		model    string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a thread's history when it grows past the threshold",
		Long: `Replace older history with a model-written summary once the tokens
since the last summary reach context.summarize_threshold. --force
summarizes regardless of size.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			ctx := cmd.Context()

			store, err := cliCtx.Store(ctx)
			if err != nil {
				return err
			}
			if _, err := store.GetThread(ctx, threadID); err != nil {
				return fmt.Errorf("thread %s: %w", threadID, err)
			}
			prov, err := cliCtx.Provider(ctx)
			if err != nil {
				return err
			}

			sc := cliCtx.Config.Context.SummarizerConfig()
			if model != "" {
				sc.Model = model
			}
			if sc.Model == "" {
				sc.Model = cliCtx.Config.ModelName()
			}
			summarizer := compaction.NewSummarizer(prov, store, cliCtx.Counter(), sc)

			tokens, _, err := summarizer.TokensSinceSummary(ctx, threadID)
			if err != nil {
				return err
			}
			done, err := summarizer.SummarizeIfNeeded(ctx, threadID, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done {
				fmt.Fprintf(out, "Summarized %d tokens of history.\n", tokens)
			} else {
				fmt.Fprintf(out, "No summary written (%d tokens since last summary, threshold %d).\n", tokens, sc.Threshold)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread ID")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model asked for the summary")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "summarize regardless of size")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}
