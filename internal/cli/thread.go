package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentpress/internal/message"
)

// NewThreadCmd creates the thread command.
func NewThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage conversation threads",
		Long:  `Create, list, inspect and delete conversation threads.`,
	}

	cmd.AddCommand(newThreadNewCmd())
	cmd.AddCommand(newThreadListCmd())
	cmd.AddCommand(newThreadShowCmd())
	cmd.AddCommand(newThreadDeleteCmd())

	return cmd
}

func newThreadNewCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := GetCLIContext(cmd).Store(cmd.Context())
			if err != nil {
				return err
			}
			thread, err := store.CreateThread(cmd.Context(), title, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), thread.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "thread title")

	return cmd
}

func newThreadListCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := GetCLIContext(cmd).Store(cmd.Context())
			if err != nil {
				return err
			}
			threads, err := store.ListThreads(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, threads)
			}
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, t := range threads {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Title, t.MessageCount, t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of threads to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newThreadShowCmd() *cobra.Command {
	var (
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show the messages of a thread",
		Long: `Show the messages the model sees for a thread: the latest summary
and everything after it. Use --all for the full history including status rows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := GetCLIContext(cmd).Store(ctx)
			if err != nil {
				return err
			}
			thread, err := store.GetThread(ctx, args[0])
			if err != nil {
				return fmt.Errorf("thread %s: %w", args[0], err)
			}

			var msgs []message.Message
			if all {
				msgs, err = store.ListMessages(ctx, thread.ID)
			} else {
				msgs, err = store.FetchThreadMessages(ctx, thread.ID)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, struct {
					Thread   any               `json:"thread"`
					Messages []message.Message `json:"messages"`
				}{thread, msgs})
			}

			fmt.Fprintf(out, "Thread:   %s\n", thread.ID)
			if thread.Title != "" {
				fmt.Fprintf(out, "Title:    %s\n", thread.Title)
			}
			fmt.Fprintf(out, "Created:  %s\n", thread.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Messages: %d\n\n", thread.MessageCount)
			for _, m := range msgs {
				printMessage(out, m)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include history hidden by summaries and status rows")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newThreadDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := GetCLIContext(cmd).Store(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.DeleteThread(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("thread %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", args[0])
			return nil
		},
	}
}

func printMessage(out io.Writer, m message.Message) {
	role := string(m.Role)
	if role == "" {
		role = "-"
	}
	fmt.Fprintf(out, "[%s] %s (%s, %s)\n%s\n\n", role, m.ID, m.Kind, m.CreatedAt.Local().Format("15:04:05"), m.Content.String())
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
