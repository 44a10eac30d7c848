package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agentpress/internal/compaction"
	"agentpress/internal/message"
	"agentpress/internal/prompt"
	"agentpress/internal/provider"
	"agentpress/internal/runner"
)

type chatOptions struct {
	threadID  string
	system    string
	ephemeral string
	model     string
	toolsFile string
	noStream  bool
}

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to the agent",
		Long: `Append a user message to a thread and run the model over it.

Without a message argument, chat reads one message per line from stdin
until EOF or "exit".`,
		Example: `  # Start a new thread
  agentpress chat "Summarize the release notes"

  # Continue a thread
  agentpress chat --thread 2b1c... "And the breaking changes?"

  # Show extra context on this turn only
  agentpress chat --ephemeral "Answer in one sentence" "What changed?"

  # Offer tools from a JSON file of function definitions
  agentpress chat --tools tools.json "List the open ports"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.threadID, "thread", "t", "", "thread ID to continue (a new thread is created when empty)")
	cmd.Flags().StringVar(&opts.system, "system", "", "system prompt (defaults to the configured prompt)")
	cmd.Flags().StringVar(&opts.ephemeral, "ephemeral", "", "context shown to the model on this turn only")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model override")
	cmd.Flags().StringVar(&opts.toolsFile, "tools", "", "JSON file with the tool definitions offered to the model")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "use single-shot invocation")

	return cmd
}

func runChat(cmd *cobra.Command, args []string, opts chatOptions) error {
	cliCtx := GetCLIContext(cmd)
	ctx := cmd.Context()

	store, err := cliCtx.Store(ctx)
	if err != nil {
		return err
	}
	prov, err := cliCtx.Provider(ctx)
	if err != nil {
		return err
	}

	model := opts.model
	if model == "" {
		model = cliCtx.Config.ModelName()
	}
	r := newRunner(cliCtx, store, prov, model, cliCtx.Config.Model.Stream && !opts.noStream)

	tools, err := loadTools(opts.toolsFile)
	if err != nil {
		return err
	}
	system, err := systemPrompt(cliCtx, opts.system, tools)
	if err != nil {
		return err
	}

	threadID := opts.threadID
	if threadID == "" {
		title := ""
		if len(args) > 0 {
			title = truncateTitle(strings.Join(args, " "))
		}
		thread, err := store.CreateThread(ctx, title, nil)
		if err != nil {
			return err
		}
		threadID = thread.ID
		fmt.Fprintf(cmd.ErrOrStderr(), "thread %s\n", threadID)
	} else if _, err := store.GetThread(ctx, threadID); err != nil {
		return fmt.Errorf("thread %s: %w", threadID, err)
	}

	req := runner.TurnRequest{ThreadID: threadID, SystemPrompt: system, Tools: tools}
	if opts.ephemeral != "" {
		eph := message.New(message.RoleUser, opts.ephemeral)
		req.Ephemeral = &eph
	}

	if len(args) > 0 {
		return chatTurn(ctx, cmd, store, r, req, strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := chatTurn(ctx, cmd, store, r, req, line); err != nil {
			return err
		}
		// ephemeral context belongs to the first turn only
		req.Ephemeral = nil
	}
	return scanner.Err()
}

func chatTurn(ctx context.Context, cmd *cobra.Command, store Store, r *runner.Runner, req runner.TurnRequest, text string) error {
	if _, err := store.AppendMessage(ctx, req.ThreadID, message.New(message.RoleUser, text)); err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), cmd.ErrOrStderr(), r.Run(ctx, req), GetCLIContext(cmd).Verbose)
}

// printRun writes content chunks to out as they arrive and returns the
// error carried by an error chunk.
func printRun(out, errOut io.Writer, chunks iter.Seq[runner.Chunk], verbose bool) error {
	var runErr error
	finish := ""
	for c := range chunks {
		switch {
		case c.IsError():
			runErr = c.Err()
			if runErr == nil {
				runErr = errors.New(c.Message)
			}
		case c.Type == runner.ChunkContent:
			fmt.Fprint(out, c.Content)
		case c.Type == runner.ChunkFinish:
			finish = c.FinishReason
		}
	}
	fmt.Fprintln(out)

	if verbose && finish != "" {
		fmt.Fprintf(errOut, "[finish: %s]\n", finish)
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func newRunner(cliCtx *CLIContext, store Store, prov provider.Provider, model string, stream bool) *runner.Runner {
	cfg := cliCtx.Config
	collector := cliCtx.Metrics()

	var compressorOpts []compaction.CompressorOption
	var runnerOpts []runner.Option
	if collector != nil {
		compressorOpts = append(compressorOpts, compaction.WithObserver(collector))
		runnerOpts = append(runnerOpts, runner.WithMetrics(collector))
	}
	compressor := compaction.NewCompressor(cliCtx.Counter(), compressorOpts...)

	sc := cfg.Context.SummarizerConfig()
	if sc.Model == "" {
		sc.Model = model
	}
	runnerOpts = append(runnerOpts, runner.WithSummarizer(compaction.NewSummarizer(prov, store, cliCtx.Counter(), sc)))

	rc := runner.DefaultConfig().WithModel(model).WithStream(stream).WithMaxAutoContinues(cfg.Runner.MaxAutoContinues).
		WithMaxToolCalls(cfg.Runner.MaxToolCalls)
	rc.Temperature = cfg.Model.Temperature
	rc.MaxOutputTokens = cfg.Model.MaxOutputTokens
	rc.PersistResponses = cfg.Runner.PersistResponses
	if cfg.Runner.ToolChoice != "" {
		rc.ToolChoice = cfg.Runner.ToolChoice
	}
	rc.Compress = cfg.Context.CompressOptions()

	return runner.New(store, prov, compressor, rc, runnerOpts...)
}

// systemPrompt returns override verbatim, or builds the configured prompt
// with tools listed in it.
func systemPrompt(cliCtx *CLIContext, override string, tools []provider.Tool) (message.Message, error) {
	if override != "" {
		return prompt.SystemMessage(override), nil
	}
	builder := prompt.NewSystemPromptBuilder(cliCtx.Config.Prompt).WithTools(tools)
	builder.SetMaxOutputTokens(cliCtx.Config.Model.MaxOutputTokens)
	text, err := builder.Build()
	if err != nil {
		return message.Message{}, err
	}
	return prompt.SystemMessage(text), nil
}

// loadTools reads a JSON array of tool definitions. An empty path means no
// tools.
func loadTools(path string) ([]provider.Tool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools: %w", err)
	}
	var tools []provider.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("parse tools %s: %w", path, err)
	}
	for i := range tools {
		if tools[i].Function.Name == "" {
			return nil, fmt.Errorf("parse tools %s: tool %d has no function name", path, i)
		}
		if tools[i].Type == "" {
			tools[i].Type = "function"
		}
	}
	return tools, nil
}

func truncateTitle(s string) string {
	const maxTitle = 60
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTitle {
		return string(r[:maxTitle-3]) + "..."
	}
	return s
}
