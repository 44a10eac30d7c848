package runner

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agentpress/internal/compaction"
	"agentpress/internal/message"
	"agentpress/internal/prompt"
	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

// Run outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeToolLimit = "tool_limit"
	OutcomeLimit     = "auto_continue_limit"
	OutcomeAborted   = "aborted"
	OutcomeAbandoned = "abandoned"
)

// MessageStore is the thread history the controller reads and appends to.
type MessageStore interface {
	// FetchThreadMessages returns the LLM-relevant messages of a thread in
	// creation order.
	FetchThreadMessages(ctx context.Context, threadID string) ([]message.Message, error)

	// AppendMessage durably records msg and returns it with its assigned id.
	AppendMessage(ctx context.Context, threadID string, msg message.Message) (*message.Message, error)
}

// Observer receives invocation and run outcomes.
type Observer interface {
	ObserveInvocation(model, finishReason string, elapsed time.Duration)
	ObserveRun(outcome string, continuations int)
}

// TurnRequest describes one run over a thread.
type TurnRequest struct {
	ThreadID     string
	SystemPrompt message.Message

	// Ephemeral is shown to the model on the first invocation only and is
	// never stored.
	Ephemeral *message.Message

	Tools []provider.Tool
}

// Runner is the continuation controller. It is safe for concurrent runs on
// different threads.
type Runner struct {
	store      MessageStore
	provider   provider.Provider
	compressor *compaction.Compressor
	summarizer *compaction.Summarizer
	observer   Observer
	config     Config
}

// Option configures a Runner.
type Option func(*Runner)

// WithSummarizer summarizes long threads before the first invocation of a run.
func WithSummarizer(s *compaction.Summarizer) Option {
	return func(r *Runner) {
		r.summarizer = s
	}
}

// WithMetrics reports outcomes to o.
func WithMetrics(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// New creates a Runner. A nil compressor counts tokens by estimate.
func New(store MessageStore, prov provider.Provider, compressor *compaction.Compressor, cfg Config, opts ...Option) *Runner {
	if compressor == nil {
		compressor = compaction.NewCompressor(compaction.EstimateCounter{})
	}
	r := &Runner{
		store:      store,
		provider:   prov,
		compressor: compressor,
		config:     cfg.normalized(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the runner configuration.
func (r *Runner) Config() Config {
	return r.config
}

// Run returns the chunk sequence of one run. Nothing happens until the
// sequence is ranged over. Every run ends with a finish chunk or a single
// error chunk unless the caller stops early, in which case the in-flight
// invocation is cancelled.
func (r *Runner) Run(ctx context.Context, req TurnRequest) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		r.run(ctx, req, yield)
	}
}

type invokeState int

const (
	invokeFinished invokeState = iota
	invokeAborted
	invokeAbandoned
)

func (r *Runner) run(ctx context.Context, req TurnRequest, yield func(Chunk) bool) {
	log := logger.Get().With().Str("thread_id", req.ThreadID).Str("model", r.config.Model).Logger()
	ceiling := r.config.MaxAutoContinues
	continues := 0
	outcome := OutcomeCompleted
	defer func() {
		if r.observer != nil {
			r.observer.ObserveRun(outcome, continues)
		}
	}()

	if err := r.validate(req); err != nil {
		outcome = OutcomeAborted
		yield(NewErrorChunk(err))
		return
	}

	if r.summarizer != nil {
		if _, err := r.summarizer.SummarizeIfNeeded(ctx, req.ThreadID, false); err != nil {
			log.Error().Err(err).Msg("summarization failed")
			outcome = OutcomeAborted
			yield(NewErrorChunk(err))
			return
		}
	}

	for {
		ephemeral := req.Ephemeral
		if continues > 0 {
			ephemeral = nil
		}

		reason, state := r.invoke(ctx, req, ephemeral, continues, log, yield)
		switch state {
		case invokeAborted:
			outcome = OutcomeAborted
			return
		case invokeAbandoned:
			outcome = OutcomeAbandoned
			return
		}

		if reason == provider.FinishReasonToolCalls && ceiling > 0 {
			continues++
			if continues < ceiling {
				log.Info().Int("iteration", continues).Int("max", ceiling).Msg("tool calls pending, continuing")
				continue
			}
			log.Warn().Int("max", ceiling).Msg("reached maximum auto-continue limit")
			outcome = OutcomeLimit
			if yield(NewContentChunk(fmt.Sprintf("\n[Agent reached maximum auto-continue limit of %d]", ceiling))) {
				yield(NewFinishChunk(FinishReasonAutoContinueLimit))
			}
			return
		}

		if reason == provider.FinishReasonToolLimit {
			log.Info().Msg("tool call limit reached, not continuing")
			outcome = OutcomeToolLimit
		}
		yield(NewFinishChunk(reason))
		return
	}
}

// invoke runs one turn and forwards its chunks, except the finish chunk
// whose reason it returns. On failure it yields the error chunk itself.
func (r *Runner) invoke(ctx context.Context, req TurnRequest, ephemeral *message.Message, iteration int, log zerolog.Logger, yield func(Chunk) bool) (string, invokeState) {
	invCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	abort := func(err error) (string, invokeState) {
		log.Error().Err(err).Int("iteration", iteration).Msg("invocation failed")
		yield(NewErrorChunk(err))
		return "", invokeAborted
	}

	chatReq, compressed, err := r.prepare(invCtx, req, ephemeral)
	if err != nil {
		return abort(err)
	}

	log.Debug().Int("iteration", iteration).Int("messages", len(chatReq.Messages)).Bool("stream", chatReq.Stream).Msg("invoking model")
	started := time.Now()

	limit := WithToolCallLimit(r.config.MaxToolCalls)
	var chunks iter.Seq[Chunk]
	if chatReq.Stream {
		events, err := r.provider.Stream(invCtx, chatReq)
		chunks = Relay(events, err, limit)
	} else {
		resp, err := r.provider.Chat(invCtx, chatReq)
		chunks = RelayResponse(resp, err, limit)
	}

	reason := ""
	var text strings.Builder
	for chunk := range chunks {
		switch {
		case chunk.IsError():
			r.observeInvocation(chatReq.Model, "error", started)
			if provider.IsContextWindowExceeded(chunk.Err()) {
				log.Warn().Err(chunk.Err()).
					Int("iteration", iteration).
					Int("tokens", compressed.TokensAfter).
					Int("max_tokens", compressed.MaxTokens).
					Bool("converged", compressed.Converged).
					Msg("model rejected prompt as too large")
				chunk = NewErrorChunk(promptTooLarge(compressed, chunk.Err()))
			} else {
				log.Error().Str("error", chunk.Message).Int("iteration", iteration).Msg("model invocation failed")
			}
			yield(chunk)
			return "", invokeAborted
		case chunk.Type == ChunkFinish:
			reason = chunk.FinishReason
		default:
			text.WriteString(chunk.Content)
			if !yield(chunk) {
				r.observeInvocation(chatReq.Model, "abandoned", started)
				return "", invokeAbandoned
			}
		}
	}
	r.observeInvocation(chatReq.Model, reason, started)

	if r.config.PersistResponses && text.Len() > 0 {
		resp := message.New(message.RoleAssistant, text.String())
		resp.FromModel = true
		resp.Metadata = map[string]any{"finish_reason": reason}
		if _, err := r.store.AppendMessage(ctx, req.ThreadID, resp); err != nil {
			return abort(fmt.Errorf("persist response: %w", err))
		}
	}
	return reason, invokeFinished
}

// prepare assembles and compresses the prompt for one invocation.
func (r *Runner) prepare(ctx context.Context, req TurnRequest, ephemeral *message.Message) (provider.ChatRequest, compaction.Result, error) {
	thread, err := r.store.FetchThreadMessages(ctx, req.ThreadID)
	if err != nil {
		return provider.ChatRequest{}, compaction.Result{}, fmt.Errorf("fetch thread messages: %w", err)
	}

	assembled := prompt.Assemble(req.SystemPrompt, thread, ephemeral)
	res, err := r.compressor.Compress(assembled, r.config.Model, r.config.Compress)
	if err != nil {
		return provider.ChatRequest{}, compaction.Result{}, fmt.Errorf("compress prompt: %w", err)
	}

	chatReq := provider.ChatRequest{
		Model:       r.config.Model,
		Messages:    provider.FromMessages(res.Messages),
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxOutputTokens,
		Stream:      r.config.Stream,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = req.Tools
		chatReq.ToolChoice = r.config.ToolChoice
	}
	return chatReq, res, nil
}

// promptTooLarge explains a context window rejection in terms of the
// compressed prompt that was sent.
func promptTooLarge(res compaction.Result, cause error) error {
	return fmt.Errorf("%w: sent %d tokens against a budget of %d: %w",
		ErrPromptTooLarge, res.TokensAfter, res.MaxTokens, cause)
}

func (r *Runner) validate(req TurnRequest) error {
	switch {
	case r.provider == nil:
		return ErrNoProvider
	case r.store == nil:
		return ErrNoStore
	case req.ThreadID == "":
		return ErrNoThread
	}
	return nil
}

func (r *Runner) observeInvocation(model, reason string, started time.Time) {
	if r.observer != nil {
		r.observer.ObserveInvocation(model, reason, time.Since(started))
	}
}
