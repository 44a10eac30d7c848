package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentpress/internal/message"
	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

const summaryInstructions = `You are a specialized summarization assistant. Your task is to create a concise but comprehensive summary of the conversation history.

The summary should:
1. Preserve all key information including decisions, conclusions, and important context
2. Include any tools that were used and their results
3. Maintain chronological order of events
4. Be presented as a narrated list of key points with section headers
5. Include only factual information from the conversation (no new information)
6. Be concise but detailed enough that the conversation can continue with this summary as context

VERY IMPORTANT: This summary will replace older parts of the conversation in the LLM's context window, so ensure it contains ALL key information and LATEST STATE OF THE CONVERSATION - SO WE WILL KNOW HOW TO PICK UP WHERE WE LEFT OFF.


THE CONVERSATION HISTORY TO SUMMARIZE IS AS FOLLOWS:
===============================================================
==================== CONVERSATION HISTORY ====================
%s
==================== END OF CONVERSATION HISTORY ====================
===============================================================
`

const summaryRequest = "PLEASE PROVIDE THE SUMMARY NOW."

const summaryBanner = `
======== CONVERSATION HISTORY SUMMARY ========

%s

======== END OF SUMMARY ========

The above is a summary of the conversation history. The conversation continues below.
`

// SummaryStore is the part of the thread store the Summarizer needs.
type SummaryStore interface {
	// FetchMessagesSinceSummary returns the LLM-relevant messages after the
	// latest summary, excluding it.
	FetchMessagesSinceSummary(ctx context.Context, threadID string) ([]message.Message, error)
	AppendMessage(ctx context.Context, threadID string, msg message.Message) (*message.Message, error)
}

// Summarizer replaces long thread history with a model-written summary
// message. Stores return history from the latest summary onward, so the
// summary stands in for everything before it.
type Summarizer struct {
	provider provider.Provider
	store    SummaryStore
	counter  TokenCounter
	config   SummarizerConfig
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(prov provider.Provider, store SummaryStore, counter TokenCounter, config SummarizerConfig) *Summarizer {
	if config.Threshold <= 0 {
		config.Threshold = DefaultSummarizeThreshold
	}
	return &Summarizer{
		provider: prov,
		store:    store,
		counter:  Guard(counter),
		config:   config,
	}
}

// TokensSinceSummary counts the tokens of the messages after the latest summary.
func (s *Summarizer) TokensSinceSummary(ctx context.Context, threadID string) (int, []message.Message, error) {
	if s.store == nil {
		return 0, nil, ErrNoStore
	}
	msgs, err := s.store.FetchMessagesSinceSummary(ctx, threadID)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch messages since summary: %w", err)
	}
	msgs = withoutSummaries(msgs)
	if len(msgs) == 0 {
		return 0, nil, nil
	}
	return s.counter.CountTokens(s.config.Model, msgs), msgs, nil
}

// SummarizeIfNeeded appends a summary message when the tokens since the last
// summary reach the threshold, or unconditionally when force is set. It
// reports whether a summary was written. A failed model call is logged and
// reported as false; a failed write is returned as an error.
func (s *Summarizer) SummarizeIfNeeded(ctx context.Context, threadID string, force bool) (bool, error) {
	tokens, msgs, err := s.TokensSinceSummary(ctx, threadID)
	if err != nil {
		return false, err
	}

	log := logger.Get().With().Str("thread_id", threadID).Int("tokens", tokens).Logger()
	if tokens < s.config.Threshold && !force {
		log.Debug().Int("threshold", s.config.Threshold).Msg("below summarize threshold")
		return false, nil
	}
	if len(msgs) < minSummarizeMessages {
		log.Info().Int("messages", len(msgs)).Msg("too few messages to summarize")
		return false, nil
	}

	summary, err := s.CreateSummary(ctx, msgs)
	if err != nil {
		log.Error().Err(err).Msg("failed to create summary")
		return false, nil
	}

	summary.Metadata = map[string]any{"token_count": tokens}
	if _, err := s.store.AppendMessage(ctx, threadID, summary); err != nil {
		return false, fmt.Errorf("append summary: %w", err)
	}
	log.Info().Int("messages", len(msgs)).Msg("thread summarized")
	return true, nil
}

// CreateSummary asks the model for a summary of msgs and returns it as an
// unsaved summary message.
func (s *Summarizer) CreateSummary(ctx context.Context, msgs []message.Message) (message.Message, error) {
	if s.provider == nil {
		return message.Message{}, ErrNoProvider
	}

	history, err := json.MarshalIndent(provider.FromMessages(msgs), "", "  ")
	if err != nil {
		return message.Message{}, fmt.Errorf("render history: %w", err)
	}

	resp, err := s.provider.Chat(ctx, provider.ChatRequest{
		Model: s.config.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: fmt.Sprintf(summaryInstructions, history)},
			{Role: provider.RoleUser, Content: summaryRequest},
		},
		Temperature: 0,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %w", ErrSummaryFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return message.Message{}, fmt.Errorf("%w: empty response", ErrSummaryFailed)
	}

	return message.Message{
		Role:      message.RoleUser,
		Kind:      message.KindSummary,
		Content:   message.Text(fmt.Sprintf(summaryBanner, resp.Content)),
		FromModel: true,
	}, nil
}

func withoutSummaries(msgs []message.Message) []message.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Kind != message.KindSummary {
			out = append(out, m)
		}
	}
	return out
}
