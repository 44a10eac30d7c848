package runner

import (
	"iter"
	"sync/atomic"

	"agentpress/internal/provider"
)

// RelayOption configures Relay and RelayResponse.
type RelayOption func(*relayConfig)

type relayConfig struct {
	maxToolCalls int
}

// WithToolCallLimit ends the invocation with tool_limit_reached as soon as
// the model has requested n tool calls. Zero means no limit.
func WithToolCallLimit(n int) RelayOption {
	return func(c *relayConfig) {
		c.maxToolCalls = n
	}
}

func newRelayConfig(opts []RelayOption) relayConfig {
	var cfg relayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c relayConfig) limitReached(toolCalls int) bool {
	return c.maxToolCalls > 0 && toolCalls >= c.maxToolCalls
}

// Relay turns the result of a streaming model call into a chunk sequence.
// A non-nil err, or a nil channel, yields a single error chunk. Otherwise
// content events are forwarded as they arrive and the sequence ends with
// one finish chunk, or with an error chunk if the stream reports one. A
// stream that closes without a done event finishes with "stop". With a tool
// call limit, reaching it stops reading and finishes with
// tool_limit_reached.
//
// The sequence can be ranged over once; later iterations yield nothing.
// Stopping early does not drain events: the producer is expected to watch
// its context, which the caller cancels.
func Relay(events <-chan provider.ChatEvent, err error, opts ...RelayOption) iter.Seq[Chunk] {
	cfg := newRelayConfig(opts)
	var used atomic.Bool
	return func(yield func(Chunk) bool) {
		if used.Swap(true) {
			return
		}
		if err != nil {
			yield(NewErrorChunk(err))
			return
		}
		if events == nil {
			yield(NewErrorChunk(ErrEmptyResponse))
			return
		}

		reason := ""
		toolCalls := 0
		for ev := range events {
			switch ev.Type {
			case provider.EventTypeContent:
				if ev.Delta == "" {
					continue
				}
				if !yield(NewContentChunk(ev.Delta)) {
					return
				}
			case provider.EventTypeToolCall:
				toolCalls++
				if cfg.limitReached(toolCalls) {
					yield(NewFinishChunk(provider.FinishReasonToolLimit))
					return
				}
			case provider.EventTypeDone:
				if ev.FinishReason != "" {
					reason = ev.FinishReason
				}
			case provider.EventTypeError:
				yield(NewErrorChunk(streamError(ev.Error)))
				return
			}
		}
		yield(NewFinishChunk(finishReason(reason, toolCalls)))
	}
}

// RelayResponse turns the result of a single-shot model call into the same
// chunk shape Relay produces: the whole content as one chunk, then finish.
func RelayResponse(resp *provider.ChatResponse, err error, opts ...RelayOption) iter.Seq[Chunk] {
	cfg := newRelayConfig(opts)
	var used atomic.Bool
	return func(yield func(Chunk) bool) {
		if used.Swap(true) {
			return
		}
		if err != nil {
			yield(NewErrorChunk(err))
			return
		}
		if resp == nil {
			yield(NewErrorChunk(ErrEmptyResponse))
			return
		}
		if resp.Content != "" && !yield(NewContentChunk(resp.Content)) {
			return
		}
		if cfg.limitReached(len(resp.ToolCalls)) {
			yield(NewFinishChunk(provider.FinishReasonToolLimit))
			return
		}
		yield(NewFinishChunk(finishReason(resp.FinishReason, len(resp.ToolCalls))))
	}
}

// finishReason reports tool calls with a stop reason as tool_calls; some
// providers do not set the reason correctly in stream mode.
func finishReason(reason string, toolCalls int) string {
	if toolCalls > 0 && (reason == "" || reason == provider.FinishReasonStop) {
		return provider.FinishReasonToolCalls
	}
	if reason == "" {
		return provider.FinishReasonStop
	}
	return reason
}

func streamError(err error) error {
	if err == nil {
		return ErrStreamFailed
	}
	return err
}
