package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

// ProcessStream decodes Ollama's newline-delimited JSON stream into
// ChatEvents. The goroutine exits and closes r once the stream is done,
// fails, or ctx is cancelled, so abandoned consumers do not leak it.
func ProcessStream(ctx context.Context, r io.ReadCloser) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent)

	go func() {
		defer close(events)
		defer r.Close()

		send := func(ev provider.ChatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		toolCalls := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var resp ollamaResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				logger.Error().Err(err).Str("line", string(line)).Msg("failed to parse ollama stream line")
				send(provider.ChatEvent{Type: provider.EventTypeError, Error: fmt.Errorf("decode stream line: %w", err)})
				return
			}

			if resp.Error != "" {
				logger.Error().Str("error", resp.Error).Msg("ollama stream returned inline error")
				send(provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: provider.NewProviderError(provider.ErrCodeUnknown, resp.Error, providerName, false),
				})
				return
			}

			if resp.Message.Content != "" {
				if !send(provider.ChatEvent{Type: provider.EventTypeContent, Delta: resp.Message.Content}) {
					return
				}
			}

			for _, tc := range resp.Message.ToolCalls {
				call := convertToolCall(toolCalls, tc)
				toolCalls++
				if !send(provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &call}) {
					return
				}
			}

			if resp.Done {
				send(provider.ChatEvent{
					Type:         provider.EventTypeDone,
					Usage:        convertUsage(&resp),
					FinishReason: finishReason(resp.DoneReason, toolCalls > 0),
				})
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("error reading ollama stream")
			send(provider.ChatEvent{Type: provider.EventTypeError, Error: classifyError(err)})
		}
	}()

	return events
}
