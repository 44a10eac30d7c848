// Package runner drives a thread turn: it assembles and compresses the prompt,
// invokes the model, relays the response as chunks and re-invokes the model
// while it keeps stopping on tool calls.
package runner

import "errors"

// Runner errors.
var (
	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("runner: no provider configured")

	// ErrNoStore indicates no message store is configured.
	ErrNoStore = errors.New("runner: no message store configured")

	// ErrNoThread indicates the turn request names no thread.
	ErrNoThread = errors.New("runner: thread id is required")

	// ErrEmptyResponse indicates a single-shot call returned no response.
	ErrEmptyResponse = errors.New("runner: empty model response")

	// ErrStreamFailed indicates the stream reported an error without detail.
	ErrStreamFailed = errors.New("runner: model stream failed")

	// ErrPromptTooLarge indicates the model rejected the compressed prompt
	// as larger than its context window.
	ErrPromptTooLarge = errors.New("runner: prompt exceeds the model context window")
)
