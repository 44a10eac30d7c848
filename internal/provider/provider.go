// Package provider defines the model invocation contract and its types.
package provider

import "context"

// Provider invokes a model. Implementations own transport, timeouts and
// stream decoding.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Models returns the list of supported models.
	Models() []string

	// Chat sends a chat request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Stream sends a chat request and returns a channel of streaming events.
	// The channel is closed when the stream ends or ctx is cancelled.
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}
