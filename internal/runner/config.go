package runner

import (
	"agentpress/internal/compaction"
	"agentpress/internal/provider"
)

// DefaultMaxAutoContinues is the continuation ceiling used by DefaultConfig.
const DefaultMaxAutoContinues = 25

// Config holds configuration for the continuation controller.
type Config struct {
	// Model is the model id sent with every invocation.
	Model string `json:"model"`

	// Temperature controls the randomness of the model output.
	// Default is 0.
	Temperature float64 `json:"temperature"`

	// MaxOutputTokens caps each response. Zero leaves it to the provider.
	MaxOutputTokens int `json:"max_output_tokens"`

	// Stream selects streaming invocation over single-shot.
	// Default is true.
	Stream bool `json:"stream"`

	// ToolChoice is passed through when tools are offered.
	// Default is "auto".
	ToolChoice string `json:"tool_choice"`

	// MaxAutoContinues is how many times one run may re-invoke the model
	// after a tool_calls finish. Zero performs a single invocation.
	// Default is 25.
	MaxAutoContinues int `json:"max_auto_continues"`

	// MaxToolCalls ends an invocation with tool_limit_reached once the
	// model has requested this many tool calls in it. Zero means no limit.
	MaxToolCalls int `json:"max_tool_calls"`

	// PersistResponses appends each invocation's text to the thread as an
	// assistant message.
	PersistResponses bool `json:"persist_responses"`

	// Compress is the budget applied to every assembled prompt.
	Compress compaction.CompressOptions `json:"compress"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Stream:           true,
		ToolChoice:       provider.ToolChoiceAuto,
		MaxAutoContinues: DefaultMaxAutoContinues,
		Compress:         compaction.DefaultCompressOptions(),
	}
}

// WithModel returns a copy of the config with the specified model.
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithMaxAutoContinues returns a copy of the config with the specified ceiling.
func (c Config) WithMaxAutoContinues(n int) Config {
	c.MaxAutoContinues = n
	return c
}

// WithMaxToolCalls returns a copy of the config with the specified tool call cap.
func (c Config) WithMaxToolCalls(n int) Config {
	c.MaxToolCalls = n
	return c
}

// WithStream returns a copy of the config with the specified stream setting.
func (c Config) WithStream(enabled bool) Config {
	c.Stream = enabled
	return c
}

// normalized clamps out-of-range values.
func (c Config) normalized() Config {
	if c.MaxAutoContinues < 0 {
		c.MaxAutoContinues = 0
	}
	if c.MaxToolCalls < 0 {
		c.MaxToolCalls = 0
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	if c.ToolChoice == "" {
		c.ToolChoice = provider.ToolChoiceAuto
	}
	return c
}
