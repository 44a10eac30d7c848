package prompt

// PromptConfig holds configuration for the system prompt builder.
type PromptConfig struct {
	AgentName           string   `json:"agent_name" mapstructure:"agent_name" yaml:"agent_name"`
	Timezone            string   `json:"timezone" mapstructure:"timezone" yaml:"timezone"`
	ExtraPrompt         string   `json:"extra_prompt" mapstructure:"extra_prompt" yaml:"extra_prompt"`
	Constraints         []string `json:"constraints" mapstructure:"constraints" yaml:"constraints"`
	DisableSafetyPrompt bool     `json:"disable_safety_prompt" mapstructure:"disable_safety_prompt" yaml:"disable_safety_prompt"`
}

// DefaultPromptConfig returns a PromptConfig with default values.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		AgentName: "Agentpress",
		Timezone:  "UTC",
	}
}

// PromptData holds all data for template rendering.
type PromptData struct {
	AgentName       string
	Tools           []ToolInfo
	Timezone        string
	CurrentTime     string
	Constraints     []string
	ExtraPrompt     string
	MaxOutputTokens int
}

// ToolInfo holds information about a tool for prompt rendering.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]any
}
