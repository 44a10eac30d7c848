package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"agentpress/internal/provider"
)

// SystemPromptBuilder renders the system prompt sent at the head of every turn.
type SystemPromptBuilder struct {
	config          PromptConfig
	tools           []provider.Tool
	maxOutputTokens int // 0 = unknown
	now             func() time.Time
}

// NewSystemPromptBuilder creates a new SystemPromptBuilder.
func NewSystemPromptBuilder(config PromptConfig) *SystemPromptBuilder {
	defaults := DefaultPromptConfig()
	if config.AgentName == "" {
		config.AgentName = defaults.AgentName
	}
	if config.Timezone == "" {
		config.Timezone = defaults.Timezone
	}
	return &SystemPromptBuilder{config: config, now: time.Now}
}

// WithTools lists the tools the model may call.
func (b *SystemPromptBuilder) WithTools(tools []provider.Tool) *SystemPromptBuilder {
	b.tools = tools
	return b
}

// SetMaxOutputTokens sets the per-response output limit of the current model.
// When set (>0) it is rendered into the prompt.
func (b *SystemPromptBuilder) SetMaxOutputTokens(tokens int) {
	b.maxOutputTokens = tokens
}

// Config returns the builder's prompt config.
func (b *SystemPromptBuilder) Config() PromptConfig {
	return b.config
}

// Build renders the complete system prompt.
func (b *SystemPromptBuilder) Build() (string, error) {
	return b.render(b.prepareData())
}

func (b *SystemPromptBuilder) prepareData() PromptData {
	current := b.now()
	if loc, err := time.LoadLocation(b.config.Timezone); err == nil {
		current = current.In(loc)
	}

	data := PromptData{
		AgentName:       b.config.AgentName,
		Timezone:        b.config.Timezone,
		CurrentTime:     current.Format("2006-01-02 15:04:05"),
		Constraints:     b.config.Constraints,
		ExtraPrompt:     b.config.ExtraPrompt,
		MaxOutputTokens: b.maxOutputTokens,
	}
	for _, t := range b.tools {
		info := ToolInfo{Name: t.Function.Name, Description: t.Function.Description}
		if len(t.Function.Parameters) > 0 {
			_ = json.Unmarshal(t.Function.Parameters, &info.Parameters)
		}
		data.Tools = append(data.Tools, info)
	}
	return data
}

func (b *SystemPromptBuilder) render(data PromptData) (string, error) {
	sections := []string{
		baseIdentityTemplate,
		capabilitiesTemplate,
		historyTemplate,
		currentContextTemplate,
		constraintsTemplate,
	}

	var result bytes.Buffer
	for _, section := range sections {
		tmpl, err := template.New("").Parse(section)
		if err != nil {
			return "", fmt.Errorf("%w: parse: %v", ErrTemplateRender, err)
		}
		if err := tmpl.Execute(&result, data); err != nil {
			return "", fmt.Errorf("%w: execute: %v", ErrTemplateRender, err)
		}
	}

	if !b.config.DisableSafetyPrompt {
		result.WriteString("\n")
		result.WriteString(SafetyRulesPrompt)
	}
	return result.String(), nil
}
