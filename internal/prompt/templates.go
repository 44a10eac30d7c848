package prompt

// System prompt templates.
const (
	baseIdentityTemplate = `You are {{.AgentName}}, a helpful AI assistant.
Current Time: {{.CurrentTime}} ({{.Timezone}})
`

	capabilitiesTemplate = `{{if .Tools}}
## Available Tools
You have access to the following tools:
{{range .Tools}}
### {{.Name}}
{{.Description}}
{{end}}
When using tools:
1. Analyze the user's request and determine if tools are needed.
2. Call the appropriate tool with the correct arguments.
3. Wait for the tool result before proceeding.
4. Use the tool results to formulate your response.
{{end}}`

	historyTemplate = `
## Conversation History
Older messages may have been shortened to fit your context window. A shortened
message ends with its message_id; use the expand-message tool with that id when
you need the full contents. A message that starts with a conversation history
summary stands in for everything before it.
`

	currentContextTemplate = `{{if .ExtraPrompt}}
## Additional Context
{{.ExtraPrompt}}
{{end}}`

	constraintsTemplate = `{{if .Constraints}}
## Guidelines
{{range .Constraints}}
- {{.}}
{{end}}{{end}}
{{if gt .MaxOutputTokens 0}}
## Output Token Limit
Your maximum output token limit is **{{.MaxOutputTokens}} tokens** per response.
- If a tool call argument would be very large, split it into several smaller calls.
- Output beyond {{.MaxOutputTokens}} tokens is cut off and the turn continues automatically.
{{end}}`
)
