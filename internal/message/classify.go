package message

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"agentpress/pkg/logger"
)

const (
	// ToolResultMarker is the textual marker tool executors put into results.
	ToolResultMarker = "ToolResult"

	// ToolExecutionKey is the structured sub-key carrying a tool invocation.
	ToolExecutionKey = "tool_execution"

	toolArgumentsKey = "arguments"
)

// IsToolResult reports whether m carries the outcome of a tool invocation:
// text containing ToolResultMarker, structured content with a
// ToolExecutionKey, or text that parses as such structured content.
func IsToolResult(m Message) bool {
	c := m.Content
	if c.IsEmpty() {
		return false
	}
	if c.IsStructured() {
		_, ok := c.Data[ToolExecutionKey]
		return ok
	}
	if strings.Contains(c.Text, ToolResultMarker) {
		return true
	}
	obj, ok := parseObject(c.Text)
	return ok && obj.Get(ToolExecutionKey).Exists()
}

// IsToolMessage reports whether m carries tool output: a tool-role message,
// whatever its content, or any message IsToolResult accepts.
func IsToolMessage(m Message) bool {
	return m.Role == RoleTool || IsToolResult(m)
}

// StripToolArguments returns a copy of m whose tool execution no longer
// carries its arguments. The result field and everything else is kept.
// Content that is not structured, or text that does not parse, is returned
// unchanged.
func StripToolArguments(m Message) Message {
	c := m.Content
	if c.IsStructured() {
		te, ok := c.Data[ToolExecutionKey].(map[string]any)
		if !ok {
			return m
		}
		if _, has := te[toolArgumentsKey]; !has {
			return m
		}
		stripped := make(map[string]any, len(te))
		for k, v := range te {
			if k != toolArgumentsKey {
				stripped[k] = v
			}
		}
		next := c.Clone()
		next.Data[ToolExecutionKey] = stripped
		return m.WithContent(next)
	}

	obj, ok := parseObject(c.Text)
	if !ok {
		return m
	}
	te := obj.Get(ToolExecutionKey)
	if !te.IsObject() || !te.Get(toolArgumentsKey).Exists() {
		return m
	}
	out, err := sjson.Delete(c.Text, ToolExecutionKey+"."+toolArgumentsKey)
	if err != nil {
		logger.Warn().Err(err).Str("message_id", m.ID).Msg("strip tool arguments failed, keeping content")
		return m
	}
	return m.WithContent(Text(out))
}

func parseObject(text string) (gjson.Result, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return gjson.Result{}, false
	}
	return gjson.Parse(trimmed), true
}
