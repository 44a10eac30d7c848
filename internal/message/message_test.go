package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentJSON(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		m := New(RoleUser, "hello")
		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"content":"hello"`)
		assert.Contains(t, string(data), `"type":"text"`)

		var out Message
		require.NoError(t, json.Unmarshal(data, &out))
		assert.False(t, out.Content.IsStructured())
		assert.Equal(t, "hello", out.Content.Text)
	})

	t.Run("structured", func(t *testing.T) {
		var out Message
		require.NoError(t, json.Unmarshal([]byte(`{"role":"tool","content":{"tool_execution":{"result":"ok"}}}`), &out))
		require.True(t, out.Content.IsStructured())
		assert.Equal(t, `{"tool_execution":{"result":"ok"}}`, out.Content.String())
	})

	t.Run("other values kept as text", func(t *testing.T) {
		var c Content
		require.NoError(t, json.Unmarshal([]byte(`[1,2]`), &c))
		assert.Equal(t, "[1,2]", c.Text)
	})

	t.Run("null", func(t *testing.T) {
		var c Content
		require.NoError(t, json.Unmarshal([]byte(`null`), &c))
		assert.True(t, c.IsEmpty())
	})
}

func TestContentClone(t *testing.T) {
	orig := Structured(map[string]any{"a": 1})
	cp := orig.Clone()
	cp.Data["b"] = 2
	assert.Len(t, orig.Data, 1)
	assert.Equal(t, len(`{"a":1}`), orig.Len())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleTool.Valid())
	assert.False(t, Role("bot").Valid())
	assert.False(t, Role("").Valid())
}

func TestIsToolResult(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"marker in text", New(RoleTool, "ToolResult(success=True)"), true},
		{"plain text", New(RoleUser, "just chatting"), false},
		{"empty", New(RoleTool, ""), false},
		{"structured with execution", Message{Content: Structured(map[string]any{"tool_execution": map[string]any{}})}, true},
		{"structured without execution", Message{Content: Structured(map[string]any{"role": "x"})}, false},
		{"json text with execution", New(RoleTool, `{"tool_execution":{"result":"done"}}`), true},
		{"json text without execution", New(RoleTool, `{"other":1}`), false},
		{"broken json", New(RoleTool, `{"tool_execution":`), false},
		{"json array", New(RoleTool, `[{"tool_execution":1}]`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsToolResult(tt.msg))
		})
	}
}

func TestIsToolMessage(t *testing.T) {
	assert.True(t, IsToolMessage(New(RoleTool, "exit status 0")))
	assert.True(t, IsToolMessage(New(RoleTool, "")))
	assert.True(t, IsToolMessage(New(RoleUser, "ToolResult(success=True)")))
	assert.False(t, IsToolMessage(New(RoleAssistant, "no tools here")))
}

func TestStripToolArgumentsStructured(t *testing.T) {
	te := map[string]any{"arguments": map[string]any{"path": "/tmp"}, "result": "ok", "name": "read"}
	orig := Message{ID: "m1", Role: RoleTool, Content: Structured(map[string]any{"tool_execution": te, "extra": true})}

	got := StripToolArguments(orig)

	stripped, ok := got.Content.Data["tool_execution"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, stripped, "arguments")
	assert.Equal(t, "ok", stripped["result"])
	assert.Equal(t, true, got.Content.Data["extra"])
	assert.Equal(t, "m1", got.ID)

	// input untouched
	assert.Contains(t, te, "arguments")
}

func TestStripToolArgumentsText(t *testing.T) {
	orig := New(RoleTool, `{"tool_execution":{"arguments":{"q":"big"},"result":"found"}}`)
	got := StripToolArguments(orig)
	assert.JSONEq(t, `{"tool_execution":{"result":"found"}}`, got.Content.Text)
	assert.Contains(t, orig.Content.Text, "arguments")
}

func TestStripToolArgumentsPassThrough(t *testing.T) {
	cases := []Message{
		New(RoleUser, "not json"),
		New(RoleTool, `{"tool_execution":"flat"}`),
		New(RoleTool, `{"tool_execution":{"result":"x"}}`),
		New(RoleTool, `{"tool_execution": {`),
		{Content: Structured(map[string]any{"tool_execution": "flat"})},
	}
	for _, m := range cases {
		assert.Equal(t, m, StripToolArguments(m))
	}
}

func TestStripToolArgumentsIdempotent(t *testing.T) {
	m := New(RoleTool, `{"tool_execution":{"arguments":{"a":1},"result":"r"}}`)
	once := StripToolArguments(m)
	assert.Equal(t, once, StripToolArguments(once))
}
