// Package message defines the conversation message model shared by the
// stores, the compression engine and the continuation runner.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Role identifies who a message is attributed to. It never changes after
// the message is created.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Kind values used by the runtime. Kind is a free-form tag; callers may
// store others.
const (
	KindText     = "text"
	KindToolCall = "tool_call"
	KindTool     = "tool"
	KindSummary  = "summary"
	KindStatus   = "status"
)

// Message is one entry of a thread. Copies produced by compression keep the
// same ID and position and only ever carry shorter content.
type Message struct {
	ID        string         `json:"message_id,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Role      Role           `json:"role,omitempty"`
	Kind      string         `json:"type,omitempty"`
	Content   Content        `json:"content"`
	FromModel bool           `json:"is_llm_message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// New returns a text message with the given role.
func New(role Role, text string) Message {
	return Message{Role: role, Kind: KindText, Content: Text(text)}
}

// WithContent returns a copy of m carrying c.
func (m Message) WithContent(c Content) Message {
	m.Content = c
	return m
}

// Content is either raw text or a structured key/value payload.
type Content struct {
	Text string
	Data map[string]any
}

// Text returns raw text content.
func Text(s string) Content {
	return Content{Text: s}
}

// Structured returns structured content. The map is not copied.
func Structured(data map[string]any) Content {
	if data == nil {
		data = map[string]any{}
	}
	return Content{Data: data}
}

// IsStructured reports whether the content is a key/value payload.
func (c Content) IsStructured() bool {
	return c.Data != nil
}

// IsEmpty reports whether there is nothing to show the model.
func (c Content) IsEmpty() bool {
	if c.IsStructured() {
		return len(c.Data) == 0
	}
	return c.Text == ""
}

// String renders the content as the model sees it. Structured content is
// rendered as compact JSON with sorted keys.
func (c Content) String() string {
	if !c.IsStructured() {
		return c.Text
	}
	b, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Sprint(c.Data)
	}
	return string(b)
}

// Len is the byte length of String.
func (c Content) Len() int {
	return len(c.String())
}

// Clone returns a copy whose top-level map can be modified independently.
func (c Content) Clone() Content {
	if !c.IsStructured() {
		return c
	}
	return Content{Data: maps.Clone(c.Data)}
}

// MarshalJSON encodes text as a JSON string and structured content as an object.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Data)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a JSON string or object. Any other JSON value is
// kept verbatim as text.
func (c *Content) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*c = Content{}
		return nil
	case trimmed[0] == '{':
		var data map[string]any
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return fmt.Errorf("decode structured content: %w", err)
		}
		*c = Structured(data)
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		*c = Text(s)
		return nil
	default:
		*c = Text(string(trimmed))
		return nil
	}
}
