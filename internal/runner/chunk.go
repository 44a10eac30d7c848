package runner

import "fmt"

// ChunkType tags a Chunk so callers can tell text from terminal signals.
type ChunkType string

const (
	// ChunkContent carries an incremental piece of model text.
	ChunkContent ChunkType = "content"
	// ChunkStatus carries a status report; Status "error" ends the run.
	ChunkStatus ChunkType = "status"
	// ChunkFinish carries the terminal reason of an invocation.
	ChunkFinish ChunkType = "finish"
)

// StatusError is the Status of an error chunk.
const StatusError = "error"

// FinishReasonAutoContinueLimit follows the limit notice when the
// continuation ceiling stops a run that still had tool calls pending.
const FinishReasonAutoContinueLimit = "auto_continue_limit"

// Chunk is one record of the sequence produced for a caller.
type Chunk struct {
	Type         ChunkType `json:"type"`
	Content      string    `json:"content,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`

	err error
}

// NewContentChunk creates a content chunk.
func NewContentChunk(content string) Chunk {
	return Chunk{Type: ChunkContent, Content: content}
}

// NewFinishChunk creates a finish chunk.
func NewFinishChunk(reason string) Chunk {
	return Chunk{Type: ChunkFinish, FinishReason: reason}
}

// NewErrorChunk creates an error status chunk.
func NewErrorChunk(err error) Chunk {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Chunk{Type: ChunkStatus, Status: StatusError, Message: msg, err: err}
}

// Err returns the error an error chunk was created from.
func (c Chunk) Err() error {
	return c.err
}

// IsError reports whether c is an error status chunk.
func (c Chunk) IsError() bool {
	return c.Type == ChunkStatus && c.Status == StatusError
}

// String returns a compact form for logs.
func (c Chunk) String() string {
	switch c.Type {
	case ChunkContent:
		return fmt.Sprintf("content(%q)", c.Content)
	case ChunkFinish:
		return "finish(" + c.FinishReason + ")"
	case ChunkStatus:
		return c.Status + "(" + c.Message + ")"
	default:
		return string(c.Type)
	}
}
