// Package prompt builds the system prompt and assembles the message sequence
// sent to the model for a turn.
package prompt

import "errors"

// Prompt errors.
var (
	// ErrTemplateRender indicates that template rendering failed.
	ErrTemplateRender = errors.New("prompt: template render failed")
)
