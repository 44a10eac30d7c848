package compaction

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"

	"agentpress/internal/message"
)

func TestEstimateCounter(t *testing.T) {
	tests := []struct {
		name     string
		msgs     []message.Message
		expected int
	}{
		{"empty", nil, 0},
		{"short", []message.Message{message.New(message.RoleUser, "hello")}, 1},
		{"eight chars", []message.Message{message.New(message.RoleUser, "abcdefgh")}, 2},
		{"summed before dividing", []message.Message{
			message.New(message.RoleUser, "abc"),
			message.New(message.RoleAssistant, "def"),
		}, 1},
		{"structured", []message.Message{{Content: message.Structured(map[string]any{"k": "v"})}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateCounter{}.CountTokens("any", tt.msgs))
		})
	}
}

func TestGuard(t *testing.T) {
	msgs := []message.Message{message.New(message.RoleUser, "abcdefgh")}

	panicky := Guard(CounterFunc(func(string, []message.Message) int { panic("tokenizer exploded") }))
	assert.Equal(t, 2, panicky.CountTokens("m", msgs))

	negative := Guard(CounterFunc(func(string, []message.Message) int { return -1 }))
	assert.Equal(t, 2, negative.CountTokens("m", msgs))

	fine := Guard(CounterFunc(func(string, []message.Message) int { return 42 }))
	assert.Equal(t, 42, fine.CountTokens("m", msgs))

	assert.Equal(t, EstimateCounter{}, Guard(nil))
	assert.IsType(t, guardedCounter{}, Guard(fine))
}

func TestTiktokenCounter_FallsBackWhenEncodingUnavailable(t *testing.T) {
	loads := 0
	c := NewTiktokenCounterWithLoader(func(name string) (*tiktoken.Tiktoken, error) {
		loads++
		return nil, errors.New("offline")
	})

	msgs := []message.Message{message.New(message.RoleUser, "abcdefghijkl")}
	assert.Equal(t, 3, c.CountTokens("gpt-4", msgs))
	assert.Equal(t, 3, c.CountTokens("gpt-4", msgs))
	assert.Equal(t, 1, loads, "a failed encoding is not retried")

	assert.Equal(t, 3, c.CountTokens("gpt-4o", msgs))
	assert.Equal(t, 2, loads)
}

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, encodingO200K, encodingForModel("gpt-4o-mini"))
	assert.Equal(t, encodingO200K, encodingForModel("openai/GPT-4.1"))
	assert.Equal(t, encodingCL100K, encodingForModel("gpt-4"))
	assert.Equal(t, encodingCL100K, encodingForModel("claude-sonnet-4"))
}
