package compaction

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"agentpress/internal/message"
	"agentpress/pkg/logger"
)

const (
	encodingCL100K = "cl100k_base"
	encodingO200K  = "o200k_base"

	// per-message framing: <|start|>role\n content<|end|>\n
	tokensPerMessage = 4
	// reply priming at the end of a conversation
	tokensPerReply = 3
)

// EncodingLoader loads a BPE encoding by name.
type EncodingLoader func(name string) (*tiktoken.Tiktoken, error)

// TiktokenCounter counts tokens with OpenAI BPE encodings. Encodings are
// loaded lazily; when one cannot be loaded the counter falls back to the
// character estimate for good.
type TiktokenCounter struct {
	load     EncodingLoader
	fallback TokenCounter

	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	failed   map[string]bool
}

// NewTiktokenCounter creates a counter using tiktoken.GetEncoding.
func NewTiktokenCounter() *TiktokenCounter {
	return NewTiktokenCounterWithLoader(tiktoken.GetEncoding)
}

// NewTiktokenCounterWithLoader creates a counter using load to fetch encodings.
func NewTiktokenCounterWithLoader(load EncodingLoader) *TiktokenCounter {
	return &TiktokenCounter{
		load:     load,
		fallback: EstimateCounter{},
		encoders: make(map[string]*tiktoken.Tiktoken),
		failed:   make(map[string]bool),
	}
}

func encodingForModel(model string) string {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "gpt-4o") || strings.Contains(lower, "gpt-4.1") || strings.Contains(lower, "gpt-5") {
		return encodingO200K
	}
	return encodingCL100K
}

func (t *TiktokenCounter) encoder(name string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encoders[name]; ok {
		return enc
	}
	if t.failed[name] {
		return nil
	}
	enc, err := t.load(name)
	if err != nil || enc == nil {
		t.failed[name] = true
		logger.Warn().Err(err).Str("encoding", name).Msg("tiktoken encoding unavailable, falling back to estimate")
		return nil
	}
	t.encoders[name] = enc
	return enc
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(model string, msgs []message.Message) int {
	enc := t.encoder(encodingForModel(model))
	if enc == nil {
		return t.fallback.CountTokens(model, msgs)
	}

	total := 0
	for _, m := range msgs {
		total += tokensPerMessage
		total += len(enc.Encode(string(m.Role), nil, nil))
		total += len(enc.Encode(m.Content.String(), nil, nil))
	}
	return total + tokensPerReply
}
