package compaction

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"agentpress/internal/message"
	"agentpress/pkg/logger"
)

const (
	safeTruncateSuffix = "\n\nThis message is too long, repeat relevant information in your response to remember it"
	compressedMarker   = "... (truncated)"
	expandHintFormat   = "\n\nmessage_id %q\nUse expand-message tool to see contents"
)

// Observer receives the outcome of every Compress call.
type Observer interface {
	ObserveCompression(model string, res Result)
}

// Result is the outcome of Compress.
type Result struct {
	// Messages is the prepared sequence, same length and order as the input.
	Messages []message.Message

	MaxTokens    int
	TokensBefore int
	TokensAfter  int

	// Threshold is the per-message threshold of the last pass.
	Threshold int

	// Attempts is the number of truncation passes run. Zero means the
	// sequence was already under budget.
	Attempts int

	// Converged reports whether TokensAfter fits MaxTokens.
	Converged bool

	Warnings []string
}

// Compressor shrinks message sequences to fit a token budget.
type Compressor struct {
	counter  TokenCounter
	observer Observer
}

// CompressorOption configures a Compressor.
type CompressorOption func(*Compressor)

// WithObserver reports every result to o.
func WithObserver(o Observer) CompressorOption {
	return func(c *Compressor) {
		c.observer = o
	}
}

// NewCompressor creates a Compressor. A nil counter uses EstimateCounter.
func NewCompressor(counter TokenCounter, opts ...CompressorOption) *Compressor {
	c := &Compressor{counter: Guard(counter)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Counter returns the counter used by c.
func (c *Compressor) Counter() TokenCounter {
	return c.counter
}

// Compress strips tool arguments from msgs and then truncates oversized
// messages, role by role, until the sequence fits the budget. Each retry
// starts again from the stripped input with half the threshold. When
// retries run out the last pass is returned with a warning. msgs is never
// modified.
func (c *Compressor) Compress(msgs []message.Message, model string, opts CompressOptions) (Result, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if !isPowerOfTwo(threshold) {
		return Result{}, fmt.Errorf("%w: %d", ErrThresholdNotPowerOfTwo, threshold)
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = MaxTokensForModel(model)
	}
	retries := max(opts.MaxRetries, 0)

	stripped := make([]message.Message, len(msgs))
	for i, m := range msgs {
		stripped[i] = message.StripToolArguments(m)
	}

	res := Result{
		Messages:     stripped,
		MaxTokens:    maxTokens,
		TokensBefore: c.counter.CountTokens(model, stripped),
		Threshold:    threshold,
	}
	res.TokensAfter = res.TokensBefore
	if res.TokensBefore <= maxTokens {
		res.Converged = true
		c.observe(model, res)
		return res, nil
	}

	for {
		res.Attempts++
		res.Threshold = threshold
		res.Messages, res.Warnings = c.truncatePass(stripped, model, maxTokens, threshold)
		res.TokensAfter = c.counter.CountTokens(model, res.Messages)

		logger.Debug().Str("model", model).Int("tokens_after", res.TokensAfter).
			Int("threshold", threshold).Int("attempt", res.Attempts).Msg("compression pass")

		if res.TokensAfter <= maxTokens {
			res.Converged = true
			break
		}
		if retries == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("compression retries exhausted: %d tokens > budget %d", res.TokensAfter, maxTokens))
			break
		}
		if threshold == 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("threshold cannot shrink below 1: %d tokens > budget %d", res.TokensAfter, maxTokens))
			break
		}
		threshold /= 2
		retries--
	}

	for _, w := range res.Warnings {
		logger.Warn().Str("model", model).Msg(w)
	}
	logger.Info().Str("model", model).Int("tokens_before", res.TokensBefore).
		Int("tokens_after", res.TokensAfter).Int("attempts", res.Attempts).Bool("converged", res.Converged).
		Msg("compressed messages")

	c.observe(model, res)
	return res, nil
}

func (c *Compressor) observe(model string, res Result) {
	if c.observer != nil {
		c.observer.ObserveCompression(model, res)
	}
}

type rolePass struct {
	name  string
	match func(message.Message) bool
}

// Tool results go first; they are usually the largest.
var rolePasses = []rolePass{
	{name: "tool_result", match: message.IsToolMessage},
	{name: "user", match: func(m message.Message) bool { return m.Role == message.RoleUser }},
	{name: "assistant", match: func(m message.Message) bool { return m.Role == message.RoleAssistant }},
}

// truncatePass runs every role pass once over a copy of src.
func (c *Compressor) truncatePass(src []message.Message, model string, maxTokens, threshold int) ([]message.Message, []string) {
	out := slices.Clone(src)
	var warnings []string

	for _, pass := range rolePasses {
		if c.counter.CountTokens(model, out) <= maxTokens {
			continue
		}
		latest := true
		for i := len(out) - 1; i >= 0; i-- {
			if !pass.match(out[i]) {
				continue
			}
			isLatest := latest
			latest = false

			if c.counter.CountTokens(model, out[i:i+1]) <= threshold {
				continue
			}
			if isLatest {
				out[i] = safeTruncate(out[i], maxTokens*2)
				continue
			}
			if out[i].ID == "" {
				warnings = append(warnings, fmt.Sprintf("%s message at position %d has no id, left uncompressed", pass.name, i))
				continue
			}
			out[i] = compressMessage(out[i], threshold*3)
		}
	}
	return out, warnings
}

// safeTruncate keeps the first limit bytes of the rendered content.
func safeTruncate(m message.Message, limit int) message.Message {
	s := m.Content.String()
	if len(s) <= limit {
		return m
	}
	return m.WithContent(message.Text(cutUTF8(s, limit) + safeTruncateSuffix))
}

// compressMessage replaces the content with a short prefix and a pointer to
// the full message.
func compressMessage(m message.Message, limit int) message.Message {
	s := m.Content.String()
	if len(s) <= limit {
		return m
	}
	return m.WithContent(message.Text(cutUTF8(s, limit) + compressedMarker + fmt.Sprintf(expandHintFormat, m.ID)))
}

// cutUTF8 returns at most n leading bytes of s without splitting a rune.
func cutUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
