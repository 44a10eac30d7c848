package compaction

import (
	"agentpress/internal/message"
	"agentpress/pkg/logger"
)

// TokenCounter estimates the prompt tokens a model would see for msgs.
// Implementations are best-effort and must not fail.
type TokenCounter interface {
	CountTokens(model string, msgs []message.Message) int
}

// CounterFunc adapts a function to TokenCounter.
type CounterFunc func(model string, msgs []message.Message) int

// CountTokens calls f.
func (f CounterFunc) CountTokens(model string, msgs []message.Message) int {
	return f(model, msgs)
}

// EstimateCounter assumes roughly four characters per token.
type EstimateCounter struct{}

// CountTokens returns the total content length divided by four.
func (EstimateCounter) CountTokens(_ string, msgs []message.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += m.Content.Len()
	}
	return chars / 4
}

// guardedCounter substitutes the estimate when the wrapped counter panics or
// reports a negative count.
type guardedCounter struct {
	inner TokenCounter
}

// Guard wraps c so that it always yields a usable count.
func Guard(c TokenCounter) TokenCounter {
	if c == nil {
		return EstimateCounter{}
	}
	if _, ok := c.(guardedCounter); ok {
		return c
	}
	if _, ok := c.(EstimateCounter); ok {
		return c
	}
	return guardedCounter{inner: c}
}

func (g guardedCounter) CountTokens(model string, msgs []message.Message) (n int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Str("model", model).Msg("token counter failed, using estimate")
			n = EstimateCounter{}.CountTokens(model, msgs)
		}
	}()
	n = g.inner.CountTokens(model, msgs)
	if n < 0 {
		logger.Warn().Int("tokens", n).Str("model", model).Msg("token counter returned negative count, using estimate")
		return EstimateCounter{}.CountTokens(model, msgs)
	}
	return n
}
