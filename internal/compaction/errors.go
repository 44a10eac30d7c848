// Package compaction fits conversation history into a model's context budget,
// by truncating oversized messages and by summarizing long threads.
package compaction

import "errors"

// Compaction errors.
var (
	// ErrThresholdNotPowerOfTwo indicates the per-message threshold cannot be
	// halved down to one exactly.
	ErrThresholdNotPowerOfTwo = errors.New("compaction: per-message threshold must be a power of two")

	// ErrSummaryFailed indicates that summary generation failed.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrNoProvider indicates that no provider is configured for summarization.
	ErrNoProvider = errors.New("compaction: provider not configured")

	// ErrNoStore indicates that no message store is configured for summarization.
	ErrNoStore = errors.New("compaction: message store not configured")
)
