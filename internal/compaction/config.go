package compaction

const (
	// DefaultThreshold is the per-message token threshold used when none is set.
	DefaultThreshold = 4096

	// DefaultMaxRetries is the number of halving retries after the first pass.
	DefaultMaxRetries = 5

	// DefaultSummarizeThreshold is the token count after the latest summary
	// that triggers a new one.
	DefaultSummarizeThreshold = 120000

	// summaryMaxTokens caps the output of the summarization call.
	summaryMaxTokens = 10000

	// minSummarizeMessages is the fewest messages worth summarizing.
	minSummarizeMessages = 3
)

// CompressOptions holds the per-invocation budget for Compress.
type CompressOptions struct {
	// MaxTokens is the ceiling for the whole sequence. Zero derives it from
	// the model family.
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`

	// Threshold is the per-message token threshold. Zero means DefaultThreshold.
	// It must be a power of two.
	Threshold int `json:"message_threshold" mapstructure:"message_threshold" yaml:"message_threshold"`

	// MaxRetries is how many times the pass is repeated with a halved
	// threshold. Zero performs exactly one pass.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
}

// DefaultCompressOptions returns CompressOptions with default values.
func DefaultCompressOptions() CompressOptions {
	return CompressOptions{
		Threshold:  DefaultThreshold,
		MaxRetries: DefaultMaxRetries,
	}
}

// SummarizerConfig holds configuration for thread summarization.
type SummarizerConfig struct {
	// Threshold is the token count since the last summary that triggers a new one.
	// Default: 120000
	Threshold int `json:"threshold" mapstructure:"summarize_threshold" yaml:"summarize_threshold"`

	// Model is the model asked to write the summary.
	Model string `json:"model" mapstructure:"summary_model" yaml:"summary_model"`
}

// DefaultSummarizerConfig returns a SummarizerConfig with default values.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{Threshold: DefaultSummarizeThreshold}
}
