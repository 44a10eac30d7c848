package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers the default value of every key. Environment
// overrides only apply to keys registered here.
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.agentpress/data.db")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.key_prefix", "agentpress:")

	viper.SetDefault("provider.name", "ollama")
	viper.SetDefault("provider.ollama.endpoint", "http://localhost:11434")
	viper.SetDefault("provider.ollama.model", "llama3.2")
	viper.SetDefault("provider.ollama.timeout", 5*time.Minute)
	viper.SetDefault("provider.ollama.keep_alive", "5m")
	// empty key falls back to GEMINI_API_KEY in the SDK
	viper.SetDefault("provider.gemini.api_key", "")
	viper.SetDefault("provider.gemini.model", "gemini-2.5-flash")

	viper.SetDefault("model.name", "")
	viper.SetDefault("model.temperature", 0.0)
	viper.SetDefault("model.max_output_tokens", 0)
	viper.SetDefault("model.stream", true)

	viper.SetDefault("context.max_tokens", 0)
	viper.SetDefault("context.message_threshold", 4096)
	viper.SetDefault("context.max_retries", 5)
	viper.SetDefault("context.summarize_threshold", 120000)
	viper.SetDefault("context.summary_model", "")
	viper.SetDefault("context.token_counter", "tiktoken")

	viper.SetDefault("runner.max_auto_continues", 25)
	viper.SetDefault("runner.max_tool_calls", 0)
	viper.SetDefault("runner.tool_choice", "auto")
	viper.SetDefault("runner.persist_responses", true)

	viper.SetDefault("prompt.agent_name", "Agentpress")
	viper.SetDefault("prompt.timezone", "UTC")
	viper.SetDefault("prompt.extra_prompt", "")
	viper.SetDefault("prompt.constraints", []string{})
	viper.SetDefault("prompt.disable_safety_prompt", false)

	viper.SetDefault("metrics.listen", "")
	viper.SetDefault("metrics.namespace", "agentpress")
}
