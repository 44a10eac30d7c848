package ollama

import (
	"context"

	"github.com/spf13/viper"

	"agentpress/internal/provider"
	"agentpress/pkg/logger"
)

// Register makes the Ollama provider available to provider.Open, configured
// from the provider.ollama section.
func Register() {
	provider.Register(providerName, func(ctx context.Context) (provider.Provider, error) {
		cfg := Config{
			Endpoint:  viper.GetString("provider.ollama.endpoint"),
			Model:     viper.GetString("provider.ollama.model"),
			Timeout:   viper.GetDuration("provider.ollama.timeout"),
			KeepAlive: viper.GetString("provider.ollama.keep_alive"),
		}.withDefaults()

		logger.Debug().Str("endpoint", cfg.Endpoint).Str("model", cfg.Model).Msg("ollama provider configured")
		return NewOllamaProvider(cfg), nil
	})
}
