package gemini

import (
	"context"

	"github.com/spf13/viper"

	"agentpress/internal/provider"
)

// Register makes the Gemini provider available to provider.Open, configured
// from the provider.gemini section.
func Register() {
	provider.Register(providerName, func(ctx context.Context) (provider.Provider, error) {
		return New(ctx, viper.GetString("provider.gemini.api_key"), viper.GetString("provider.gemini.model"))
	})
}
