package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"agentpress/internal/compaction"
	"agentpress/internal/prompt"
	"agentpress/pkg/logger"
)

// EnvPrefix prefixes environment overrides: AGENTPRESS_MODEL_NAME sets model.name.
const EnvPrefix = "AGENTPRESS"

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrUnknownKey is returned by Set for keys without a default.
	ErrUnknownKey = errors.New("config: unknown key")
)

// Config is the root of the application configuration.
type Config struct {
	Log      logger.LogConfig    `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Provider ProviderConfig      `mapstructure:"provider" yaml:"provider"`
	Model    ModelConfig         `mapstructure:"model" yaml:"model"`
	Context  ContextConfig       `mapstructure:"context" yaml:"context"`
	Runner   RunnerConfig        `mapstructure:"runner" yaml:"runner"`
	Prompt   prompt.PromptConfig `mapstructure:"prompt" yaml:"prompt"`
	Metrics  MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// StorageConfig selects and configures the thread store.
type StorageConfig struct {
	Driver string      `mapstructure:"driver" yaml:"driver"` // sqlite, redis
	Path   string      `mapstructure:"path" yaml:"path"`
	Redis  RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ProviderConfig selects the model provider.
type ProviderConfig struct {
	Name   string       `mapstructure:"name" yaml:"name"` // ollama, gemini
	Ollama OllamaConfig `mapstructure:"ollama" yaml:"ollama"`
	Gemini GeminiConfig `mapstructure:"gemini" yaml:"gemini"`
}

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string        `mapstructure:"model" yaml:"model"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive string        `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// ModelConfig holds the per-invocation model settings.
type ModelConfig struct {
	Name            string  `mapstructure:"name" yaml:"name"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	Stream          bool    `mapstructure:"stream" yaml:"stream"`
}

// ContextConfig holds the compression and summarization budget.
type ContextConfig struct {
	MaxTokens          int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	MessageThreshold   int    `mapstructure:"message_threshold" yaml:"message_threshold"`
	MaxRetries         int    `mapstructure:"max_retries" yaml:"max_retries"`
	SummarizeThreshold int    `mapstructure:"summarize_threshold" yaml:"summarize_threshold"`
	SummaryModel       string `mapstructure:"summary_model" yaml:"summary_model"`
	TokenCounter       string `mapstructure:"token_counter" yaml:"token_counter"` // tiktoken, estimate
}

// CompressOptions converts the section into compaction options.
func (c ContextConfig) CompressOptions() compaction.CompressOptions {
	return compaction.CompressOptions{
		MaxTokens:  c.MaxTokens,
		Threshold:  c.MessageThreshold,
		MaxRetries: c.MaxRetries,
	}
}

// SummarizerConfig converts the section into summarizer settings.
func (c ContextConfig) SummarizerConfig() compaction.SummarizerConfig {
	return compaction.SummarizerConfig{
		Threshold: c.SummarizeThreshold,
		Model:     c.SummaryModel,
	}
}

// RunnerConfig holds the continuation settings.
type RunnerConfig struct {
	MaxAutoContinues int    `mapstructure:"max_auto_continues" yaml:"max_auto_continues"`
	MaxToolCalls     int    `mapstructure:"max_tool_calls" yaml:"max_tool_calls"`
	ToolChoice       string `mapstructure:"tool_choice" yaml:"tool_choice"`
	PersistResponses bool   `mapstructure:"persist_responses" yaml:"persist_responses"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen    string `mapstructure:"listen" yaml:"listen"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// ModelName returns the model used for invocations and budget lookup:
// model.name, or else the selected provider's model.
func (c *Config) ModelName() string {
	if c.Model.Name != "" {
		return c.Model.Name
	}
	switch c.Provider.Name {
	case "gemini":
		return c.Provider.Gemini.Model
	default:
		return c.Provider.Ollama.Model
	}
}

// Validate reports settings the runtime cannot work with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("%w: storage.driver %q (want sqlite or redis)", ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Storage.Driver == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("%w: storage.redis.addr is required", ErrInvalidConfig)
	}
	if t := c.Context.MessageThreshold; t <= 0 || t&(t-1) != 0 {
		return fmt.Errorf("%w: context.message_threshold %d is not a power of two", ErrInvalidConfig, t)
	}
	switch c.Context.TokenCounter {
	case "", "tiktoken", "estimate":
	default:
		return fmt.Errorf("%w: context.token_counter %q (want tiktoken or estimate)", ErrInvalidConfig, c.Context.TokenCounter)
	}
	if c.Context.MaxRetries < 0 {
		return fmt.Errorf("%w: context.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Runner.MaxAutoContinues < 0 {
		return fmt.Errorf("%w: runner.max_auto_continues must not be negative", ErrInvalidConfig)
	}
	if c.Runner.MaxToolCalls < 0 {
		return fmt.Errorf("%w: runner.max_tool_calls must not be negative", ErrInvalidConfig)
	}
	return nil
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads the configuration. Precedence: environment, then file, then
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", expandedPath, err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the configuration from the last Load.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get returns a raw value.
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns a string value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Set changes a registered key for this process. The previous value is
// kept when the resulting configuration does not validate. Save persists
// the change.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	key = strings.ToLower(key)
	if !slices.Contains(viper.AllKeys(), key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	prev := viper.Get(key)
	viper.Set(key, value)

	var cfg Config
	err := viper.Unmarshal(&cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		viper.Set(key, prev)
		return fmt.Errorf("set %s: %w", key, err)
	}

	globalConfig = &cfg
	return nil
}

// Keys returns every registered key in sorted order.
func Keys() []string {
	keys := viper.AllKeys()
	slices.Sort(keys)
	return keys
}

// Path returns the config file of the last Load, if any.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Save writes the current settings to the loaded config file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save requires mu held.
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// may contain API keys
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo writes cfg to path as YAML.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Reset clears loaded state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig replaces the global configuration. Used by tests.
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
