// Package llm provides the generative backend used to answer free-form
// application questions. Gemini is called directly; OpenAI and Ollama go
// through langchaingo.
package llm

// ModelTier represents the capability level of a model
type ModelTier string

const (
	// TierLite is for short factual answers
	TierLite ModelTier = "lite"
	// TierStandard is for answers that need some reasoning about the profile
	TierStandard ModelTier = "standard"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Config holds the model configuration for the answer backend
type Config struct {
	Provider        Provider
	Models          map[ModelTier]string
	Temperature     float64
	MaxOutputTokens int
	// BaseURL is the server address for self-hosted providers such as Ollama.
	BaseURL string
	// SystemInstruction is sent ahead of every prompt when set.
	SystemInstruction string
}

// DefaultConfig returns the default configuration (Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
		},
		Temperature:     0.1,
		MaxOutputTokens: 256,
	}
}

// DefaultOpenAIConfig returns the default OpenAI configuration
func DefaultOpenAIConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Models: map[ModelTier]string{
			TierLite:     "gpt-4o-mini",
			TierStandard: "gpt-4o",
		},
		Temperature:     0.1,
		MaxOutputTokens: 256,
	}
}

// DefaultOllamaConfig returns the default Ollama configuration
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider: ProviderOllama,
		Models: map[ModelTier]string{
			TierLite:     "llama3.2",
			TierStandard: "llama3.1",
		},
		Temperature:     0.1,
		MaxOutputTokens: 256,
		BaseURL:         "http://localhost:11434",
	}
}

// ConfigFor returns the default configuration for a provider, falling back to Gemini.
func ConfigFor(provider Provider) *Config {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIConfig()
	case ProviderOllama:
		return DefaultOllamaConfig()
	default:
		return DefaultGeminiConfig()
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a copy of the config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := *c
	newConfig.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return &newConfig
}
