package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient implements Client on top of langchaingo models, one per tier.
type LangChainClient struct {
	config *Config
	models map[string]llms.Model
}

// NewLangChainClient creates a client for the OpenAI or Ollama provider.
func NewLangChainClient(config *Config, apiKey string) (*LangChainClient, error) {
	c := &LangChainClient{config: config, models: make(map[string]llms.Model)}

	for _, name := range config.Models {
		if _, ok := c.models[name]; ok {
			continue
		}
		model, err := newLangChainModel(config, name, apiKey)
		if err != nil {
			return nil, err
		}
		c.models[name] = model
	}
	return c, nil
}

// NewLangChainClientWithModels wraps already constructed models keyed by model name.
func NewLangChainClientWithModels(config *Config, models map[string]llms.Model) *LangChainClient {
	return &LangChainClient{config: config, models: models}
}

func newLangChainModel(config *Config, name, apiKey string) (llms.Model, error) {
	switch config.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(name)}
		if config.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(config.BaseURL))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama model: %w", err)
		}
		return model, nil

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("API key is required")
		}
		opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(name)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", config.Provider)
	}
}

// GenerateContent sends the system instruction, when set, and the prompt to
// the tier's model.
func (c *LangChainClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	name := c.config.GetModel(tier)
	model, ok := c.models[name]
	if name == "" || !ok {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	opts := []llms.CallOption{llms.WithTemperature(c.config.Temperature)}
	if c.config.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.config.MaxOutputTokens))
	}

	messages := make([]llms.MessageContent, 0, 2)
	if c.config.SystemInstruction != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.config.SystemInstruction))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content with %s: %w", name, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Close is a no-op; langchaingo models hold no long-lived resources.
func (c *LangChainClient) Close() error {
	return nil
}
