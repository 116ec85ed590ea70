package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const defaultMaxTokens = 4096

// Options configures a provider client
type Options struct {
	Provider  string `json:"provider" mapstructure:"provider"`
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"-" mapstructure:"api_key"`
	BaseURL   string `json:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens int    `json:"max_tokens,omitempty" mapstructure:"max_tokens"`

	AWSRegion       string `json:"aws_region,omitempty" mapstructure:"aws_region"`
	AWSAccessKey    string `json:"-" mapstructure:"aws_access_key"`
	AWSSecretKey    string `json:"-" mapstructure:"aws_secret_key"`
	AWSSessionToken string `json:"-" mapstructure:"aws_session_token"`
}

// OpenAI compatible providers reached through the OpenAI client with a different base URL
var compatibleBaseURLs = map[string]string{
	"ollama":   "http://localhost:11434/v1",
	"lmstudio": "http://localhost:1234/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"xai":      "https://api.x.ai/v1",
	"together": "https://api.together.xyz/v1",
	"mistral":  "https://api.mistral.ai/v1",
}

// local providers run without a key
var keylessProviders = map[string]bool{
	"ollama":        true,
	"lmstudio":      true,
	ProviderBedrock: true,
}

// NewClient creates the client for options.Provider, inferring the provider from the
// model id when it is empty
func NewClient(options Options) (llm.Client, error) {
	if options.Provider == "" {
		options.Provider, options.Model = DetermineProvider(options.Model)
	}
	options.Provider = strings.ToLower(options.Provider)

	if options.APIKey == "" && !keylessProviders[options.Provider] {
		return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, options.Provider)
	}

	switch options.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(options), nil
	case ProviderOpenAI:
		return NewOpenAIClient(options), nil
	case ProviderGemini:
		return NewGeminiClient(options), nil
	case ProviderBedrock:
		return NewBedrockClient(options), nil
	case ProviderOpenRouter:
		return NewOpenRouterClient(options), nil
	}

	if baseURL, ok := compatibleBaseURLs[options.Provider]; ok {
		if options.BaseURL == "" {
			options.BaseURL = baseURL
		}
		if options.APIKey == "" {
			options.APIKey = options.Provider
		}
		return NewOpenAIClient(options), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, options.Provider)
}

// DetermineProvider splits "provider/model" ids and otherwise guesses the provider
// from well known model name prefixes
func DetermineProvider(modelID string) (provider, model string) {
	if p, m, ok := strings.Cut(modelID, "/"); ok {
		if _, known := compatibleBaseURLs[p]; known || isNativeProvider(p) {
			return p, m
		}
		// vendor/model ids such as "meta-llama/llama-3" are OpenRouter's format
		return ProviderOpenRouter, modelID
	}

	lower := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(lower, "anthropic."):
		return ProviderBedrock, modelID
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, modelID
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, modelID
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini, modelID
	default:
		return ProviderOpenAI, modelID
	}
}

// RequiresAPIKey reports whether NewClient refuses the provider without a key
func RequiresAPIKey(provider string) bool {
	return !keylessProviders[strings.ToLower(provider)]
}

func isNativeProvider(p string) bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderBedrock, ProviderOpenRouter:
		return true
	}
	return false
}

// completeFromStream serves Complete for providers whose SDK is used in streaming mode only
func completeFromStream(ctx context.Context, client llm.Client, req llm.Request) (*llm.Response, error) {
	sub, err := client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := llm.CollectStream(ctx, sub, nil)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

func modelOr(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

func maxTokensOr(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return defaultMaxTokens
}
