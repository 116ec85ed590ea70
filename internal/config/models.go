package config

import (
	"strings"

	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

// ModelConfig defines model-specific limits and pricing
type ModelConfig struct {
	ContextWindow   int     `json:"contextWindow" mapstructure:"contextWindow"`     // Maximum context window size
	MaxOutputTokens int     `json:"maxOutputTokens" mapstructure:"maxOutputTokens"` // Maximum output tokens
	CostPer1KInput  float64 `json:"costPer1KInput" mapstructure:"costPer1KInput"`   // Cost per 1K input tokens
	CostPer1KOutput float64 `json:"costPer1KOutput" mapstructure:"costPer1KOutput"` // Cost per 1K output tokens
	SupportsTools   bool    `json:"supportsTools" mapstructure:"supportsTools"`     // Whether model supports native tool calling
}

// Cost returns the pricing used for token info, or nil when the model is free
func (m ModelConfig) Cost() *llm.ModelCost {
	if m.CostPer1KInput == 0 && m.CostPer1KOutput == 0 {
		return nil
	}
	return &llm.ModelCost{
		InputCostPer1K:  m.CostPer1KInput,
		OutputCostPer1K: m.CostPer1KOutput,
	}
}

// GetModelConfig returns configuration for a specific model. Entries in the config file
// are keyed by lowercase model id.
func (c *Config) GetModelConfig(modelID string) ModelConfig {
	if config, exists := c.Models[strings.ToLower(modelID)]; exists {
		return config
	}
	return getDefaultModelConfig(modelID)
}

// modelDefaults is matched in order against the lowercase model id; more specific
// names come first
var modelDefaults = []struct {
	contains string
	config   ModelConfig
}{
	{"claude-opus-4", ModelConfig{200000, 32000, 0.015, 0.075, true}},
	{"claude-sonnet-4", ModelConfig{200000, 64000, 0.003, 0.015, true}},
	{"claude-3-7-sonnet", ModelConfig{200000, 64000, 0.003, 0.015, true}},
	{"claude-3-5-haiku", ModelConfig{200000, 8192, 0.0008, 0.004, true}},
	{"claude-3-5-sonnet", ModelConfig{200000, 8192, 0.003, 0.015, true}},
	{"claude-3-haiku", ModelConfig{200000, 4096, 0.00025, 0.00125, true}},
	{"claude", ModelConfig{200000, 4096, 0.003, 0.015, true}},
	{"gpt-4o-mini", ModelConfig{128000, 16384, 0.00015, 0.0006, true}},
	{"gpt-4o", ModelConfig{128000, 16384, 0.0025, 0.01, true}},
	{"gpt-4.1-mini", ModelConfig{1047576, 32768, 0.0004, 0.0016, true}},
	{"gpt-4.1", ModelConfig{1047576, 32768, 0.002, 0.008, true}},
	{"o4-mini", ModelConfig{200000, 100000, 0.0011, 0.0044, true}},
	{"o3", ModelConfig{200000, 100000, 0.002, 0.008, true}},
	{"gpt-4", ModelConfig{8192, 4096, 0.03, 0.06, true}},
	{"gpt-3.5", ModelConfig{16385, 4096, 0.0015, 0.002, true}},
	{"gemini-2.5-pro", ModelConfig{1048576, 65536, 0.00125, 0.01, true}},
	{"gemini-2.5-flash", ModelConfig{1048576, 65536, 0.0003, 0.0025, true}},
	{"gemini-1.5-pro", ModelConfig{2097152, 8192, 0.00125, 0.005, true}},
	{"gemini", ModelConfig{1048576, 8192, 0.0001, 0.0004, true}},
	{"deepseek", ModelConfig{64000, 8192, 0.00027, 0.0011, true}},
	{"llama", ModelConfig{8192, 2048, 0, 0, false}},
	{"qwen", ModelConfig{32768, 4096, 0, 0, false}},
}

// getDefaultModelConfig returns default configuration for common models
func getDefaultModelConfig(modelID string) ModelConfig {
	modelLower := strings.ToLower(modelID)
	for _, d := range modelDefaults {
		if strings.Contains(modelLower, d.contains) {
			return d.config
		}
	}
	// Generic default
	return ModelConfig{
		ContextWindow:   8192,
		MaxOutputTokens: 2048,
		CostPer1KInput:  0.001,
		CostPer1KOutput: 0.002,
	}
}
