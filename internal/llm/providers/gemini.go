package providers

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const ProviderGemini = "gemini"

// GeminiClient talks to the Gemini API through the Google GenAI SDK
type GeminiClient struct {
	options Options

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiClient creates a client; the SDK client is created on first use
func NewGeminiClient(options Options) *GeminiClient {
	return &GeminiClient{options: options}
}

func (c *GeminiClient) Provider() string { return ProviderGemini }

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		c.client, c.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.options.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if c.initErr != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", c.initErr)
	}
	return c.client, nil
}

func (c *GeminiClient) contents(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == contextmgmt.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokensOr(req.MaxTokens, c.options.MaxTokens)),
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	return contents, config
}

// Complete collects the streamed reply
func (c *GeminiClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return completeFromStream(ctx, c, req)
}

// Stream sends a streaming request; usage metadata arrives on the last chunk
func (c *GeminiClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, wrapError(ProviderGemini, 0, err)
	}

	model := modelOr(req.Model, c.options.Model)
	contents, config := c.contents(req)
	sub := llm.NewSubscription(ctx)

	go func() {
		defer sub.Close()

		var input, output, cached int
		for result, err := range client.Models.GenerateContentStream(sub.Context(), model, contents, config) {
			if err != nil {
				if !sub.Cancelled() {
					sub.Send(llm.StreamEvent{Err: wrapError(ProviderGemini, 0, err)})
				}
				return
			}

			if result.UsageMetadata != nil {
				input = int(result.UsageMetadata.PromptTokenCount)
				output = int(result.UsageMetadata.CandidatesTokenCount)
				cached = int(result.UsageMetadata.CachedContentTokenCount)
			}
			if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
				continue
			}
			for _, part := range result.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				if !sub.Send(llm.StreamEvent{ContentDelta: part.Text}) {
					return
				}
			}
		}

		sub.Send(llm.StreamEvent{Done: true, InputTokens: input, OutputTokens: output, CacheReadTokens: cached})
	}()

	return sub, nil
}
