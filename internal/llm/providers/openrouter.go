package providers

import (
	"context"
	"errors"
	"io"

	openrouter "github.com/revrost/go-openrouter"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const ProviderOpenRouter = "openrouter"

// OpenRouterClient routes requests through OpenRouter
type OpenRouterClient struct {
	options Options
	client  *openrouter.Client
}

// NewOpenRouterClient creates a client using the OpenRouter SDK
func NewOpenRouterClient(options Options) *OpenRouterClient {
	return &OpenRouterClient{
		options: options,
		client:  openrouter.NewClient(options.APIKey),
	}
}

func (c *OpenRouterClient) Provider() string { return ProviderOpenRouter }

func (c *OpenRouterClient) request(req llm.Request) openrouter.ChatCompletionRequest {
	messages := make([]openrouter.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleSystem,
			Content: openrouter.Content{Text: req.SystemPrompt},
		})
	}
	for _, msg := range req.Messages {
		role := openrouter.ChatMessageRoleUser
		if msg.Role == contextmgmt.RoleAssistant {
			role = openrouter.ChatMessageRoleAssistant
		}
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    role,
			Content: openrouter.Content{Text: msg.Content},
		})
	}

	return openrouter.ChatCompletionRequest{
		Model:     modelOr(req.Model, c.options.Model),
		Messages:  messages,
		MaxTokens: maxTokensOr(req.MaxTokens, c.options.MaxTokens),
		Stream:    true,
	}
}

// Complete collects the streamed reply
func (c *OpenRouterClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return completeFromStream(ctx, c, req)
}

// Stream sends a streaming request. OpenRouter does not report usage on the stream,
// so token counts are estimated from the text.
func (c *OpenRouterClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	sub := llm.NewSubscription(ctx)
	stream, err := c.client.CreateChatCompletionStream(sub.Context(), c.request(req))
	if err != nil {
		sub.Cancel()
		return nil, wrapError(ProviderOpenRouter, 0, err)
	}

	input := contextmgmt.EstimateTokens(req.SystemPrompt)
	for _, msg := range req.Messages {
		input += contextmgmt.EstimateTokens(msg.Content)
	}

	go func() {
		defer sub.Close()
		defer stream.Close()

		output := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if !sub.Cancelled() {
					sub.Send(llm.StreamEvent{Err: wrapError(ProviderOpenRouter, 0, err)})
				}
				return
			}

			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			content := response.Choices[0].Delta.Content
			output += contextmgmt.EstimateTokens(content)
			if !sub.Send(llm.StreamEvent{ContentDelta: content}) {
				return
			}
		}

		sub.Send(llm.StreamEvent{Done: true, InputTokens: input, OutputTokens: output})
	}()

	return sub, nil
}
