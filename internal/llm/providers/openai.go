package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const ProviderOpenAI = "openai"

// OpenAIClient talks to the OpenAI chat completions API, or any compatible endpoint
// when a base URL is configured
type OpenAIClient struct {
	options Options
	client  openai.Client
}

// NewOpenAIClient creates a client using the official SDK
func NewOpenAIClient(options Options) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(options.BaseURL))
	}
	return &OpenAIClient{
		options: options,
		client:  openai.NewClient(opts...),
	}
}

func (c *OpenAIClient) Provider() string {
	if c.options.Provider != "" {
		return c.options.Provider
	}
	return ProviderOpenAI
}

func (c *OpenAIClient) params(req llm.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		if msg.Role == contextmgmt.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		} else {
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               openai.ChatModel(modelOr(req.Model, c.options.Model)),
		MaxCompletionTokens: openai.Int(int64(maxTokensOr(req.MaxTokens, c.options.MaxTokens))),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	for _, spec := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  shared.FunctionParameters(spec.Parameters),
			},
		})
	}
	return params
}

// Complete sends a single non-streaming request; native tool calls are returned as is
func (c *OpenAIClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, wrapError(c.Provider(), openaiStatus(err), err)
	}
	return openaiResponse(completion), nil
}

// Stream sends a streaming request and accumulates tool calls and usage for the final event
func (c *OpenAIClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	sub := llm.NewSubscription(ctx)
	stream := c.client.Chat.Completions.NewStreaming(sub.Context(), params)

	go func() {
		defer sub.Close()
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !sub.Send(llm.StreamEvent{ContentDelta: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			if !sub.Cancelled() {
				sub.Send(llm.StreamEvent{Err: wrapError(c.Provider(), openaiStatus(err), err)})
			}
			return
		}

		final := openaiResponse(&acc.ChatCompletion)
		sub.Send(llm.StreamEvent{
			Done:            true,
			ToolCalls:       final.ToolCalls,
			InputTokens:     final.InputTokens,
			OutputTokens:    final.OutputTokens,
			CacheReadTokens: final.CacheReadTokens,
		})
	}()

	return sub, nil
}

func openaiResponse(completion *openai.ChatCompletion) *llm.Response {
	resp := &llm.Response{
		Model:           completion.Model,
		InputTokens:     int(completion.Usage.PromptTokens),
		OutputTokens:    int(completion.Usage.CompletionTokens),
		CacheReadTokens: int(completion.Usage.PromptTokensDetails.CachedTokens),
	}
	if len(completion.Choices) > 0 {
		message := completion.Choices[0].Message
		resp.Content = message.Content
		for _, call := range message.ToolCalls {
			args := map[string]any{}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				log.Debug("openai tool arguments are not an object", "tool", call.Function.Name, "err", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.NativeToolCall{ID: call.ID, Name: call.Function.Name, Args: args})
		}
	}
	resp.TokensUsed = resp.InputTokens + resp.OutputTokens
	return resp
}

func openaiStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
