package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const ProviderAnthropic = "anthropic"

// AnthropicClient talks to the Anthropic Messages API
type AnthropicClient struct {
	options Options
	client  anthropic.Client
}

// NewAnthropicClient creates a client using the official SDK
func NewAnthropicClient(options Options) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(options.BaseURL))
	}
	return &AnthropicClient{
		options: options,
		client:  anthropic.NewClient(opts...),
	}
}

func (c *AnthropicClient) Provider() string { return ProviderAnthropic }

func (c *AnthropicClient) params(req llm.Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == contextmgmt.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokensOr(req.MaxTokens, c.options.MaxTokens)),
		Messages:  messages,
		Model:     anthropic.Model(modelOr(req.Model, c.options.Model)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// Complete sends a single non-streaming request
func (c *AnthropicClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	msg, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, wrapError(ProviderAnthropic, anthropicStatus(err), err)
	}
	return anthropicResponse(msg), nil
}

// Stream sends a streaming request; usage arrives with the final event
func (c *AnthropicClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	sub := llm.NewSubscription(ctx)
	stream := c.client.Messages.NewStreaming(sub.Context(), c.params(req))

	go func() {
		defer sub.Close()
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				log.Debug("anthropic accumulate failed", "err", err)
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !sub.Send(llm.StreamEvent{ContentDelta: delta.Text}) {
						return
					}
				}
			case anthropic.MessageStopEvent:
				final := anthropicResponse(&message)
				sub.Send(llm.StreamEvent{
					Done:                true,
					ToolCalls:           final.ToolCalls,
					InputTokens:         final.InputTokens,
					OutputTokens:        final.OutputTokens,
					CacheCreationTokens: final.CacheCreationTokens,
					CacheReadTokens:     final.CacheReadTokens,
				})
				return
			}
		}

		if err := stream.Err(); err != nil && !sub.Cancelled() {
			sub.Send(llm.StreamEvent{Err: wrapError(ProviderAnthropic, anthropicStatus(err), err)})
		}
	}()

	return sub, nil
}

func anthropicResponse(msg *anthropic.Message) *llm.Response {
	resp := &llm.Response{
		Model:               string(msg.Model),
		InputTokens:         int(msg.Usage.InputTokens),
		OutputTokens:        int(msg.Usage.OutputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(msg.Usage.CacheReadInputTokens),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if err := json.Unmarshal(b.Input, &args); err != nil {
				log.Debug("anthropic tool input is not an object", "tool", b.Name, "err", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.NativeToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	resp.TokensUsed = resp.InputTokens + resp.OutputTokens
	return resp
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
