package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/charmbracelet/log"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const (
	ProviderBedrock = "bedrock"

	bedrockAnthropicVersion = "bedrock-2023-05-31"
	defaultBedrockRegion    = "us-east-1"
)

// BedrockClient runs Anthropic models hosted on AWS Bedrock
type BedrockClient struct {
	options Options

	once    sync.Once
	client  *bedrockruntime.Client
	initErr error
}

// NewBedrockClient creates a client; AWS configuration is loaded on first use
func NewBedrockClient(options Options) *BedrockClient {
	if options.AWSRegion == "" {
		options.AWSRegion = defaultBedrockRegion
	}
	return &BedrockClient{options: options}
}

func (c *BedrockClient) Provider() string { return ProviderBedrock }

func (c *BedrockClient) sdk(ctx context.Context) (*bedrockruntime.Client, error) {
	c.once.Do(func() {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(c.options.AWSRegion))
		if err != nil {
			c.initErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}

		if c.options.AWSAccessKey != "" && c.options.AWSSecretKey != "" {
			cfg.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     c.options.AWSAccessKey,
					SecretAccessKey: c.options.AWSSecretKey,
					SessionToken:    c.options.AWSSessionToken,
				}, nil
			}))
		}

		c.client = bedrockruntime.NewFromConfig(cfg)
	})
	return c.client, c.initErr
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

// bedrockChunk covers the stream events of the Anthropic messages format
type bedrockChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage bedrockUsage `json:"usage"`
	} `json:"message"`
	Usage bedrockUsage `json:"usage"`
}

type bedrockUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (c *BedrockClient) body(req llm.Request) ([]byte, error) {
	messages := make([]bedrockMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := contextmgmt.RoleUser
		if msg.Role == contextmgmt.RoleAssistant {
			role = contextmgmt.RoleAssistant
		}
		messages = append(messages, bedrockMessage{Role: role, Content: msg.Content})
	}

	return json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokensOr(req.MaxTokens, c.options.MaxTokens),
		Messages:         messages,
		System:           req.SystemPrompt,
		Temperature:      req.Temperature,
	})
}

// Complete collects the streamed reply
func (c *BedrockClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return completeFromStream(ctx, c, req)
}

// Stream invokes the model with a response stream
func (c *BedrockClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, wrapError(ProviderBedrock, 0, err)
	}

	body, err := c.body(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bedrock request: %w", err)
	}

	sub := llm.NewSubscription(ctx)
	output, err := client.InvokeModelWithResponseStream(sub.Context(), &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelOr(req.Model, c.options.Model)),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		sub.Cancel()
		return nil, wrapError(ProviderBedrock, 0, err)
	}

	go func() {
		defer sub.Close()
		stream := output.GetStream()
		defer stream.Close()

		var usage bedrockUsage
		for event := range stream.Events() {
			e, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				log.Debug("bedrock stream event ignored", "type", fmt.Sprintf("%T", event))
				continue
			}

			var chunk bedrockChunk
			if err := json.Unmarshal(e.Value.Bytes, &chunk); err != nil {
				log.Debug("bedrock chunk is not valid JSON", "err", err)
				continue
			}

			switch chunk.Type {
			case "message_start":
				usage = chunk.Message.Usage
			case "message_delta":
				usage.OutputTokens = chunk.Usage.OutputTokens
			case "content_block_delta":
				if chunk.Delta.Text != "" && !sub.Send(llm.StreamEvent{ContentDelta: chunk.Delta.Text}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			if !sub.Cancelled() {
				sub.Send(llm.StreamEvent{Err: wrapError(ProviderBedrock, 0, err)})
			}
			return
		}

		sub.Send(llm.StreamEvent{
			Done:                true,
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheCreationTokens: usage.CacheCreationInputTokens,
			CacheReadTokens:     usage.CacheReadInputTokens,
		})
	}()

	return sub, nil
}
