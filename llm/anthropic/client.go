// Package anthropic implements llm.Client over the Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/llm"
)

// AnthropicClient implements llm.Client for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewAnthropicClient creates a client with the given API key.
func NewAnthropicClient(apiKey string, logger zerolog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{
		client: &client,
		logger: logger.With().Str("provider", llm.ProviderAnthropic).Logger(),
	}, nil
}

// Synchronous implements llm.Client.
func (c *AnthropicClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	message, err := c.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, wrapErr(err)
	}

	var text strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}

	if message.Usage.CacheReadInputTokens > 0 {
		c.logger.Debug().
			Int64("input_tokens", message.Usage.InputTokens).
			Int64("cache_read_tokens", message.Usage.CacheReadInputTokens).
			Msg("Prompt cache hit")
	}

	return &llm.Response{
		Text:       text.String(),
		StopReason: string(message.StopReason),
		Usage: llm.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

// Stream implements llm.Client.
func (c *AnthropicClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	return &replyStream{stream: c.client.Messages.NewStreaming(ctx, buildParams(req))}, nil
}

// buildParams translates the provider-neutral request. The system
// prompt is marked for provider-side prompt caching; it stays identical
// between memory refreshes.
func buildParams(req *llm.Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Text)
		if msg.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// wrapErr classifies an SDK failure.
func wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(llm.ProviderAnthropic, apiErr.StatusCode, err)
	}
	return llm.WrapStatus(llm.ProviderAnthropic, 0, err)
}
