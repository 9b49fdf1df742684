// Package openai implements llm.Client over go-openai. A custom base
// URL points it at any OpenAI-compatible server.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/magpievoice/magpie/llm"
)

// OpenAIClient implements llm.Client for the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string // default when the request names none
}

// NewOpenAIClient creates a client. Empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model, organization string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &OpenAIClient{client: openai.NewClientWithConfig(config), model: model}, nil
}

// Synchronous implements llm.Client.
func (c *OpenAIClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, *chatReq)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	return &llm.Response{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream implements llm.Client.
func (c *OpenAIClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, *chatReq)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &replyStream{stream: stream}, nil
}

func (c *OpenAIClient) buildRequest(req *llm.Request, stream bool) (*openai.ChatCompletionRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}

	chatReq := &openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		// Ask for the usage frame after the last delta.
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	return chatReq, nil
}

// wrapErr classifies an SDK failure.
func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(llm.ProviderOpenAI, apiErr.HTTPStatusCode, err)
	}
	return llm.WrapStatus(llm.ProviderOpenAI, 0, err)
}
