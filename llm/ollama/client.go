// Package ollama implements llm.Client over the Ollama HTTP API, for
// conversations against locally hosted models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/magpievoice/magpie/llm"
)

// OllamaClient implements llm.Client for an Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string // default when the request names none
}

// NewOllamaClient creates a client for the given host. An empty host
// falls back to the OLLAMA_HOST environment variable, then to the local
// default.
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
	}

	return &OllamaClient{client: client, model: model}, nil
}

// parseHost accepts bare host:port as well as full URLs.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client. Ollama delivers non-streamed chats
// through the same callback surface, invoked once with the full reply.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var last api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		return nil, wrapErr(err)
	}

	stopReason := last.DoneReason
	if stopReason == "" {
		stopReason = "stop"
	}
	return &llm.Response{
		Text:       last.Message.Content,
		StopReason: stopReason,
		Usage: llm.Usage{
			InputTokens:  int64(last.PromptEvalCount),
			OutputTokens: int64(last.EvalCount),
		},
	}, nil
}

// Stream implements llm.Client.
func (c *OllamaClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	return newReplyStream(ctx, c.client, chatReq), nil
}

func (c *OllamaClient) buildRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
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

	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, api.Message{Role: string(msg.Role), Content: msg.Text})
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  make(map[string]interface{}),
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	return chatReq, nil
}

// wrapErr classifies an SDK failure.
func wrapErr(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.WrapStatus(llm.ProviderOllama, statusErr.StatusCode, err)
	}
	return llm.WrapStatus(llm.ProviderOllama, 0, err)
}
