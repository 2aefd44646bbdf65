// Package openai calls a chat-completion language model for the weekly
// report narrative.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ChatAPI is the subset of the go-openai client used by this package.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps a chat-completion API with a fixed model and token budget.
type Client struct {
	api       ChatAPI
	model     string
	maxTokens int
}

// New creates a Client. baseURL overrides the API endpoint when non-empty
// (Azure OpenAI or a compatible gateway).
func New(apiKey, model, baseURL string, maxTokens int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewFromAPI(openai.NewClientWithConfig(cfg), model, maxTokens)
}

// NewFromAPI creates a Client from an explicit API implementation (for testing).
func NewFromAPI(api ChatAPI, model string, maxTokens int) *Client {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{api: api, model: model, maxTokens: maxTokens}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends one system+user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens and a fixed temperature.
	if isReasoningModel(c.model) {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.MaxTokens = c.maxTokens
		req.Temperature = 0.2
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewSourceError("openai: complete", 0, "EmptyResponse", errors.New("no choices returned"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.NewSourceError("openai: complete", 0, "EmptyResponse", errors.New("empty message content"))
	}
	return text, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return domain.NewSourceError("openai: complete", apiErr.HTTPStatusCode, code, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewSourceError("openai: complete", reqErr.HTTPStatusCode, "", err)
	}
	return fmt.Errorf("openai: complete: %w", err)
}
