// Package openai adapts OpenAI-compatible chat completion APIs, including
// OpenRouter, to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/protocol-foundry/graph/model"
)

// OpenRouter defaults.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenRouterModel   = "qwen/qwen-2.5-7b-instruct"
	DefaultModel      = "gpt-4o-mini"
)

// ChatModel implements model.ChatModel for OpenAI-compatible APIs.
//
// Transient failures (429, 5xx, connection errors) are retried with
// exponential backoff. The SDK's own retries are disabled so the policy is
// the single source of retry behavior.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, messages, model.Params{Temperature: 0.2, MaxTokens: 900})
type ChatModel struct {
	modelName string
	client    openaiClient
	retry     model.RetryPolicy
}

// openaiClient is the single API call the adapter needs. Tests replace it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, modelName string, messages []model.Message, params model.Params) (model.ChatOut, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	baseURL string
	headers map[string]string
	retry   model.RetryPolicy
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(s *settings) {
		if value != "" {
			s.headers[key] = value
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p model.RetryPolicy) Option {
	return func(s *settings) { s.retry = p }
}

// NewChatModel creates a ChatModel. An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	s := settings{headers: map[string]string{}, retry: model.DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&s)
	}

	return &ChatModel{
		modelName: modelName,
		client:    newDefaultClient(apiKey, s),
		retry:     s.retry,
	}
}

// NewOpenRouterModel creates a ChatModel for OpenRouter. referer and title
// populate the HTTP-Referer and X-Title attribution headers.
func NewOpenRouterModel(apiKey, modelName, referer, title string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = OpenRouterModel
	}
	base := []Option{
		WithBaseURL(OpenRouterBaseURL),
		WithHeader("HTTP-Referer", referer),
		WithHeader("X-Title", title),
	}
	return NewChatModel(apiKey, modelName, append(base, opts...)...)
}

// Name returns the configured model name.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, params model.Params) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	return m.retry.Do(ctx, "OpenAI", func(ctx context.Context) (model.ChatOut, error) {
		return m.client.createChatCompletion(ctx, m.modelName, messages, params)
	})
}

type defaultClient struct {
	apiKey string
	client openai.Client
}

func newDefaultClient(apiKey string, s settings) *defaultClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	for k, v := range s.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	return &defaultClient{apiKey: apiKey, client: openai.NewClient(reqOpts...)}
}

func (c *defaultClient) createChatCompletion(ctx context.Context, modelName string, messages []model.Message, params model.Params) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("OpenAI API key is required")
	}

	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: convertMessages(messages),
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return model.ChatOut{}, errors.New("no response from OpenAI API")
	}
	return model.ChatOut{Text: resp.Choices[0].Message.Content}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{Provider: "OpenAI", StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("OpenAI request failed: %w", err)
}
