// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/protocol-foundry/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-3-5-haiku-latest"

// defaultMaxTokens applies when Params.MaxTokens is zero; the API requires
// a value.
const defaultMaxTokens = 1024

// ChatModel implements model.ChatModel for Claude.
//
// System messages are lifted into the request's system field. Transient
// failures are retried with the configured model.RetryPolicy.
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
type ChatModel struct {
	modelName string
	client    anthropicClient
	retry     model.RetryPolicy
}

type anthropicClient interface {
	createMessage(ctx context.Context, modelName, systemPrompt string, messages []model.Message, params model.Params) (model.ChatOut, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    newDefaultClient(apiKey),
		retry:     model.DefaultRetryPolicy(),
	}
}

// WithRetryPolicy replaces the retry policy and returns m.
func (m *ChatModel) WithRetryPolicy(p model.RetryPolicy) *ChatModel {
	m.retry = p
	return m
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

	systemPrompt, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic: at least one non-system message is required")
	}

	return m.retry.Do(ctx, "Anthropic", func(ctx context.Context) (model.ChatOut, error) {
		return m.client.createMessage(ctx, m.modelName, systemPrompt, conversation, params)
	})
}

type defaultClient struct {
	apiKey string
	client anthropic.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	return &defaultClient{
		apiKey: apiKey,
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
	}
}

func (c *defaultClient) createMessage(ctx context.Context, modelName, systemPrompt string, messages []model.Message, params model.Params) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("anthropic API key is required")
	}

	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  convertMessages(messages),
	}
	if systemPrompt != "" {
		req.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, req)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return model.ChatOut{}, &model.ProviderError{Provider: "Anthropic", StatusCode: apiErr.StatusCode, Err: err}
		}
		return model.ChatOut{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return model.ChatOut{Text: text.String()}, nil
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
