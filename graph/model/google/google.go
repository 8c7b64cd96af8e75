// Package google adapts Gemini models to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/protocol-foundry/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Gemini.
//
// System messages become the model's system instruction; the remaining
// turns are sent as chat history with the last one as the prompt.
type ChatModel struct {
	modelName string
	client    googleClient
	retry     model.RetryPolicy
}

type googleClient interface {
	generateContent(ctx context.Context, modelName, systemPrompt string, messages []model.Message, params model.Params) (model.ChatOut, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
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
		return model.ChatOut{}, errors.New("google: at least one non-system message is required")
	}

	return m.retry.Do(ctx, "Google", func(ctx context.Context) (model.ChatOut, error) {
		return m.client.generateContent(ctx, m.modelName, systemPrompt, conversation, params)
	})
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName, systemPrompt string, messages []model.Message, params model.Params) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(modelName)
	configure(gm, systemPrompt, params)

	session := gm.StartChat()
	history, last := splitHistory(messages)
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	if blocked := blockReason(resp); blocked != "" {
		return model.ChatOut{}, &SafetyFilterError{category: blocked}
	}
	return convertResponse(resp), nil
}

func configure(gm *genai.GenerativeModel, systemPrompt string, params model.Params) {
	if systemPrompt != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if params.Temperature > 0 {
		gm.SetTemperature(float32(params.Temperature))
	}
	if params.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(params.MaxTokens))
	}
}

// splitHistory turns all but the last message into Gemini chat history.
func splitHistory(messages []model.Message) ([]*genai.Content, string) {
	if len(messages) == 0 {
		return nil, ""
	}
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, msg := range messages[:len(messages)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return history, messages[len(messages)-1].Content
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(string(t))
		}
	}
	return model.ChatOut{Text: text.String()}
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return resp.PromptFeedback.BlockReason.String()
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "safety"
	}
	return ""
}

func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{Provider: "Google", StatusCode: apiErr.Code, Err: err}
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		category := "safety"
		if blocked.PromptFeedback != nil {
			category = blocked.PromptFeedback.BlockReason.String()
		}
		return &SafetyFilterError{category: category}
	}
	return fmt.Errorf("google API error: %w", err)
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
type SafetyFilterError struct {
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the block reason reported by the API.
func (e *SafetyFilterError) Category() string {
	return e.category
}
