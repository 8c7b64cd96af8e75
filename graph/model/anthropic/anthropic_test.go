package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/protocol-foundry/graph/model"
)

type mockAnthropicClient struct {
	response     string
	err          error
	calls        int
	lastSystem   string
	lastMessages []model.Message
}

func (m *mockAnthropicClient) createMessage(_ context.Context, _, systemPrompt string, messages []model.Message, _ model.Params) (model.ChatOut, error) {
	m.calls++
	m.lastSystem = systemPrompt
	m.lastMessages = messages
	if m.err != nil {
		return model.ChatOut{}, m.err
	}
	return model.ChatOut{Text: m.response}, nil
}

func TestChatModel_SystemPromptExtraction(t *testing.T) {
	client := &mockAnthropicClient{response: "ok"}
	m := &ChatModel{modelName: DefaultModel, client: client, retry: model.RetryPolicy{MaxAttempts: 1}}

	_, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "You are a reviewer."},
		{Role: model.RoleUser, Content: "Review this."},
	}, model.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.lastSystem != "You are a reviewer." {
		t.Errorf("system = %q", client.lastSystem)
	}
	if len(client.lastMessages) != 1 || client.lastMessages[0].Role != model.RoleUser {
		t.Errorf("messages = %+v", client.lastMessages)
	}
}

func TestChatModel_RequiresConversation(t *testing.T) {
	client := &mockAnthropicClient{}
	m := &ChatModel{client: client, retry: model.RetryPolicy{MaxAttempts: 1}}

	if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only"}}, model.Params{}); err == nil {
		t.Error("expected error for system-only conversation")
	}
	if client.calls != 0 {
		t.Errorf("calls = %d, want 0", client.calls)
	}
}

func TestChatModel_RetriesTransient(t *testing.T) {
	busy := &model.ProviderError{Provider: "Anthropic", StatusCode: 529, Err: errors.New("overloaded")}
	client := &mockAnthropicClient{err: busy}
	m := &ChatModel{client: client, retry: model.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, model.Params{})
	if !errors.Is(err, busy) {
		t.Errorf("got %v", err)
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]model.Message{
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleAssistant, Content: "a"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser || out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("roles = %s, %s", out[0].Role, out[1].Role)
	}
}

func TestDefaultClient_AgainstServer(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-haiku-latest",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]interface{}{{"type": "text", "text": "reviewed"}},
			"usage":         map[string]interface{}{"input_tokens": 3, "output_tokens": 1},
		})
	}))
	defer server.Close()

	client := &defaultClient{
		apiKey: "key",
		client: anthropic.NewClient(option.WithAPIKey("key"), option.WithBaseURL(server.URL+"/"), option.WithMaxRetries(0)),
	}
	m := &ChatModel{modelName: DefaultModel, client: client, retry: model.RetryPolicy{MaxAttempts: 1}}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "be strict"},
		{Role: model.RoleUser, Content: "review"},
	}, model.Params{Temperature: 0.2, MaxTokens: 900})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "reviewed" {
		t.Errorf("text = %q", out.Text)
	}

	if captured["max_tokens"] != float64(900) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	if _, ok := captured["system"]; !ok {
		t.Error("system prompt not sent")
	}
}

func TestDefaultClient_RequiresKey(t *testing.T) {
	m := NewChatModel("", "").WithRetryPolicy(model.RetryPolicy{MaxAttempts: 1})
	if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, model.Params{}); err == nil {
		t.Error("expected error without API key")
	}
}
