// Package model provides LLM integration adapters.
//
// Every provider (OpenRouter and OpenAI through the openai subpackage,
// Anthropic, Google) implements ChatModel. Agents depend only on this
// interface, so the offline StaticModel and MockChatModel can stand in for
// a real provider.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// Implementations convert Message slices to the provider format, apply the
// sampling Params, and return the generated text. They must respect ctx
// cancellation. Transient provider failures are retried with a RetryPolicy
// before an error is returned.
//
// Example usage:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a Senior CBT Therapist."},
//	    {Role: model.RoleUser, Content: "Draft an exercise for sleep anxiety."},
//	}, model.Params{Temperature: 0.7, MaxTokens: 2048})
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response text.
	Chat(ctx context.Context, messages []Message, params Params) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem sets context or instructions. It normally comes first.
	RoleSystem = "system"

	// RoleUser carries the request.
	RoleUser = "user"

	// RoleAssistant carries earlier model output, e.g. few-shot examples.
	RoleAssistant = "assistant"
)

// Params controls sampling for one call. Zero values leave the provider
// default in place.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the generated response.
	Text string
}

// SplitSystem separates system messages from the rest of the conversation.
// Providers with a dedicated system field (Anthropic, Gemini) use it; the
// system texts are joined with blank lines.
func SplitSystem(messages []Message) (system string, rest []Message) {
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
