package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Each call returns the next entry of Responses; once they are used up the
// last one repeats. Err, when set, is returned instead. Every call is
// recorded in Calls.
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: "draft v1"}, {Text: "draft v2"}},
//	}
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	// Respond, when set, computes the response from the call and takes
	// precedence over Responses and Err.
	Respond func(messages []Message, params Params) (ChatOut, error)

	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
	Params   Params
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, params Params) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Params: params})

	if m.Respond != nil {
		return m.Respond(messages, params)
	}
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds Responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent call, or false if there was none.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// StaticModel answers every call with the same text. It backs offline mode
// when no provider credentials are configured.
type StaticModel struct {
	Text string
}

// Chat implements ChatModel.
func (s StaticModel) Chat(ctx context.Context, _ []Message, _ Params) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}
	return ChatOut{Text: s.Text}, nil
}
