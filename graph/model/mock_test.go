package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMockChatModel_Responses(t *testing.T) {
	ctx := context.Background()
	messages := []Message{{Role: RoleUser, Content: "Hi"}}

	t.Run("returns responses in order then repeats the last", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}

		for i, want := range []string{"first", "second", "second"} {
			out, err := mock.Chat(ctx, messages, Params{})
			if err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
			if out.Text != want {
				t.Errorf("call %d: got %q, want %q", i, out.Text, want)
			}
		}
	})

	t.Run("returns empty response when none configured", func(t *testing.T) {
		out, err := (&MockChatModel{}).Chat(ctx, messages, Params{})
		if err != nil || out.Text != "" {
			t.Errorf("got (%q, %v), want empty", out.Text, err)
		}
	})

	t.Run("returns injected error", func(t *testing.T) {
		boom := errors.New("api down")
		_, err := (&MockChatModel{Err: boom}).Chat(ctx, messages, Params{})
		if !errors.Is(err, boom) {
			t.Errorf("got %v, want %v", err, boom)
		}
	})

	t.Run("respond func wins", func(t *testing.T) {
		mock := &MockChatModel{
			Err: errors.New("ignored"),
			Respond: func(msgs []Message, p Params) (ChatOut, error) {
				return ChatOut{Text: fmt.Sprintf("%s@%.1f", msgs[0].Content, p.Temperature)}, nil
			},
		}
		out, err := mock.Chat(ctx, messages, Params{Temperature: 0.2})
		if err != nil || out.Text != "Hi@0.2" {
			t.Errorf("got (%q, %v)", out.Text, err)
		}
	})

	t.Run("honors cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		mock := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
		if _, err := mock.Chat(cctx, messages, Params{}); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
		if mock.CallCount() != 0 {
			t.Error("cancelled call should not be recorded")
		}
	})
}

func TestMockChatModel_CallHistory(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	params := Params{Temperature: 0.7, MaxTokens: 2048}

	_, _ = mock.Chat(context.Background(), []Message{{Role: RoleSystem, Content: "sys"}}, params)

	call, ok := mock.LastCall()
	if !ok {
		t.Fatal("expected a recorded call")
	}
	if call.Params != params {
		t.Errorf("params = %+v, want %+v", call.Params, params)
	}
	if call.Messages[0].Content != "sys" {
		t.Errorf("messages = %+v", call.Messages)
	}

	mock.Reset()
	if mock.CallCount() != 0 {
		t.Errorf("call count after reset = %d", mock.CallCount())
	}
	if _, ok := mock.LastCall(); ok {
		t.Error("LastCall after reset should report false")
	}
}

func TestMockChatModel_Concurrency(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Chat(context.Background(), nil, Params{})
		}()
	}
	wg.Wait()

	if mock.CallCount() != 50 {
		t.Errorf("call count = %d, want 50", mock.CallCount())
	}
}

func TestStaticModel(t *testing.T) {
	m := StaticModel{Text: "canned"}
	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "anything"}}, Params{})
	if err != nil || out.Text != "canned" {
		t.Errorf("got (%q, %v)", out.Text, err)
	}
}
