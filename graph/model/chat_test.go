package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "example request"},
		{Role: RoleAssistant, Content: "example answer"},
		{Role: RoleSystem, Content: "more rules"},
		{Role: RoleUser, Content: "real request"},
	})

	if system != "rules\n\nmore rules" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 3 {
		t.Fatalf("expected 3 non-system messages, got %d", len(rest))
	}
	if rest[0].Role != RoleUser || rest[1].Role != RoleAssistant || rest[2].Content != "real request" {
		t.Errorf("order not preserved: %+v", rest)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &ProviderError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}, true},
		{"server error", &ProviderError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}, true},
		{"bad request", &ProviderError{Provider: "openai", StatusCode: 400, Err: errors.New("bad")}, false},
		{"auth", &ProviderError{Provider: "anthropic", StatusCode: 401, Err: errors.New("bad key")}, false},
		{"wrapped server error", fmt.Errorf("call: %w", &ProviderError{StatusCode: 500, Err: errors.New("x")}), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"connection text", errors.New("connection reset by peer"), true},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"plain", errors.New("invalid model"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if !IsRateLimit(&ProviderError{StatusCode: 429, Err: errors.New("x")}) {
		t.Error("429 should be a rate limit")
	}
	if IsRateLimit(errors.New("429")) {
		t.Error("plain error should not be a rate limit")
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	ctx := context.Background()
	fast := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("retries transient errors until success", func(t *testing.T) {
		calls := 0
		out, err := fast.Do(ctx, "test", func(context.Context) (ChatOut, error) {
			calls++
			if calls < 3 {
				return ChatOut{}, &ProviderError{StatusCode: 503, Err: errors.New("busy")}
			}
			return ChatOut{Text: "ok"}, nil
		})
		if err != nil || out.Text != "ok" {
			t.Fatalf("got (%q, %v)", out.Text, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		permanent := &ProviderError{StatusCode: 401, Err: errors.New("bad key")}
		_, err := fast.Do(ctx, "test", func(context.Context) (ChatOut, error) {
			calls++
			return ChatOut{}, permanent
		})
		if !errors.Is(err, permanent) {
			t.Errorf("got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("wraps exhausted transient error", func(t *testing.T) {
		calls := 0
		busy := &ProviderError{StatusCode: 429, Err: errors.New("limit")}
		_, err := fast.Do(ctx, "test", func(context.Context) (ChatOut, error) {
			calls++
			return ChatOut{}, busy
		})
		if !errors.Is(err, busy) {
			t.Errorf("got %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("respects cancellation while waiting", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := slow.Do(cctx, "test", func(context.Context) (ChatOut, error) {
			return ChatOut{}, errors.New("connection refused")
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got %v, want deadline exceeded", err)
		}
	})

	t.Run("zero attempts means one call", func(t *testing.T) {
		calls := 0
		_, _ = RetryPolicy{}.Do(ctx, "test", func(context.Context) (ChatOut, error) {
			calls++
			return ChatOut{}, errors.New("timeout")
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestComputeBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 400 * time.Millisecond

	for attempt, floor := range []time.Duration{100, 200, 400, 400} {
		floor *= time.Millisecond
		got := computeBackoff(attempt, base, maxDelay)
		if got < floor || got >= floor+base {
			t.Errorf("attempt %d: delay %v outside [%v, %v)", attempt, got, floor, floor+base)
		}
	}

	if got := computeBackoff(3, 0, time.Second); got != 0 {
		t.Errorf("zero base should not wait, got %v", got)
	}
}
