package providers

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/genflow/internal/agent"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantNil  bool
		wantErr  bool
	}{
		{"empty means none", "", true, false},
		{"explicit none", "none", true, false},
		{"openai", "openai", false, false},
		{"anthropic", "Anthropic", false, false},
		{"unknown", "llama-farm", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.provider, "test-key", nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("New() = %v, wantNil %v", p, tt.wantNil)
			}
		})
	}
}

func TestInvokeWithoutAPIKey(t *testing.T) {
	req := &agent.InvokeRequest{Model: "gpt-4o", Input: "hi"}

	if _, err := NewOpenAI("", nil, nil).Invoke(context.Background(), req); err == nil {
		t.Error("openai Invoke() without key should error")
	}
	if _, err := NewAnthropic("", nil, nil).Invoke(context.Background(), req); err == nil {
		t.Error("anthropic Invoke() without key should error")
	}
}

func TestIsRetryableOpenAI(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"plain error", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableOpenAI(tt.err); got != tt.want {
				t.Errorf("isRetryableOpenAI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	calls := 0
	err := base.Retry(context.Background(), func(error) bool { return false }, func() error {
		calls++
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	calls := 0
	err := base.Retry(context.Background(), func(error) bool { return true }, func() error {
		calls++
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	calls := 0
	err := base.Retry(context.Background(), func(error) bool { return true }, func() error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
}

func TestRetryHonorsCancelledContext(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := base.Retry(ctx, func(error) bool { return true }, func() error {
		calls++
		return context.DeadlineExceeded
	})
	if err != context.Canceled {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("op called %d times on cancelled context, want 0", calls)
	}
}

func TestStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"any slice from JSON", []any{"a", "b"}, []string{"a", "b"}},
		{"mixed any slice", []any{"a", 1, "b"}, []string{"a", "b"}},
		{"nil", nil, nil},
		{"wrong type", "a", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stringSlice(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("stringSlice() = %v, want %v", got, tt.want)
			}
		})
	}
}
