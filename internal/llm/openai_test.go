package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteSendsMessagesAndAuth(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"})
	resp, err := c.Complete(context.Background(), Request{
		Model:  "gpt-4o-mini",
		System: "You are terse.",
		Prompt: "say hello",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.PromptTokens != 12 || resp.CompletionTokens != 3 {
		t.Fatalf("usage = %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
	if resp.CostUSD <= 0 {
		t.Fatalf("cost = %f, want > 0", resp.CostUSD)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid api key", "type": "auth"},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Model: "gpt-4o", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Model: "gpt-4o", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error on empty choices")
	}
}
