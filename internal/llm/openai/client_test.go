package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PantryPilot/internal/llm"
	"PantryPilot/internal/schema"
)

func TestCompleteReturnsStructuredCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected authorization header: %q", got)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["model"] != "gpt-4o-mini" {
			t.Fatalf("unexpected model: %v", payload["model"])
		}
		if _, ok := payload["functions"]; !ok {
			t.Fatal("structured request should carry functions")
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"function_call": map[string]any{
						"name":      "sql_block",
						"arguments": `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"SELECT"}`,
					},
				},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	outcome, err := client.Complete(context.Background(), llm.Request{
		System:    "system prompt",
		User:      "list my fridge",
		Functions: schema.Blocks(),
		Mode:      llm.ModeStructured,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !outcome.Structured() {
		t.Fatal("expected structured outcome")
	}
	if outcome.Call.Name != "sql_block" {
		t.Fatalf("unexpected call name: %s", outcome.Call.Name)
	}
}

func TestCompleteReturnsFreeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if _, ok := payload["functions"]; ok {
			t.Fatal("free text request must not carry functions")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "你好，有什么可以帮忙?"},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	outcome, err := client.Complete(context.Background(), llm.Request{
		User: "hello",
		Mode: llm.ModeFreeText,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if outcome.Structured() {
		t.Fatal("expected text outcome")
	}
	if outcome.Text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestCompleteSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Complete(context.Background(), llm.Request{User: "hi"}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
