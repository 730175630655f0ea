package llm

import (
	"DeepDistill/backend/go/internal/config"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHuggingFaceComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/qwen" {
			t.Errorf("Expected model path, got %s", r.URL.Path)
		}
		var in hfRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if in.Parameters.ReturnFullText {
			t.Errorf("Expected return_full_text=false")
		}
		w.Write([]byte(`[{"generated_text":"{\"summary\":\"ok\"}"}]`))
	}))
	defer ts.Close()

	p, _ := NewHuggingFace("hf", "qwen", "tok", ts.URL+"/models", 5*time.Second)
	out, err := p.Complete(context.Background(), Request{Prompt: "p", Text: "t"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"summary":"ok"}` {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestHuggingFaceClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, ErrAuth, false},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusServiceUnavailable, ErrServer, true},
		{http.StatusBadRequest, ErrBadRequest, false},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		p, _ := NewHuggingFace("hf", "m", "", ts.URL, 5*time.Second)
		_, err := p.Complete(context.Background(), Request{})
		ts.Close()

		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("status %d: expected *Error, got %v", tt.status, err)
		}
		if e.Kind != tt.kind {
			t.Errorf("status %d: expected kind %s, got %s", tt.status, tt.kind, e.Kind)
		}
		if Retryable(err) != tt.retryable {
			t.Errorf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
	}
}

func TestOpenAICompatibleComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Expected bearer key, got %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Temperature    *float32 `json:"temperature"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "deepseek-chat" || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("Unexpected request %+v", body)
		}
		if body.Temperature == nil || *body.Temperature != 0.3 {
			t.Errorf("Expected temperature 0.3, got %v", body.Temperature)
		}
		if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_object" {
			t.Errorf("Expected json_object response format, got %+v", body.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"summary\":\"s\"}"},"finish_reason":"stop"}]}`))
	}))
	defer ts.Close()

	p, err := NewOpenAI("deepseek", "deepseek-chat", "sk-test", ts.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	out, err := p.Complete(context.Background(), Request{Prompt: "sys", Text: "hello", Temperature: 0.3, JSONMode: true})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"summary":"s"}` {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestOpenAICompatibleAuthFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	p, _ := NewOpenAI("qwen", "qwen-plus", "sk-bad", ts.URL, 5*time.Second)
	_, err := p.Complete(context.Background(), Request{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrAuth {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if Retryable(err) {
		t.Errorf("Expected auth error not to be retryable")
	}
}

func TestClassifyDeadline(t *testing.T) {
	err := classify("x", 0, context.DeadlineExceeded)
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrTimeout {
		t.Fatalf("Expected timeout kind, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected error to unwrap to DeadlineExceeded")
	}
}

func TestNewChainSkipsProvidersWithoutKey(t *testing.T) {
	chain, skipped, err := NewChain(context.Background(), []config.ProviderConfig{
		{Name: "local", Type: "ollama", Model: "qwen2.5:14b"},
		{Name: "deepseek", Type: "openai", Model: "deepseek-chat"},
	})
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	if len(chain) != 1 || chain[0].Name() != "local" {
		t.Errorf("Expected only local provider, got %d", len(chain))
	}
	if len(skipped) != 1 || skipped[0] != "deepseek" {
		t.Errorf("Expected deepseek to be skipped, got %v", skipped)
	}

	if _, _, err := NewChain(context.Background(), nil); err == nil {
		t.Errorf("Expected error for empty chain")
	}
}
