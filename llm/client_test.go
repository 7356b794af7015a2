package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string) client {
	c := newClient(Config{BaseURL: url, Model: "m", APIKey: "key"}, "/v1")
	c.retryDelay = time.Millisecond
	c.rateDelay = time.Millisecond
	return c
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "m" || req.MaxTokens != 100 || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.chat(context.Background(), ChatRequest{
		Messages:  []Message{System("s"), User("u")},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hi" || resp.TotalTokens != 7 || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got, err := c.embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("embeddings out of order: %v", got)
	}
}

func TestEmbedMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for short embedding response")
	}
}

func TestPostRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.post(context.Background(), "chat", "/x", struct{}{}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPostNonRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.post(context.Background(), "chat", "/x", struct{}{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 APIError", err)
	}
	if apiErr.Temporary() {
		t.Error("400 reported as temporary")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPostRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.maxRetries = 1
	_, err := c.post(context.Background(), "chat", "/x", struct{}{})
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"embeddings":[[0.5,0.25]]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "ollama", Model: "nomic-embed-text", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.5 || got[0][1] != 0.25 {
		t.Errorf("got %v", got)
	}
}

type slowProvider struct{}

func (slowProvider) Chat(ctx context.Context, _ ChatRequest) (*ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeouts(t *testing.T) {
	p := WithTimeouts(slowProvider{}, 10*time.Millisecond, 10*time.Millisecond)

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != context.DeadlineExceeded {
		t.Errorf("Chat err = %v, want deadline exceeded", err)
	}
	if _, err := p.Embed(context.Background(), nil); err != context.DeadlineExceeded {
		t.Errorf("Embed err = %v, want deadline exceeded", err)
	}
}

func TestBackoff(t *testing.T) {
	c := newClient(Config{}, "")
	c.retryDelay = time.Second
	c.rateDelay = 5 * time.Second

	if got := c.backoff(2, nil); got != 4*time.Second {
		t.Errorf("transport backoff = %v, want 4s", got)
	}

	limited := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	if got := c.backoff(1, limited); got != 10*time.Second {
		t.Errorf("rate-limit backoff = %v, want 10s", got)
	}
	limited.Header.Set("Retry-After", "30")
	if got := c.backoff(1, limited); got != 30*time.Second {
		t.Errorf("Retry-After backoff = %v, want 30s", got)
	}
}
