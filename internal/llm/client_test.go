package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

type chatRequest struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, usage string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "sonar",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "O fornecedor foi a Papelaria Central."}}],
			"usage": ` + usage + `
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Complete(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, `{"prompt_tokens": 42, "completion_tokens": 8, "total_tokens": 50}`, &req)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "sonar"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "Você é um assistente."},
		{Role: "user", Content: "Quem recebeu mais?"},
		{Role: "assistant", Content: "Não sei."},
		{Role: "user", Content: "E agora?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "O fornecedor foi a Papelaria Central.", out.Content)
	assert.Equal(t, "sonar", out.Model)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 8, TotalTokens: 50}, out.Usage)

	assert.Equal(t, "sonar", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[2].Role)
	assert.Equal(t, "E agora?", req.Messages[3].Content)
}

func TestClient_EstimatesMissingUsage(t *testing.T) {
	srv := chatServer(t, `{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0}`, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, WithTokenCounter(wordCounter{}))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "quem recebeu mais"}})
	require.NoError(t, err)
	assert.Equal(t, Usage{PromptTokens: 3, CompletionTokens: 6, TotalTokens: 9, Estimated: true}, out.Usage)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []Message{{Role: "user", Content: "oi"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []Message{{Role: "user", Content: "oi"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestNewClient_Defaults(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{"sonar-pro": {InputPer1K: 0.003, OutputPer1K: 0.015}}
	u := Usage{PromptTokens: 2000, CompletionTokens: 500, TotalTokens: 2500}
	assert.InDelta(t, 0.0135, p.Cost("sonar-pro", u), 1e-12)
	assert.Equal(t, 0.0, p.Cost("unknown", u))
}

func TestUsage_Add(t *testing.T) {
	a := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	b := Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, Estimated: true}
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33, Estimated: true}, a.Add(b))
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("oi"))
	assert.Equal(t, 3, approxTokens("nota fiscal!"))
}
