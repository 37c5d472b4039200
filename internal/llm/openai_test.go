package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"model":   "test-model",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	})
	return string(body)
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"probability": 40}`)))
	})

	out, err := p.Complete(context.Background(), Request{
		SystemPrompt: "system",
		UserPrompt:   "user",
		Temperature:  0.9,
		MaxTokens:    2000,
		JSONMode:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"probability": 40}`, out)

	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, 2000, got["max_tokens"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIProviderRateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`))
	})

	_, err := p.Complete(context.Background(), Request{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIProviderServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := p.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIProviderEmptyCompletion(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("")))
	})

	_, err := p.Complete(context.Background(), Request{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "nope"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "gemini"})
	assert.Error(t, err, "gemini requires an API key")

	p, err := New(context.Background(), Config{Provider: "openai"})
	require.NoError(t, err)
	assert.Contains(t, p.Name(), DefaultOpenAIModel)
}
