package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestClient(t *testing.T, handler http.Handler) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o",
		Timeout: 5 * time.Second,
	})
}

func completionResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
}

func TestCompleteWithSystem(t *testing.T) {
	var got openAIRequest
	client := newOpenAITestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(completionResponse("```bash\ncp a b\n```"))
	}))

	out, err := client.CompleteWithSystem(context.Background(), "system rules", "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "```bash\ncp a b\n```", out)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system rules", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	attempts := 0
	client := newOpenAITestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(completionResponse("ok"))
	}))

	out, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, attempts)
}

func TestCompleteEmptyChoices(t *testing.T) {
	client := newOpenAITestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))

	_, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	assert.ErrorContains(t, err, "no completion returned")
}

func TestCompleteAPIError(t *testing.T) {
	client := newOpenAITestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "context length exceeded"},
		})
	}))

	_, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	assert.ErrorContains(t, err, "context length exceeded")
}

func TestCompleteMissingAPIKey(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{})
	_, err := client.CompleteWithSystem(context.Background(), "", "prompt")
	assert.ErrorContains(t, err, "API key not configured")
}
