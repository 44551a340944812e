package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCompleteDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/complete", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"{\"goal\":\"compare\"}","tokens_used":42,"model":"test-model"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	resp, err := c.Complete(context.Background(), Request{Prompt: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, "test-model", resp.Model)

	var out struct {
		Goal string `json:"goal"`
	}
	require.NoError(t, DecodeStructured(resp.Content, &out))
	assert.Equal(t, "compare", out.Goal)
}

func TestCompleteSurfacesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
}

func TestCompleteHonorsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, Request{Prompt: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeStructuredStripsCodeFence(t *testing.T) {
	var out map[string]interface{}
	err := DecodeStructured("```json\n{\"a\": 1}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["a"])

	err = DecodeStructured("not json at all", &out)
	assert.Error(t, err)
}
