package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

type compatRequest struct {
	Model       string              `json:"model"`
	Messages    []map[string]string `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

// compatServer records the last upstream request and replies with a fixed
// body, so assertions run on the test goroutine.
type compatServer struct {
	mu       sync.Mutex
	path     string
	auth     string
	request  compatRequest
	status   int
	response string
}

func newCompatServer(status int, response string) (*compatServer, *httptest.Server) {
	cs := &compatServer{status: status, response: response}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decoded compatRequest
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		cs.mu.Lock()
		cs.path = r.URL.Path
		cs.auth = r.Header.Get("Authorization")
		cs.request = decoded
		cs.mu.Unlock()
		w.WriteHeader(cs.status)
		_, _ = w.Write([]byte(cs.response))
	}))
	return cs, srv
}

func (cs *compatServer) last() (string, string, compatRequest) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.path, cs.auth, cs.request
}

func compatTestAdapter(endpoint string, maxOutput int) *compatAdapter {
	return newCompatAdapter(
		config.AIProvider{ID: "gateway", Type: "OpenAI-Compatible", APIKey: "secret", Endpoint: endpoint},
		"m-1",
		routing.Pricing{InputCostPer1K: 0.1, OutputCostPer1K: 0.4},
		maxOutput,
	)
}

func TestCompatAdapterInvoke(t *testing.T) {
	cs, srv := newCompatServer(http.StatusOK,
		`{"choices":[{"message":{"content":"hello world"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 128)
	result, err := adapter.Invoke(context.Background(), routing.AdapterCall{
		Prompt:       "Say hello.",
		SystemPrompt: "Be brief.",
		MaxTokens:    4096,
		Temperature:  0.3,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Text)
	require.Equal(t, 10, result.InputTokens)
	require.Equal(t, 5, result.OutputTokens)
	require.False(t, result.TokensEstimated)

	path, auth, req := cs.last()
	require.Equal(t, "/v1/chat/completions", path)
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "m-1", req.Model)
	require.Equal(t, 128, req.MaxTokens, "max tokens are capped at the tier limit")
	require.InDelta(t, 0.3, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0]["role"])
	require.Equal(t, "Be brief.", req.Messages[0]["content"])
	require.Equal(t, "user", req.Messages[1]["role"])
}

func TestCompatAdapterOmitsEmptySystemPrompt(t *testing.T) {
	cs, srv := newCompatServer(http.StatusOK,
		`{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 0)
	_, err := adapter.Invoke(context.Background(), routing.AdapterCall{Prompt: "hi", MaxTokens: 64})
	require.NoError(t, err)

	_, _, req := cs.last()
	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0]["role"])
}

func TestCompatAdapterEstimatesMissingUsage(t *testing.T) {
	_, srv := newCompatServer(http.StatusOK, `{"choices":[{"message":{"content":"hello world"}}]}`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 0)
	result, err := adapter.Invoke(context.Background(), routing.AdapterCall{
		Prompt:       "Say hello.",
		SystemPrompt: "Be brief.",
		MaxTokens:    64,
	})
	require.NoError(t, err)
	require.True(t, result.TokensEstimated)
	require.Equal(t, EstimateTokens("Be brief.\nSay hello."), result.InputTokens)
	require.Equal(t, EstimateTokens("hello world"), result.OutputTokens)
}

func TestCompatAdapterSurfacesHTTPErrors(t *testing.T) {
	_, srv := newCompatServer(http.StatusTooManyRequests, `rate limited, slow down`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 0)
	_, err := adapter.Invoke(context.Background(), routing.AdapterCall{Prompt: "hi", MaxTokens: 64})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 429")
	require.Contains(t, err.Error(), "rate limited")
}

func TestCompatAdapterSurfacesErrorEnvelope(t *testing.T) {
	_, srv := newCompatServer(http.StatusOK, `{"error":{"message":"quota exhausted"}}`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 0)
	_, err := adapter.Invoke(context.Background(), routing.AdapterCall{Prompt: "hi", MaxTokens: 64})
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exhausted")
}

func TestCompatAdapterRejectsEmptyChoices(t *testing.T) {
	_, srv := newCompatServer(http.StatusOK, `{"choices":[]}`)
	defer srv.Close()

	adapter := compatTestAdapter(srv.URL, 0)
	_, err := adapter.Invoke(context.Background(), routing.AdapterCall{Prompt: "hi", MaxTokens: 64})
	require.EqualError(t, err, "empty response from provider")
}

func TestCompatAdapterRequiresAPIKey(t *testing.T) {
	adapter := newCompatAdapter(
		config.AIProvider{ID: "gateway", Endpoint: "https://gw.internal"},
		"m-1", routing.Pricing{}, 0,
	)
	_, err := adapter.Invoke(context.Background(), routing.AdapterCall{Prompt: "hi", MaxTokens: 64})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key is empty")
}

func TestNormalizeCompatEndpoint(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "https://api.openai.com"},
		{"https://gw.internal", "https://gw.internal"},
		{"https://gw.internal/", "https://gw.internal"},
		{"https://gw.internal/v1", "https://gw.internal"},
		{"https://gw.internal/v1/", "https://gw.internal"},
		{"https://gw.internal/openai/v1", "https://gw.internal/openai"},
		{"https://gw.internal:8443/v1", "https://gw.internal:8443"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, normalizeCompatEndpoint(tc.raw), "input %q", tc.raw)
	}
}

func TestNormalizeOpenAIBaseURL(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"https://proxy.internal", "https://proxy.internal/v1"},
		{"https://proxy.internal/", "https://proxy.internal/v1"},
		{"https://proxy.internal/v1", "https://proxy.internal/v1"},
		{"https://proxy.internal/az/v1", "https://proxy.internal/az/v1"},
		{"https://proxy.internal/openai", "https://proxy.internal/openai/v1"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, normalizeOpenAIBaseURL(tc.raw), "input %q", tc.raw)
	}
}
