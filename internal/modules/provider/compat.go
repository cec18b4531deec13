package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
)

// compatAdapter speaks the plain /v1/chat/completions protocol for
// self-hosted gateways and proxies that are OpenAI-shaped but not OpenAI.
type compatAdapter struct {
	providerID string
	modelID    string
	pricing    routing.Pricing
	maxOutput  int
	endpoint   string
	apiKey     string
	client     *http.Client
}

func newCompatAdapter(prov config.AIProvider, modelID string, pricing routing.Pricing, maxOutput int) *compatAdapter {
	return &compatAdapter{
		providerID: prov.ID,
		modelID:    modelID,
		pricing:    pricing,
		maxOutput:  maxOutput,
		endpoint:   normalizeCompatEndpoint(prov.Endpoint),
		apiKey:     strings.TrimSpace(prov.APIKey),
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *compatAdapter) ProviderID() string       { return a.providerID }
func (a *compatAdapter) ModelID() string          { return a.modelID }
func (a *compatAdapter) Pricing() routing.Pricing { return a.pricing }

func (a *compatAdapter) Invoke(ctx context.Context, call routing.AdapterCall) (*routing.AdapterResult, error) {
	if a.apiKey == "" {
		return nil, errors.New("compat provider api key is empty")
	}

	maxTokens := call.MaxTokens
	if a.maxOutput > 0 && maxTokens > a.maxOutput {
		maxTokens = a.maxOutput
	}

	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(call.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": call.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": call.Prompt})

	body, _ := json.Marshal(map[string]interface{}{
		"model":       a.modelID,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": call.Temperature,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("compat provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
		return nil, fmt.Errorf("compat provider error: %s", result.Error.Message)
	}
	if strings.TrimSpace(result.Message) != "" && len(result.Choices) == 0 {
		return nil, fmt.Errorf("compat provider error: %s", result.Message)
	}
	if len(result.Choices) == 0 {
		return nil, errors.New("empty response from provider")
	}

	text := result.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty response from provider")
	}

	out := &routing.AdapterResult{Text: text, LatencyMs: latency}
	if result.Usage.PromptTokens > 0 || result.Usage.CompletionTokens > 0 {
		out.InputTokens = result.Usage.PromptTokens
		out.OutputTokens = result.Usage.CompletionTokens
	} else {
		out.InputTokens = EstimateTokens(call.SystemPrompt + "\n" + call.Prompt)
		out.OutputTokens = EstimateTokens(text)
		out.TokensEstimated = true
	}
	return out, nil
}

// normalizeCompatEndpoint strips a trailing /v1 so the path join below
// never doubles it.
func normalizeCompatEndpoint(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "https://api.openai.com"
	}

	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		cleaned := strings.TrimRight(base, "/")
		return strings.TrimSuffix(cleaned, "/v1")
	}

	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/v1")
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
