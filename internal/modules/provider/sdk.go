package provider

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

// sdkAdapter drives Anthropic and OpenAI-protocol backends through their
// official SDKs. Retries are disabled at the SDK layer; the router owns the
// backoff schedule.
type sdkAdapter struct {
	providerID string
	modelID    string
	pricing    routing.Pricing
	maxOutput  int
	model      jetapi.LanguageModel
}

func newSDKAdapter(prov config.AIProvider, modelID string, pricing routing.Pricing, maxOutput int) (*sdkAdapter, error) {
	model, err := buildLanguageModel(prov, modelID)
	if err != nil {
		return nil, err
	}
	return &sdkAdapter{
		providerID: prov.ID,
		modelID:    modelID,
		pricing:    pricing,
		maxOutput:  maxOutput,
		model:      model,
	}, nil
}

func (a *sdkAdapter) ProviderID() string       { return a.providerID }
func (a *sdkAdapter) ModelID() string          { return a.modelID }
func (a *sdkAdapter) Pricing() routing.Pricing { return a.pricing }

func (a *sdkAdapter) Invoke(ctx context.Context, call routing.AdapterCall) (*routing.AdapterResult, error) {
	maxTokens := call.MaxTokens
	if a.maxOutput > 0 && maxTokens > a.maxOutput {
		maxTokens = a.maxOutput
	}

	start := time.Now()
	resp, err := jetai.GenerateText(
		ctx,
		buildPromptMessages(call.SystemPrompt, call.Prompt),
		jetai.WithModel(a.model),
		jetai.WithMaxOutputTokens(maxTokens),
	)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}

	// The SDK path does not surface provider usage, so counts are estimated.
	return &routing.AdapterResult{
		Text:            text,
		InputTokens:     EstimateTokens(call.SystemPrompt + "\n" + call.Prompt),
		OutputTokens:    EstimateTokens(text),
		TokensEstimated: true,
		LatencyMs:       latency,
	}, nil
}

func buildPromptMessages(systemPrompt, prompt string) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: systemPrompt})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)})
	return messages
}

func extractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from provider")
	}

	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}

	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from provider")
	}
	return text, nil
}

func buildLanguageModel(prov config.AIProvider, modelID string) (jetapi.LanguageModel, error) {
	apiKey := strings.TrimSpace(prov.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q has no api key", prov.ID)
	}
	endpoint := strings.TrimSpace(prov.Endpoint)

	if isAnthropicProviderType(prov.Type) {
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)), nil
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}
	client := openaiclient.NewClient(opts...)
	return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)), nil
}

// normalizeOpenAIBaseURL appends the /v1 segment the OpenAI client expects.
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		if path == "" {
			path = "/v1"
		} else {
			path += "/v1"
		}
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
