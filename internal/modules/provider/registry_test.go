package provider

import (
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

func registryConfig() *config.AppConfig {
	return &config.AppConfig{
		AI: config.AIRuntimeConfig{
			Providers: []config.AIProvider{
				{
					ID: "gateway", Type: "OpenAI-Compatible", APIKey: "k1",
					Endpoint: "https://gw.internal", DefaultModel: "small-1", Enabled: true,
				},
				{
					ID: "anthropic-main", Type: "Anthropic", APIKey: "k2",
					DefaultModel: "claude-base", Enabled: true,
				},
			},
			Tiers: config.TierAssignments{
				Nano: config.TierAssignment{
					ProviderID: "gateway", InputCostPer1K: 0.1, OutputCostPer1K: 0.4,
				},
				Frontier: config.TierAssignment{
					ProviderID: "anthropic-main", Model: "claude-big",
					InputCostPer1K: 3, OutputCostPer1K: 15, MaxOutputTokens: 8192,
				},
			},
		},
	}
}

func TestNewRegistryBuildsTierCatalog(t *testing.T) {
	reg, err := NewRegistry(registryConfig(), nil)
	require.NoError(t, err)

	nano, ok := reg.ForTier(routing.TierNano)
	require.True(t, ok)
	require.Equal(t, "gateway", nano.ProviderID())
	require.Equal(t, "small-1", nano.ModelID(), "assignment without a model falls back to the provider default")

	_, ok = reg.ForTier(routing.TierMini)
	require.False(t, ok, "unassigned tiers stay absent")

	frontier, ok := reg.ForTier(routing.TierFrontier)
	require.True(t, ok)
	require.Equal(t, "claude-big", frontier.ModelID())
	require.InDelta(t, 3.0, frontier.Pricing().InputCostPer1K, 1e-9)

	catalog := reg.Catalog()
	require.Len(t, catalog, 2)
	require.Equal(t, "NANO", catalog[0].Tier)
	require.Equal(t, "openai-compatible", catalog[0].ProviderType)
	require.Equal(t, "FRONTIER", catalog[1].Tier)
	require.Equal(t, 8192, catalog[1].MaxOutputTokens)
}

func TestNewRegistryRejectsUnknownProvider(t *testing.T) {
	cfg := registryConfig()
	cfg.AI.Tiers.Mini = config.TierAssignment{ProviderID: "ghost"}

	_, err := NewRegistry(cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}

func TestNewRegistrySkipsDisabledProviders(t *testing.T) {
	cfg := registryConfig()
	cfg.AI.Providers[0].Enabled = false

	reg, err := NewRegistry(cfg, nil)
	require.NoError(t, err)

	_, ok := reg.ForTier(routing.TierNano)
	require.False(t, ok)
	require.Len(t, reg.Catalog(), 1)
}

func TestNewRegistryRequiresAModel(t *testing.T) {
	cfg := registryConfig()
	cfg.AI.Providers[0].DefaultModel = ""

	_, err := NewRegistry(cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no model configured")
}

func TestNewSDKAdapterRequiresAPIKey(t *testing.T) {
	_, err := newSDKAdapter(
		config.AIProvider{ID: "anthropic-main", Type: "Anthropic"},
		"claude-big", routing.Pricing{}, 0,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no api key")
}

func TestNormalizeProviderType(t *testing.T) {
	require.Equal(t, "openai-compatible", normalizeProviderType("OpenAI_Compatible"))
	require.Equal(t, "anthropic", normalizeProviderType(" Anthropic "))
	require.Equal(t, "openrouter", normalizeProviderType("Open Router"))
	require.True(t, isOpenAICompatibleProviderType("openai compatible"))
	require.False(t, isOpenAICompatibleProviderType("openai"))
	require.True(t, isAnthropicProviderType("ANTHROPIC"))
}

func TestEstimateTokens(t *testing.T) {
	require.Zero(t, EstimateTokens(""))
	require.Equal(t, 4, EstimateTokens("four word test here"))

	short := EstimateTokens("a brief sentence")
	long := EstimateTokens("a considerably longer sentence with many more words in it than before")
	require.Greater(t, long, short)
}
