package provider

import (
	"fmt"
	"strings"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"go.uber.org/zap"
)

// TierInfo is one row of the operator-facing tier catalog.
type TierInfo struct {
	Tier            string          `json:"tier"`
	ProviderID      string          `json:"providerId"`
	ProviderType    string          `json:"providerType"`
	ModelID         string          `json:"modelId"`
	Pricing         routing.Pricing `json:"pricing"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
}

// Registry maps tiers to their configured adapters.
type Registry struct {
	adapters map[routing.ModelTier]routing.Adapter
	catalog  []TierInfo
}

// NewRegistry builds one adapter per assigned tier from the AI config.
// Tiers without an assignment are simply absent; the router reports them
// when asked to use one.
func NewRegistry(cfg *config.AppConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := &Registry{adapters: make(map[routing.ModelTier]routing.Adapter)}

	for _, tier := range routing.Tiers() {
		assignment, ok := cfg.AI.AssignmentFor(tier.String())
		if !ok {
			continue
		}
		prov, ok := cfg.AI.ProviderByID(assignment.ProviderID)
		if !ok {
			return nil, fmt.Errorf("provider: tier %s references unknown provider %q", tier, assignment.ProviderID)
		}
		if !prov.Enabled {
			logger.Warn("tier assigned to disabled provider, skipping",
				zap.String("tier", tier.String()),
				zap.String("provider", prov.ID))
			continue
		}

		adapter, err := buildAdapter(prov, assignment)
		if err != nil {
			return nil, fmt.Errorf("provider: tier %s: %w", tier, err)
		}
		reg.adapters[tier] = adapter
		reg.catalog = append(reg.catalog, TierInfo{
			Tier:            tier.String(),
			ProviderID:      prov.ID,
			ProviderType:    normalizeProviderType(prov.Type),
			ModelID:         adapter.ModelID(),
			Pricing:         adapter.Pricing(),
			MaxOutputTokens: assignment.MaxOutputTokens,
		})
		logger.Info("tier adapter ready",
			zap.String("tier", tier.String()),
			zap.String("provider", prov.ID),
			zap.String("model", adapter.ModelID()))
	}

	return reg, nil
}

func (r *Registry) ForTier(tier routing.ModelTier) (routing.Adapter, bool) {
	a, ok := r.adapters[tier]
	return a, ok
}

// Catalog lists the configured tier assignments, cheapest first.
func (r *Registry) Catalog() []TierInfo {
	out := make([]TierInfo, len(r.catalog))
	copy(out, r.catalog)
	return out
}

func buildAdapter(prov config.AIProvider, assignment config.TierAssignment) (routing.Adapter, error) {
	modelID := strings.TrimSpace(assignment.Model)
	if modelID == "" {
		modelID = strings.TrimSpace(prov.DefaultModel)
	}
	if modelID == "" {
		return nil, fmt.Errorf("no model configured for provider %q", prov.ID)
	}
	pricing := routing.Pricing{
		InputCostPer1K:  assignment.InputCostPer1K,
		OutputCostPer1K: assignment.OutputCostPer1K,
	}

	if isOpenAICompatibleProviderType(prov.Type) {
		return newCompatAdapter(prov, modelID, pricing, assignment.MaxOutputTokens), nil
	}
	return newSDKAdapter(prov, modelID, pricing, assignment.MaxOutputTokens)
}

func isOpenAICompatibleProviderType(raw string) bool {
	t := normalizeProviderType(raw)
	return t == "openai-compatible" || t == "openaicompatible"
}

func isAnthropicProviderType(raw string) bool {
	return normalizeProviderType(raw) == "anthropic"
}

func normalizeProviderType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	return t
}
