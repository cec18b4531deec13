package config

import (
	"sort"
	"strings"
	"time"
)

// Canonical model tier names, ordered from cheapest to most capable.
const (
	TierNano     = "NANO"
	TierMini     = "MINI"
	TierFrontier = "FRONTIER"
)

// NormalizeTierName maps user input to a canonical tier name, or ""
// when the input names no known tier.
func NormalizeTierName(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case TierNano:
		return TierNano
	case TierMini:
		return TierMini
	case TierFrontier:
		return TierFrontier
	default:
		return ""
	}
}

// AssignmentFor returns the provider/model binding for a canonical tier name.
func (c AIRuntimeConfig) AssignmentFor(tier string) (TierAssignment, bool) {
	switch NormalizeTierName(tier) {
	case TierNano:
		return c.Tiers.Nano, c.Tiers.Nano.ProviderID != ""
	case TierMini:
		return c.Tiers.Mini, c.Tiers.Mini.ProviderID != ""
	case TierFrontier:
		return c.Tiers.Frontier, c.Tiers.Frontier.ProviderID != ""
	default:
		return TierAssignment{}, false
	}
}

func (c AIRuntimeConfig) ProviderByID(id string) (AIProvider, bool) {
	target := strings.TrimSpace(id)
	if target == "" {
		return AIProvider{}, false
	}
	for _, provider := range c.Providers {
		if provider.ID == target {
			return provider, true
		}
	}
	return AIProvider{}, false
}

// DefaultTierFor resolves the configured default tier for a task type.
// Task types are matched case-insensitively.
func (c AIRuntimeConfig) DefaultTierFor(taskType string) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(taskType))
	if key == "" {
		return "", false
	}
	if tier, ok := c.DefaultTiers[key]; ok {
		return tier, true
	}
	return "", false
}

// KnownTaskTypes lists the task types with built-in tier defaults, sorted.
func KnownTaskTypes() []string {
	out := make([]string, 0, len(defaultTaskTierDefaults))
	for task := range defaultTaskTierDefaults {
		out = append(out, task)
	}
	sort.Strings(out)
	return out
}

func (c AIRuntimeConfig) RequestTimeout() time.Duration {
	seconds := c.RequestTimeoutSeconds
	if seconds <= 0 {
		seconds = defaultRequestTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (r RetryRuntimeConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffMs) * time.Millisecond
}

func (r RetryRuntimeConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}
