package routing

import "strings"

// ModelTier orders model classes by cost and capability.
type ModelTier int

const (
	TierNano ModelTier = iota
	TierMini
	TierFrontier
)

var tierNames = [...]string{"NANO", "MINI", "FRONTIER"}

func (t ModelTier) String() string {
	if t < TierNano || t > TierFrontier {
		return "UNKNOWN"
	}
	return tierNames[t]
}

// ParseTier resolves a tier name case-insensitively.
func ParseTier(raw string) (ModelTier, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NANO":
		return TierNano, true
	case "MINI":
		return TierMini, true
	case "FRONTIER":
		return TierFrontier, true
	default:
		return TierNano, false
	}
}

// Tiers lists every tier from cheapest to strongest.
func Tiers() []ModelTier {
	return []ModelTier{TierNano, TierMini, TierFrontier}
}

// NextTier returns the tier to promote to after a failed attempt, or nil
// when the budget is spent or the ladder is exhausted. Promotion is strictly
// upward; maxEscalations bounds promotions, not attempts.
func NextTier(current ModelTier, promotionsSoFar, maxEscalations int) *ModelTier {
	if promotionsSoFar >= maxEscalations {
		return nil
	}
	if current >= TierFrontier {
		return nil
	}
	next := current + 1
	return &next
}
