package settings

import (
	"encoding/json"
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func baseSettings() config.Settings {
	return config.DefaultSettings(nil)
}

func TestApplyPartialMergesTierOverride(t *testing.T) {
	current := baseSettings()
	require.Equal(t, "NANO", current.Routing.DefaultTiers["EXTRACT"])

	updated, err := applyPartial(current, map[string]json.RawMessage{
		"routing": raw(`{"default_tiers": {"summarize": "frontier"}}`),
	})
	require.NoError(t, err)

	// merged key is canonicalized, existing keys survive
	require.Equal(t, "FRONTIER", updated.Routing.DefaultTiers["SUMMARIZE"])
	require.Equal(t, "NANO", updated.Routing.DefaultTiers["EXTRACT"])
}

func TestApplyPartialUpdatesScalars(t *testing.T) {
	updated, err := applyPartial(baseSettings(), map[string]json.RawMessage{
		"routing": raw(`{"max_escalations": 1, "cache_enabled": false}`),
		"alerts":  raw(`{"enable": true, "webhook_url": " https://hooks.example.com/spend ", "budget_daily_usd": 40}`),
		"digest":  raw(`{"enable": true, "send_hour": 6}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated.Routing.MaxEscalations)
	require.False(t, updated.Routing.CacheEnabled)
	require.True(t, updated.Alerts.Enable)
	require.Equal(t, "https://hooks.example.com/spend", updated.Alerts.WebhookURL)
	require.Equal(t, 40.0, updated.Alerts.BudgetDailyUsd)
	require.Equal(t, 6, updated.Digest.SendHour)
}

func TestApplyPartialLeavesOtherSectionsAlone(t *testing.T) {
	current := baseSettings()
	current.Alerts.WebhookURL = "https://hooks.example.com/keep"

	updated, err := applyPartial(current, map[string]json.RawMessage{
		"digest": raw(`{"enable": true}`),
	})
	require.NoError(t, err)
	require.Equal(t, "https://hooks.example.com/keep", updated.Alerts.WebhookURL)
	require.True(t, updated.Digest.Enable)
}

func TestApplyPartialRejectsUnknownSection(t *testing.T) {
	_, err := applyPartial(baseSettings(), map[string]json.RawMessage{
		"providers": raw(`{}`),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown settings section "providers"`)
}

func TestApplyPartialRejectsUnknownTier(t *testing.T) {
	_, err := applyPartial(baseSettings(), map[string]json.RawMessage{
		"routing": raw(`{"default_tiers": {"DRAFT": "MEGA"}}`),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown tier "MEGA"`)
}

func TestApplyPartialRejectsNegativeBudget(t *testing.T) {
	_, err := applyPartial(baseSettings(), map[string]json.RawMessage{
		"alerts": raw(`{"budget_daily_usd": -5}`),
	})
	require.Error(t, err)
}

func TestApplyPartialRejectsBadSendHour(t *testing.T) {
	_, err := applyPartial(baseSettings(), map[string]json.RawMessage{
		"digest": raw(`{"send_hour": 24}`),
	})
	require.Error(t, err)
}

func TestApplyPartialSkipsEmptySection(t *testing.T) {
	current := baseSettings()
	updated, err := applyPartial(current, map[string]json.RawMessage{
		"routing": raw(`   `),
	})
	require.NoError(t, err)
	require.Equal(t, current.Routing.MaxEscalations, updated.Routing.MaxEscalations)
}

func TestDeepMergeJSONReplacesArrays(t *testing.T) {
	out := deepMergeJSON(
		map[string]interface{}{"list": []interface{}{1, 2}},
		map[string]interface{}{"list": []interface{}{3}},
	)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, []interface{}{3}, m["list"])
}

func TestDeepMergeJSONMergesNestedObjects(t *testing.T) {
	out := deepMergeJSON(
		map[string]interface{}{"a": map[string]interface{}{"x": 1.0, "y": 2.0}},
		map[string]interface{}{"a": map[string]interface{}{"y": 9.0}},
	)
	m := out.(map[string]interface{})
	inner := m["a"].(map[string]interface{})
	require.Equal(t, 1.0, inner["x"])
	require.Equal(t, 9.0, inner["y"])
}
