package config

import (
	"encoding/json"
	"strings"
)

// Stored settings predate the snake_case JSON convention, so the
// unmarshalers below accept both spellings and patch onto the current
// value instead of zeroing absent fields.

func (o *RoutingOptions) UnmarshalJSON(data []byte) error {
	next := *o
	var raw struct {
		DefaultTiers          map[string]string `json:"default_tiers"`
		DefaultTiersCamel     map[string]string `json:"defaultTiers"`
		MaxEscalations        *int              `json:"max_escalations"`
		MaxEscalationsCamel   *int              `json:"maxEscalations"`
		AllowUnknownTaskTypes *bool             `json:"allow_unknown_task_types"`
		AllowUnknownCamel     *bool             `json:"allowUnknownTaskTypes"`
		CacheEnabled          *bool             `json:"cache_enabled"`
		CacheEnabledCamel     *bool             `json:"cacheEnabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.DefaultTiers != nil:
		next.DefaultTiers = raw.DefaultTiers
	case raw.DefaultTiersCamel != nil:
		next.DefaultTiers = raw.DefaultTiersCamel
	}
	if raw.MaxEscalations != nil {
		next.MaxEscalations = *raw.MaxEscalations
	} else if raw.MaxEscalationsCamel != nil {
		next.MaxEscalations = *raw.MaxEscalationsCamel
	}
	if raw.AllowUnknownTaskTypes != nil {
		next.AllowUnknownTaskTypes = *raw.AllowUnknownTaskTypes
	} else if raw.AllowUnknownCamel != nil {
		next.AllowUnknownTaskTypes = *raw.AllowUnknownCamel
	}
	if raw.CacheEnabled != nil {
		next.CacheEnabled = *raw.CacheEnabled
	} else if raw.CacheEnabledCamel != nil {
		next.CacheEnabled = *raw.CacheEnabledCamel
	}

	*o = next
	return nil
}

func (o *AlertOptions) UnmarshalJSON(data []byte) error {
	next := *o
	var raw struct {
		Enable          *bool    `json:"enable"`
		Enabled         *bool    `json:"enabled"`
		WebhookURL      *string  `json:"webhook_url"`
		Webhook         *string  `json:"webhook"`
		BudgetDailyUsd  *float64 `json:"budget_daily_usd"`
		DailyBudgetUsd  *float64 `json:"daily_budget_usd"`
		BudgetDailyUSD2 *float64 `json:"budgetDailyUsd"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Enable != nil {
		next.Enable = *raw.Enable
	} else if raw.Enabled != nil {
		next.Enable = *raw.Enabled
	}
	if raw.WebhookURL != nil {
		next.WebhookURL = strings.TrimSpace(*raw.WebhookURL)
	} else if raw.Webhook != nil {
		next.WebhookURL = strings.TrimSpace(*raw.Webhook)
	}
	switch {
	case raw.BudgetDailyUsd != nil:
		next.BudgetDailyUsd = *raw.BudgetDailyUsd
	case raw.DailyBudgetUsd != nil:
		next.BudgetDailyUsd = *raw.DailyBudgetUsd
	case raw.BudgetDailyUSD2 != nil:
		next.BudgetDailyUsd = *raw.BudgetDailyUSD2
	}

	*o = next
	return nil
}

func (o *DigestOptions) UnmarshalJSON(data []byte) error {
	next := *o
	var raw struct {
		Enable       *bool `json:"enable"`
		Enabled      *bool `json:"enabled"`
		SendHour     *int  `json:"send_hour"`
		SendHourOld  *int  `json:"hour"`
		SendHourCaml *int  `json:"sendHour"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Enable != nil {
		next.Enable = *raw.Enable
	} else if raw.Enabled != nil {
		next.Enable = *raw.Enabled
	}
	switch {
	case raw.SendHour != nil:
		next.SendHour = *raw.SendHour
	case raw.SendHourCaml != nil:
		next.SendHour = *raw.SendHourCaml
	case raw.SendHourOld != nil:
		next.SendHour = *raw.SendHourOld
	}

	*o = next
	return nil
}

func (p *AIProvider) UnmarshalJSON(data []byte) error {
	next := *p
	var raw struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		Type         string  `json:"type"`
		APIKey       *string `json:"api_key"`
		APIKeyCamel  *string `json:"apiKey"`
		Endpoint     *string `json:"endpoint"`
		BaseURL      *string `json:"base_url"`
		DefaultModel *string `json:"default_model"`
		ModelCamel   *string `json:"defaultModel"`
		Enabled      *bool   `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v := strings.TrimSpace(raw.ID); v != "" {
		next.ID = v
	}
	if v := strings.TrimSpace(raw.Name); v != "" {
		next.Name = v
	}
	if v := strings.TrimSpace(raw.Type); v != "" {
		next.Type = v
	}
	if raw.APIKey != nil {
		next.APIKey = strings.TrimSpace(*raw.APIKey)
	} else if raw.APIKeyCamel != nil {
		next.APIKey = strings.TrimSpace(*raw.APIKeyCamel)
	}
	if raw.Endpoint != nil {
		next.Endpoint = strings.TrimSpace(*raw.Endpoint)
	} else if raw.BaseURL != nil {
		next.Endpoint = strings.TrimSpace(*raw.BaseURL)
	}
	if raw.DefaultModel != nil {
		next.DefaultModel = strings.TrimSpace(*raw.DefaultModel)
	} else if raw.ModelCamel != nil {
		next.DefaultModel = strings.TrimSpace(*raw.ModelCamel)
	}
	if raw.Enabled != nil {
		next.Enabled = *raw.Enabled
	}

	*p = next
	return nil
}

func (t *TierAssignment) UnmarshalJSON(data []byte) error {
	next := *t
	var raw struct {
		ProviderID      string   `json:"provider_id"`
		ProviderIDCamel string   `json:"providerId"`
		Model           string   `json:"model"`
		InputCostPer1K  *float64 `json:"input_cost_per_1k"`
		OutputCostPer1K *float64 `json:"output_cost_per_1k"`
		MaxOutputTokens *int     `json:"max_output_tokens"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v := strings.TrimSpace(raw.ProviderID); v != "" {
		next.ProviderID = v
	} else if v := strings.TrimSpace(raw.ProviderIDCamel); v != "" {
		next.ProviderID = v
	}
	if v := strings.TrimSpace(raw.Model); v != "" {
		next.Model = v
	}
	if raw.InputCostPer1K != nil {
		next.InputCostPer1K = *raw.InputCostPer1K
	}
	if raw.OutputCostPer1K != nil {
		next.OutputCostPer1K = *raw.OutputCostPer1K
	}
	if raw.MaxOutputTokens != nil {
		next.MaxOutputTokens = *raw.MaxOutputTokens
	}

	*t = next
	return nil
}
