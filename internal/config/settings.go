package config

import "strings"

// Settings are the operator-tunable runtime options persisted in the
// options table. The YAML file supplies boot defaults; stored rows
// override them without a restart.
type Settings struct {
	Routing RoutingOptions `json:"routing"`
	Alerts  AlertOptions   `json:"alerts"`
	Digest  DigestOptions  `json:"digest"`
}

// RoutingOptions override the router defaults from the ai section.
type RoutingOptions struct {
	DefaultTiers          map[string]string `json:"default_tiers"`
	MaxEscalations        int               `json:"max_escalations"`
	AllowUnknownTaskTypes bool              `json:"allow_unknown_task_types"`
	CacheEnabled          bool              `json:"cache_enabled"`
}

type AlertOptions struct {
	Enable         bool    `json:"enable"`
	WebhookURL     string  `json:"webhook_url"`
	BudgetDailyUsd float64 `json:"budget_daily_usd"`
}

type DigestOptions struct {
	Enable   bool `json:"enable"`
	SendHour int  `json:"send_hour"`
}

// DefaultSettings seeds runtime settings from the startup config.
func DefaultSettings(cfg *AppConfig) Settings {
	settings := Settings{
		Routing: RoutingOptions{
			DefaultTiers:          copyStringMap(defaultTaskTierDefaults),
			MaxEscalations:        defaultMaxEscalations,
			AllowUnknownTaskTypes: false,
			CacheEnabled:          true,
		},
		Digest: DigestOptions{
			SendHour: 7,
		},
	}
	if cfg == nil {
		return settings
	}
	if len(cfg.AI.DefaultTiers) > 0 {
		settings.Routing.DefaultTiers = copyStringMap(cfg.AI.DefaultTiers)
	}
	if cfg.AI.MaxEscalations > 0 {
		settings.Routing.MaxEscalations = cfg.AI.MaxEscalations
	}
	settings.Routing.AllowUnknownTaskTypes = cfg.AI.AllowUnknownTaskTypes
	settings.Routing.CacheEnabled = cfg.Cache.Enabled
	settings.Alerts = AlertOptions{
		Enable:         cfg.Alerts.Enable,
		WebhookURL:     strings.TrimSpace(cfg.Alerts.WebhookURL),
		BudgetDailyUsd: cfg.Alerts.BudgetDailyUsd,
	}
	settings.Digest.Enable = cfg.Mail.Enable
	return settings
}

// Normalize cleans a settings payload after a partial update.
func (s Settings) Normalize() Settings {
	tiers := make(map[string]string, len(s.Routing.DefaultTiers))
	for task, tier := range s.Routing.DefaultTiers {
		key := strings.ToUpper(strings.TrimSpace(task))
		canonical := NormalizeTierName(tier)
		if key == "" || canonical == "" {
			continue
		}
		tiers[key] = canonical
	}
	s.Routing.DefaultTiers = tiers
	if s.Routing.MaxEscalations < 0 {
		s.Routing.MaxEscalations = 0
	}
	s.Alerts.WebhookURL = strings.TrimSpace(s.Alerts.WebhookURL)
	if s.Alerts.BudgetDailyUsd < 0 {
		s.Alerts.BudgetDailyUsd = 0
	}
	if s.Digest.SendHour < 0 || s.Digest.SendHour > 23 {
		s.Digest.SendHour = 7
	}
	return s
}
