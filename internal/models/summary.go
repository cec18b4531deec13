package models

// AICostSummaryModel holds one derived row per (date, tier). The
// nightly derivation job rebuilds rows from ai_invocations, so the
// table can always be dropped and reconstructed.
type AICostSummaryModel struct {
	Base
	Date              string  `json:"date"               gorm:"index:idx_cost_summary_date_tier,unique;type:char(10);not null"` // YYYY-MM-DD
	ModelTier         string  `json:"model_tier"         gorm:"index:idx_cost_summary_date_tier,unique;not null"`
	TotalInvocations  int64   `json:"total_invocations"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUsd      float64 `json:"total_cost_usd"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

func (AICostSummaryModel) TableName() string { return "ai_cost_summary" }

// AIModelUsageModel breaks the same derivation down per concrete model.
type AIModelUsageModel struct {
	Base
	Date         string  `json:"date"          gorm:"index:idx_model_usage_date_model,unique;type:char(10);not null"`
	ModelID      string  `json:"model_id"      gorm:"index:idx_model_usage_date_model,unique;not null"`
	Invocations  int64   `json:"invocations"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUsd      float64 `json:"cost_usd"`
}

func (AIModelUsageModel) TableName() string { return "ai_model_usage" }
