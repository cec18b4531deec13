package models

// AIInvocationModel is one append-only ledger row per routed attempt.
// A request that retries or escalates produces several rows; exactly
// one of them is terminal.
type AIInvocationModel struct {
	Base
	RequestID      string      `json:"request_id"       gorm:"index;not null"`
	BatchRequestID string      `json:"batch_request_id,omitempty" gorm:"index"`
	Operation      string      `json:"operation"        gorm:"index;not null"` // task type
	ModelTier      string      `json:"model_tier"       gorm:"index;not null"`
	ModelID        string      `json:"model_id"         gorm:"index"`
	ProviderID     string      `json:"provider_id"      gorm:"index"`
	Attempt        int         `json:"attempt"`
	Terminal       bool        `json:"terminal"         gorm:"index"`
	Success        bool        `json:"success"          gorm:"index"`
	CacheHit       bool        `json:"cache_hit"`
	Escalated      bool        `json:"escalated"`
	EscalatedFrom  string      `json:"escalated_from,omitempty"`
	EscalationPath StringArray `json:"escalation_path"  gorm:"type:longtext"`
	InputTokens    int         `json:"input_tokens"`
	OutputTokens   int         `json:"output_tokens"`
	CostUsd        float64     `json:"cost_usd"`
	LatencyMs      int64       `json:"latency_ms"`
	ErrorKind      string      `json:"error_kind,omitempty"  gorm:"index"`
	ErrorMessage   string      `json:"error_message,omitempty" gorm:"type:text"`
	QualityVerdict string      `json:"quality_verdict,omitempty"`
	Metadata       JSONMap     `json:"metadata,omitempty" gorm:"type:longtext"`
}

func (AIInvocationModel) TableName() string { return "ai_invocations" }
