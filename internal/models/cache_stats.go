package models

import "time"

// PromptCacheStatModel counts hits and misses per cache key. The entry
// payloads live in Redis; this table only keeps the statistics that
// survive entry expiry.
type PromptCacheStatModel struct {
	Base
	CacheKey  string     `json:"cache_key"  gorm:"uniqueIndex;type:varchar(128);not null"`
	Operation string     `json:"operation"  gorm:"index"`
	ModelTier string     `json:"model_tier" gorm:"index"`
	Hits      int64      `json:"hits"`
	Misses    int64      `json:"misses"`
	LastHitAt *time.Time `json:"last_hit_at"`
}

func (PromptCacheStatModel) TableName() string { return "prompt_cache_stats" }
