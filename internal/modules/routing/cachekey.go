package routing

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
)

// cacheKeyFields is marshaled in declaration order, which keeps the hash
// stable across processes.
type cacheKeyFields struct {
	TaskType       string `json:"task_type"`
	Prompt         string `json:"prompt"`
	SystemPrompt   string `json:"system_prompt"`
	Tier           string `json:"tier"`
	ResponseFormat string `json:"response_format"`
	Temperature    string `json:"temperature"`
}

// CacheKey hashes the normalized request identity. The tier is the one the
// first attempt will use, so a later escalation never rewrites the key.
// Temperature is bucketed to one decimal so near-identical calls still hit;
// temperature zero gets exact-match caching.
func CacheKey(req Request, firstTier ModelTier) string {
	fields := cacheKeyFields{
		TaskType:       req.TaskType,
		Prompt:         req.Prompt,
		SystemPrompt:   req.SystemPrompt,
		Tier:           firstTier.String(),
		ResponseFormat: string(req.ResponseFormat),
		Temperature:    bucketTemperature(req.Temperature),
	}
	raw, _ := json.Marshal(fields)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

func bucketTemperature(t float64) string {
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	return fmt.Sprintf("%.1f", math.Round(t*10)/10)
}
