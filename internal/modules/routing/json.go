package routing

import (
	"encoding/json"
	"errors"
	"strings"
)

// DecodeJSONPayload parses model output that was asked for as JSON. Models
// occasionally wrap the object in markdown fences or lead with prose, so a
// strict parse is followed by a fence-stripped and brace-window retry.
func DecodeJSONPayload(raw string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, errors.New("invalid JSON")
}
