package routing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyRequest() Request {
	return Request{
		TaskType:       "SUMMARIZE",
		Prompt:         "Summarize the discharge notes.",
		SystemPrompt:   "You are a clinical summarizer.",
		MaxTokens:      256,
		ResponseFormat: FormatText,
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey(keyRequest(), TierNano)
	b := CacheKey(keyRequest(), TierNano)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestCacheKeyDiscriminates(t *testing.T) {
	base := CacheKey(keyRequest(), TierNano)

	req := keyRequest()
	req.Prompt = "Summarize the admission notes."
	require.NotEqual(t, base, CacheKey(req, TierNano))

	req = keyRequest()
	req.TaskType = "EXTRACT"
	require.NotEqual(t, base, CacheKey(req, TierNano))

	req = keyRequest()
	req.SystemPrompt = ""
	require.NotEqual(t, base, CacheKey(req, TierNano))

	req = keyRequest()
	req.ResponseFormat = FormatJSON
	require.NotEqual(t, base, CacheKey(req, TierNano))

	require.NotEqual(t, base, CacheKey(keyRequest(), TierMini))
}

func TestCacheKeyIgnoresNonIdentityFields(t *testing.T) {
	base := CacheKey(keyRequest(), TierNano)

	// Identity is what the model sees, not who asked or how it escalates.
	req := keyRequest()
	req.RequestID = "req-123"
	req.BatchRequestID = "batch-9"
	req.MaxTokens = 999
	two := 2
	req.MaxEscalations = &two
	require.Equal(t, base, CacheKey(req, TierNano))
}

func TestCacheKeyBucketsTemperature(t *testing.T) {
	warm := keyRequest()
	warm.Temperature = 0.21
	warmer := keyRequest()
	warmer.Temperature = 0.24
	require.Equal(t, CacheKey(warm, TierNano), CacheKey(warmer, TierNano))

	hot := keyRequest()
	hot.Temperature = 0.26
	require.NotEqual(t, CacheKey(warm, TierNano), CacheKey(hot, TierNano))

	negative := keyRequest()
	negative.Temperature = -1
	nan := keyRequest()
	nan.Temperature = math.NaN()
	require.Equal(t, CacheKey(keyRequest(), TierNano), CacheKey(negative, TierNano))
	require.Equal(t, CacheKey(keyRequest(), TierNano), CacheKey(nan, TierNano))
}

func TestDecodeJSONPayload(t *testing.T) {
	obj, err := DecodeJSONPayload(`{"answer": 42}`)
	require.NoError(t, err)
	require.Equal(t, float64(42), obj["answer"])

	obj, err = DecodeJSONPayload("```json\n{\"answer\": 42}\n```")
	require.NoError(t, err)
	require.Equal(t, float64(42), obj["answer"])

	obj, err = DecodeJSONPayload("```\n{\"ok\": true}\n```")
	require.NoError(t, err)
	require.Equal(t, true, obj["ok"])

	obj, err = DecodeJSONPayload(`Here is the extraction: {"nested": {"score": 1}} hope that helps.`)
	require.NoError(t, err)
	require.Contains(t, obj, "nested")
}

func TestDecodeJSONPayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		"{broken",
		"[1, 2, 3]",
		"",
	} {
		_, err := DecodeJSONPayload(raw)
		require.Error(t, err, "input %q", raw)
		require.EqualError(t, err, "invalid JSON")
	}
}
