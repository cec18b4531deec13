package phi

import (
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/stretchr/testify/require"
)

// buildChain links records the way Append does, without a database.
func buildChain(t *testing.T, chainKey string, details []models.JSONMap) []models.PHIAuditRecordModel {
	t.Helper()
	records := make([]models.PHIAuditRecordModel, 0, len(details))
	previous := genesisHash
	for i, d := range details {
		entryHash, err := computeEntryHash(previous, d)
		require.NoError(t, err)
		records = append(records, models.PHIAuditRecordModel{
			ChainKey:     chainKey,
			Sequence:     int64(i + 1),
			Action:       ActionScanClean,
			Details:      d,
			PreviousHash: previous,
			EntryHash:    entryHash,
		})
		previous = entryHash
	}
	return records
}

func sampleDetails() []models.JSONMap {
	return []models.JSONMap{
		{"stage": "prompt", "findingsCount": 0, "riskLevel": "none", "textLength": 120},
		{"stage": "response", "findingsCount": 0, "riskLevel": "none", "textLength": 480},
		{"stage": "prompt", "findingsCount": 1, "riskLevel": "high", "textLength": 95,
			"detectionIds": []interface{}{"ab12cd34ef56ab12"}},
	}
}

func TestReplayChainValid(t *testing.T) {
	records := buildChain(t, "manuscript-77", sampleDetails())

	result, err := replayChain("manuscript-77", records)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.Records)
	require.Nil(t, result.DivergenceSeq)
}

func TestReplayChainEmpty(t *testing.T) {
	result, err := replayChain("never-seen", nil)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Zero(t, result.Records)
}

func TestReplayChainTamperedDetails(t *testing.T) {
	records := buildChain(t, "manuscript-77", sampleDetails())
	records[1].Details["findingsCount"] = 5

	result, err := replayChain("manuscript-77", records)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.NotNil(t, result.DivergenceSeq)
	require.EqualValues(t, 2, *result.DivergenceSeq)
	require.Contains(t, result.DivergenceCause, "entry_hash mismatch")
}

func TestReplayChainDeletedRecord(t *testing.T) {
	records := buildChain(t, "manuscript-77", sampleDetails())
	pruned := append([]models.PHIAuditRecordModel{records[0]}, records[2])

	result, err := replayChain("manuscript-77", pruned)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.EqualValues(t, 3, *result.DivergenceSeq)
	require.Contains(t, result.DivergenceCause, "sequence gap")
}

func TestReplayChainRelinkedRecord(t *testing.T) {
	records := buildChain(t, "manuscript-77", sampleDetails())
	records[2].PreviousHash = genesisHash

	result, err := replayChain("manuscript-77", records)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.EqualValues(t, 3, *result.DivergenceSeq)
	require.Contains(t, result.DivergenceCause, "previous_hash")
}

func TestComputeEntryHashDeterministic(t *testing.T) {
	details := models.JSONMap{"b": 2, "a": 1, "stage": "prompt"}

	first, err := computeEntryHash(genesisHash, details)
	require.NoError(t, err)
	second, err := computeEntryHash(genesisHash, models.JSONMap{"stage": "prompt", "a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)

	changed, err := computeEntryHash(genesisHash, models.JSONMap{"stage": "prompt", "a": 1, "b": 3})
	require.NoError(t, err)
	require.NotEqual(t, first, changed)
}
