package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

func TestDayWindow(t *testing.T) {
	svc := NewService(nil, time.UTC, nil)

	start, end, err := svc.dayWindow("2026-08-24")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), end)

	_, _, err = svc.dayWindow("24/08/2026")
	require.Error(t, err)
	require.Contains(t, err.Error(), "YYYY-MM-DD")

	_, _, err = svc.dayWindow("")
	require.Error(t, err)
}

func TestBuildSummaryRows(t *testing.T) {
	rows := buildSummaryRows("2026-08-24", []tierAggregate{
		{ModelTier: "NANO", Invocations: 10, InputTokens: 900, OutputTokens: 400, CostUsd: 0.02, CacheHits: 4},
		{ModelTier: "FRONTIER", Invocations: 2, InputTokens: 3000, OutputTokens: 1800, CostUsd: 0.75, CacheHits: 0},
	})

	require.Len(t, rows, 2)
	require.Equal(t, "2026-08-24", rows[0].Date)
	require.Equal(t, "NANO", rows[0].ModelTier)
	require.EqualValues(t, 10, rows[0].TotalInvocations)
	require.InDelta(t, 0.4, rows[0].CacheHitRate, 1e-9)
	require.InDelta(t, 0.02, rows[0].TotalCostUsd, 1e-9)
	require.Zero(t, rows[1].CacheHitRate)
}

func TestBuildSummaryRowsEmptyDay(t *testing.T) {
	require.Empty(t, buildSummaryRows("2026-08-24", nil))
}

func TestBuildUsageRows(t *testing.T) {
	rows := buildUsageRows("2026-08-24", []modelAggregate{
		{ModelID: "gpt-nano-1", Invocations: 8, InputTokens: 700, OutputTokens: 300, CostUsd: 0.015},
	})

	require.Len(t, rows, 1)
	require.Equal(t, "gpt-nano-1", rows[0].ModelID)
	require.EqualValues(t, 8, rows[0].Invocations)
	require.InDelta(t, 0.015, rows[0].CostUsd, 1e-9)
}

func TestToModelMapsRecord(t *testing.T) {
	from := routing.TierNano
	rec := routing.InvocationRecord{
		RequestID:      "req-1",
		BatchRequestID: "batch-9",
		Operation:      "SUMMARIZE",
		Tier:           routing.TierMini,
		ModelID:        "m-1",
		ProviderID:     "p-1",
		Attempt:        2,
		Terminal:       true,
		Success:        true,
		Escalated:      true,
		EscalatedFrom:  &from,
		EscalationPath: []string{"NANO", "MINI"},
		InputTokens:    120,
		OutputTokens:   480,
		CostUsd:        0.0021,
		LatencyMs:      850,
		QualityVerdict: "passed",
		Metadata:       map[string]interface{}{"project": "atlas"},
	}

	row := toModel(rec)
	require.Equal(t, "req-1", row.RequestID)
	require.Equal(t, "batch-9", row.BatchRequestID)
	require.Equal(t, "MINI", row.ModelTier)
	require.Equal(t, "NANO", row.EscalatedFrom)
	require.Equal(t, []string{"NANO", "MINI"}, []string(row.EscalationPath))
	require.True(t, row.Terminal)
	require.True(t, row.Escalated)
	require.EqualValues(t, 850, row.LatencyMs)
	require.Equal(t, "atlas", row.Metadata["project"])
}

func TestToModelWithoutEscalation(t *testing.T) {
	row := toModel(routing.InvocationRecord{
		RequestID: "req-2",
		Operation: "EXTRACT",
		Tier:      routing.TierNano,
		Terminal:  true,
		Success:   false,
		ErrorKind: "invalid_request",
	})
	require.Empty(t, row.EscalatedFrom)
	require.Empty(t, row.Metadata)
	require.Equal(t, "invalid_request", row.ErrorKind)
	require.Equal(t, "NANO", row.ModelTier)
}

func TestCheckBudgetDisabled(t *testing.T) {
	svc := NewService(nil, time.UTC, nil)
	spend, over, err := svc.CheckBudget(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, over)
	require.Zero(t, spend)
}
