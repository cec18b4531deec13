package phi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewScannerRefusesFailOpenInProduction(t *testing.T) {
	audit := NewAuditWriter(nil)

	_, err := NewScanner(false, "production", audit, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fail-open")

	_, err = NewScanner(false, "development", audit, nil, nil)
	require.NoError(t, err)

	_, err = NewScanner(true, "production", audit, nil, nil)
	require.NoError(t, err)
}

func TestInspectReportsFindingsWithoutText(t *testing.T) {
	scanner, err := NewScanner(true, "production", NewAuditWriter(nil), nil, nil)
	require.NoError(t, err)

	report := scanner.Inspect("patient SSN is 123-45-6789", "precheck")
	require.False(t, report.Passed)
	require.Equal(t, 1, report.FindingsCount)
	require.Equal(t, RiskHigh, report.RiskLevel)
	require.Len(t, report.Findings, 1)
	require.Equal(t, TypeSSN, report.Findings[0].Type)

	clean := scanner.Inspect("summarize the cohort statistics", "precheck")
	require.True(t, clean.Passed)
	require.Zero(t, clean.FindingsCount)
	require.Equal(t, RiskNone, clean.RiskLevel)
}

func TestActionForStage(t *testing.T) {
	require.Equal(t, ActionScanClean, actionFor("prompt", true))
	require.Equal(t, ActionScanClean, actionFor("response", true))
	require.Equal(t, ActionBlockedPrompt, actionFor("prompt", false))
	require.Equal(t, ActionBlockedResponse, actionFor("response", false))
}
