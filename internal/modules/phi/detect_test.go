package phi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func typesOf(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Type)
	}
	return out
}

func TestDetectSSN(t *testing.T) {
	findings := detect("patient SSN is 123-45-6789, please summarize", "prompt")
	require.Len(t, findings, 1)
	require.Equal(t, TypeSSN, findings[0].Type)
	require.Equal(t, SeverityHigh, findings[0].Severity)
	require.Equal(t, 15, findings[0].StartIndex)
	require.Equal(t, 26, findings[0].EndIndex)
}

func TestDetectCleanText(t *testing.T) {
	findings := detect("Summarize the methods section of this oncology trial protocol.", "prompt")
	require.Empty(t, findings)
	require.Equal(t, RiskNone, riskLevel(findings))
}

func TestDetectByType(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"MRN", "chart MRN: 48372915 shows improvement", TypeMRN},
		{"HealthPlan", "member id: ZX48-29103 renewed", TypeHealthPlanID},
		{"Account", "billing account #: 4837291045", TypeAccount},
		{"PhoneDashed", "call 555-867-5309 tomorrow", TypePhone},
		{"PhoneParens", "(555) 867-5309 is the contact", TypePhone},
		{"Email", "send results to jane.doe@example.org please", TypeEmail},
		{"DOBKeyword", "DOB: 04/12/1987, followup in May", TypeDateOfBirth},
		{"IPAddress", "submitted from 192.168.10.44 at noon", TypeIPAddress},
		{"ZipPlus4", "mailing address zip 94110-1234", TypeZipPlus4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := detect(tt.text, "prompt")
			require.NotEmpty(t, findings, "expected a finding in %q", tt.text)
			require.Contains(t, typesOf(findings), tt.want)
		})
	}
}

func TestDetectBareDateIsNotDOB(t *testing.T) {
	findings := detect("the study ran from 04/12/2021 to 09/30/2021", "prompt")
	require.NotContains(t, typesOf(findings), TypeDateOfBirth)
}

func TestRiskLevels(t *testing.T) {
	low := detect("reach me at qa-team@example.org", "prompt")
	require.Equal(t, RiskLow, riskLevel(low))

	medium := detect("email qa-team@example.org or call 555-867-5309", "prompt")
	require.Equal(t, RiskMedium, riskLevel(medium))

	highByCount := detect("email a@example.org, backup b@example.org, or call 555-867-5309", "prompt")
	require.GreaterOrEqual(t, len(highByCount), 3)
	require.Equal(t, RiskHigh, riskLevel(highByCount))

	highByType := detect("SSN 123-45-6789 on file", "prompt")
	require.Equal(t, RiskHigh, riskLevel(highByType))
}

func TestDetectionIDStableAndSectionScoped(t *testing.T) {
	text := "patient SSN is 123-45-6789"

	first := detect(text, "prompt")
	second := detect(text, "prompt")
	require.Equal(t, first[0].DetectionID, second[0].DetectionID)

	inResponse := detect(text, "response")
	require.NotEqual(t, first[0].DetectionID, inResponse[0].DetectionID)
}

func TestFindingsNeverCarryMatchedText(t *testing.T) {
	secret := "123-45-6789"
	findings := detect("ssn "+secret+" leaked", "prompt")
	require.Len(t, findings, 1)

	f := findings[0]
	require.NotContains(t, f.Type, secret)
	require.NotContains(t, f.DetectionID, secret)
	require.NotContains(t, f.Severity, secret)
}

func TestFindingsSortedByPosition(t *testing.T) {
	findings := detect("first a@example.org then 555-867-5309 then b@example.org", "prompt")
	require.GreaterOrEqual(t, len(findings), 3)
	for i := 1; i < len(findings); i++ {
		require.LessOrEqual(t, findings[i-1].StartIndex, findings[i].StartIndex)
	}
}
