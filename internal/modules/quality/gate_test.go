package quality

import (
	"context"
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

func checkByName(t *testing.T, verdict routing.Verdict, name string) routing.CheckResult {
	t.Helper()
	for _, chk := range verdict.Checks {
		if chk.Name == name {
			return chk
		}
	}
	t.Fatalf("verdict has no %q check: %+v", name, verdict.Checks)
	return routing.CheckResult{}
}

func TestEvaluateTextPasses(t *testing.T) {
	gate := NewGate(nil)

	verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "A short but perfectly valid answer.",
		TaskType: "SUMMARIZE",
		Format:   routing.FormatText,
	})

	require.True(t, verdict.Passed)
	require.Nil(t, parsed)
	require.True(t, checkByName(t, verdict, "non_empty").Passed)
}

func TestEvaluateEmptyContent(t *testing.T) {
	gate := NewGate(nil)

	for _, content := range []string{"", "   ", "\n\t "} {
		verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
			Content:  content,
			TaskType: "SUMMARIZE",
			Format:   routing.FormatText,
		})
		require.False(t, verdict.Passed)
		require.Nil(t, parsed)
		chk := checkByName(t, verdict, "non_empty")
		require.False(t, chk.Passed)
		require.NotEmpty(t, chk.Reason)
	}
}

func TestEvaluateInvalidJSON(t *testing.T) {
	gate := NewGate(nil)

	verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "definitely not json",
		TaskType: "EXTRACT",
		Format:   routing.FormatJSON,
	})

	require.False(t, verdict.Passed)
	require.Nil(t, parsed)
	chk := checkByName(t, verdict, "structural")
	require.False(t, chk.Passed)
	require.Equal(t, "invalid JSON", chk.Reason)
}

func TestEvaluateFencedJSON(t *testing.T) {
	gate := NewGate(nil)

	verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "```json\n{\"entities\": [\"a\", \"b\"]}\n```",
		TaskType: "EXTRACT",
		Format:   routing.FormatJSON,
	})

	require.True(t, verdict.Passed)
	require.NotNil(t, parsed)
	require.Equal(t, "EXTRACT", parsed.TaskType)
	require.Contains(t, parsed.Object, "entities")
}

func TestEvaluateRequiredKeys(t *testing.T) {
	gate := NewGate(nil)
	gate.RegisterSchema(Schema{
		TaskType:     "CLASSIFY",
		RequiredKeys: []string{"label", "confidence"},
	})

	verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"label": "oncology"}`,
		TaskType: "CLASSIFY",
		Format:   routing.FormatJSON,
	})
	require.False(t, verdict.Passed)
	require.Nil(t, parsed)
	chk := checkByName(t, verdict, "structural")
	require.Contains(t, chk.Reason, "confidence")

	verdict, parsed = gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"label": "oncology", "confidence": 0.91}`,
		TaskType: "CLASSIFY",
		Format:   routing.FormatJSON,
	})
	require.True(t, verdict.Passed)
	require.NotNil(t, parsed)
}

func TestEvaluateValidatorExpression(t *testing.T) {
	gate := NewGate(nil)
	gate.RegisterSchema(Schema{
		TaskType:    "CLASSIFY",
		ValidatorJS: "payload.confidence >= 0 && payload.confidence <= 1",
	})

	verdict, _ := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"label": "oncology", "confidence": 1.8}`,
		TaskType: "CLASSIFY",
		Format:   routing.FormatJSON,
	})
	require.False(t, verdict.Passed)
	require.Equal(t, "validator returned falsy", checkByName(t, verdict, "structural").Reason)

	verdict, parsed := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"label": "oncology", "confidence": 0.5}`,
		TaskType: "CLASSIFY",
		Format:   routing.FormatJSON,
	})
	require.True(t, verdict.Passed)
	require.NotNil(t, parsed)
}

func TestEvaluateValidatorThrow(t *testing.T) {
	gate := NewGate(nil)
	gate.RegisterSchema(Schema{
		TaskType:    "EXTRACT",
		ValidatorJS: `if (!Array.isArray(payload.entities)) { throw new Error("entities must be an array") } true`,
	})

	verdict, _ := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"entities": "not-a-list"}`,
		TaskType: "EXTRACT",
		Format:   routing.FormatJSON,
	})
	require.False(t, verdict.Passed)
	require.Contains(t, checkByName(t, verdict, "structural").Reason, "entities must be an array")
}

func TestEvaluateWordBounds(t *testing.T) {
	gate := NewGate(nil)

	verdict, _ := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "only three words",
		TaskType: "DRAFT",
		Format:   routing.FormatText,
		MinWords: 5,
	})
	require.False(t, verdict.Passed)
	require.Contains(t, checkByName(t, verdict, "bounds").Reason, "below minimum")

	verdict, _ = gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "one two three four five six",
		TaskType: "DRAFT",
		Format:   routing.FormatText,
		MaxWords: 4,
	})
	require.False(t, verdict.Passed)
	require.Contains(t, checkByName(t, verdict, "bounds").Reason, "above maximum")

	verdict, _ = gate.Evaluate(context.Background(), routing.Candidate{
		Content:  "one two three four five",
		TaskType: "DRAFT",
		Format:   routing.FormatText,
		MinWords: 2,
		MaxWords: 10,
	})
	require.True(t, verdict.Passed)
}

func TestEvaluateReportsEveryCheck(t *testing.T) {
	gate := NewGate(nil)

	verdict, _ := gate.Evaluate(context.Background(), routing.Candidate{
		Content:  `{"summary": "ok"}`,
		TaskType: "SUMMARIZE",
		Format:   routing.FormatJSON,
		MinWords: 1,
	})

	require.True(t, verdict.Passed)
	require.Len(t, verdict.Checks, 3)
	for _, chk := range verdict.Checks {
		require.True(t, chk.Passed, "check %s", chk.Name)
	}
}

func TestSchemaRegistryRoundTrip(t *testing.T) {
	gate := NewGate(nil)
	gate.RegisterSchema(Schema{TaskType: "extract", RequiredKeys: []string{"entities"}})
	gate.RegisterSchema(Schema{TaskType: "CLASSIFY"})

	schemas := gate.Schemas()
	require.Len(t, schemas, 2)
	require.Equal(t, "CLASSIFY", schemas[0].TaskType)
	require.Equal(t, "EXTRACT", schemas[1].TaskType)

	gate.RemoveSchema("classify")
	require.Len(t, gate.Schemas(), 1)
}
