package routing

import (
	"fmt"
	"strings"
)

// InvalidRequestError rejects a malformed request before any provider work.
// Never retried.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// PHIDetectedError aborts the call chain when the scanner finds protected
// health information. Carries detection metadata only, never matched text.
type PHIDetectedError struct {
	Stage         string // "prompt" or "response"
	FindingsCount int
	RiskLevel     string
	DetectionIDs  []string
}

func (e *PHIDetectedError) Error() string {
	return fmt.Sprintf("phi detected in %s: %d finding(s), risk %s", e.Stage, e.FindingsCount, e.RiskLevel)
}

// PHIScanFailureError aborts the call chain when the scanner itself fails
// and the gate runs fail-closed.
type PHIScanFailureError struct {
	Stage string
	Err   error
}

func (e *PHIScanFailureError) Error() string {
	return fmt.Sprintf("phi scan failed on %s: %v", e.Stage, e.Err)
}

func (e *PHIScanFailureError) Unwrap() error { return e.Err }

// QualityGateFailedError is terminal after the escalation budget is spent.
// Checks accumulates every failed check across all attempted tiers.
type QualityGateFailedError struct {
	TiersAttempted []ModelTier
	Checks         []CheckResult
}

func (e *QualityGateFailedError) Error() string {
	reasons := make([]string, 0, len(e.Checks))
	for _, chk := range e.Checks {
		if !chk.Passed {
			reasons = append(reasons, chk.Name+": "+chk.Reason)
		}
	}
	return fmt.Sprintf("quality gate failed after %d tier(s): %s",
		len(e.TiersAttempted), strings.Join(reasons, "; "))
}

// ProviderError is a transport-level failure (timeout, 5xx, connection)
// after same-tier retries were exhausted at the top tier.
type ProviderError struct {
	Tier       ModelTier
	ProviderID string
	ModelID    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s, tier %s): %v", e.ProviderID, e.ModelID, e.Tier, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
