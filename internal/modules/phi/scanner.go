package phi

import (
	"context"
	"fmt"
	"strings"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/alerts"
	"go.uber.org/zap"
)

// Report is the full outcome of a standalone scan. Findings carry spans
// and types only, never the matched text.
type Report struct {
	Passed        bool      `json:"passed"`
	FindingsCount int       `json:"findingsCount"`
	RiskLevel     string    `json:"riskLevel"`
	Findings      []Finding `json:"findings"`
}

// Scanner detects protected health information with in-process pattern
// matching and appends one audit record per scan. It fails closed: when
// the audit trail cannot be written, the text is treated as unsafe.
type Scanner struct {
	failClosed bool
	audit      *AuditWriter
	alerts     *alerts.Service
	logger     *zap.Logger
}

// NewScanner refuses a fail-open configuration anywhere but development.
func NewScanner(failClosed bool, env string, audit *AuditWriter, alertSvc *alerts.Service, logger *zap.Logger) (*Scanner, error) {
	if !failClosed && env != "development" {
		return nil, fmt.Errorf("phi scanner cannot run fail-open in %q environment", env)
	}
	if audit == nil {
		return nil, fmt.Errorf("phi scanner requires an audit writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		failClosed: failClosed,
		audit:      audit,
		alerts:     alertSvc,
		logger:     logger.Named("PHIScanner"),
	}, nil
}

// Scan checks text bound for (stage "prompt") or returned by (stage
// "response") an upstream model.
func (s *Scanner) Scan(ctx context.Context, text string, sc routing.ScanContext) (routing.ScanResult, error) {
	report := s.Inspect(text, sc.Stage)

	chainKey := strings.TrimSpace(sc.ChainKey)
	if chainKey == "" {
		chainKey = sc.RequestID
	}

	details := models.JSONMap{
		"stage":         sc.Stage,
		"taskType":      sc.TaskType,
		"textLength":    len(text),
		"findingsCount": report.FindingsCount,
		"riskLevel":     report.RiskLevel,
	}
	if ids := collectIDs(report.Findings); len(ids) > 0 {
		details["detectionIds"] = ids
	}

	if _, err := s.audit.Append(ctx, chainKey, actionFor(sc.Stage, report.Passed), sc.RequestID, details); err != nil {
		if s.failClosed {
			return routing.ScanResult{}, fmt.Errorf("phi audit write failed: %w", err)
		}
		s.logger.Warn("phi audit write failed, continuing fail-open",
			zap.String("chain_key", chainKey),
			zap.Error(err))
	}

	if !report.Passed && report.RiskLevel == RiskHigh && s.alerts != nil {
		go s.alerts.SendThrottled(
			"phi:"+chainKey,
			"critical",
			"High-risk PHI detected",
			fmt.Sprintf("stage=%s taskType=%s findings=%d chainKey=%s",
				sc.Stage, sc.TaskType, report.FindingsCount, chainKey),
		)
	}

	return routing.ScanResult{
		Passed:        report.Passed,
		FindingsCount: report.FindingsCount,
		RiskLevel:     report.RiskLevel,
		DetectionIDs:  detectionIDs(report.Findings),
	}, nil
}

// Inspect runs the detectors without touching the audit trail. The HTTP
// pre-submission check uses it to show callers what would be blocked.
func (s *Scanner) Inspect(text, section string) Report {
	findings := detect(text, section)
	return Report{
		Passed:        len(findings) == 0,
		FindingsCount: len(findings),
		RiskLevel:     riskLevel(findings),
		Findings:      findings,
	}
}

// Audit exposes the chain writer for the read-side endpoints.
func (s *Scanner) Audit() *AuditWriter { return s.audit }

func actionFor(stage string, passed bool) string {
	if passed {
		return ActionScanClean
	}
	if stage == "response" {
		return ActionBlockedResponse
	}
	return ActionBlockedPrompt
}

func collectIDs(findings []Finding) []interface{} {
	if len(findings) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.DetectionID)
	}
	return out
}
