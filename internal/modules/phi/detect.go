package phi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
)

// Identifier types reported by the detectors.
const (
	TypeSSN          = "ssn"
	TypeMRN          = "mrn"
	TypeHealthPlanID = "health_plan_id"
	TypeAccount      = "account_number"
	TypePhone        = "phone"
	TypeEmail        = "email"
	TypeDateOfBirth  = "date_of_birth"
	TypeIPAddress    = "ip_address"
	TypeZipPlus4     = "zip_plus4"
)

// Risk levels for a scan outcome.
const (
	RiskNone   = "none"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Finding locates one identifier inside the scanned text. It carries the
// type and span only; the matched text itself is never stored or returned.
type Finding struct {
	Type        string `json:"type"`
	StartIndex  int    `json:"startIndex"`
	EndIndex    int    `json:"endIndex"`
	Severity    string `json:"severity"`
	DetectionID string `json:"detectionId"`
}

type detector struct {
	typ      string
	severity string
	re       *regexp.Regexp
}

// highRiskTypes force a high risk level on any match, regardless of count.
var highRiskTypes = map[string]bool{
	TypeSSN:          true,
	TypeMRN:          true,
	TypeAccount:      true,
	TypeHealthPlanID: true,
}

// The direct-identifier detectors below require a labelling keyword so a
// bare number in research text does not trip them; the format-specific
// ones (SSN, ZIP+4, email, phone, IP) match on shape alone.
var detectors = []detector{
	{TypeSSN, SeverityHigh, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{TypeMRN, SeverityHigh, regexp.MustCompile(`(?i)\bMRN\s*[:#]?\s*\d{5,10}\b`)},
	{TypeHealthPlanID, SeverityHigh, regexp.MustCompile(`(?i)\b(?:member|policy|health\s*plan)\s*(?:id|no|number|#)\s*[:#]?\s*[A-Z0-9][A-Z0-9-]{5,14}\b`)},
	{TypeAccount, SeverityHigh, regexp.MustCompile(`(?i)\b(?:account|acct)\s*(?:id|no|number)?\s*[:#]{1,2}\s*\d{6,14}\b`)},
	{TypePhone, SeverityMedium, regexp.MustCompile(`(?:\+?1[-.\s])?\(?\b\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
	{TypeEmail, SeverityMedium, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{TypeDateOfBirth, SeverityMedium, regexp.MustCompile(`(?i)\b(?:dob|date\s+of\s+birth|born\s+on)\s*[:#]?\s*(?:\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)},
	{TypeIPAddress, SeverityMedium, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{TypeZipPlus4, SeverityMedium, regexp.MustCompile(`\b\d{5}-\d{4}\b`)},
}

// detect runs every detector over the text and returns findings sorted by
// position. section feeds the detection id so the same span reported from
// a prompt and a response gets distinct, stable ids.
func detect(text, section string) []Finding {
	if text == "" {
		return nil
	}

	var findings []Finding
	for _, d := range detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Type:        d.typ,
				StartIndex:  loc[0],
				EndIndex:    loc[1],
				Severity:    d.severity,
				DetectionID: detectionID(section, d.typ, loc[0], loc[1]),
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].StartIndex != findings[j].StartIndex {
			return findings[i].StartIndex < findings[j].StartIndex
		}
		return findings[i].Type < findings[j].Type
	})
	return findings
}

// detectionID derives a stable identifier from the span coordinates alone,
// so audit rows and API responses can reference a finding without carrying
// any matched text.
func detectionID(section, typ string, start, end int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", section, typ, start, end)))
	return hex.EncodeToString(sum[:8])
}

// riskLevel grades a finding set. Any high-risk identifier dominates, then
// the count decides.
func riskLevel(findings []Finding) string {
	if len(findings) == 0 {
		return RiskNone
	}
	for _, f := range findings {
		if highRiskTypes[f.Type] {
			return RiskHigh
		}
	}
	switch {
	case len(findings) >= 3:
		return RiskHigh
	case len(findings) >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func detectionIDs(findings []Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.DetectionID)
	}
	return ids
}
