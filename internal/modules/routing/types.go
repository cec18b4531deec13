package routing

import (
	"context"
	"time"
)

// ResponseFormat constrains the shape the caller expects back.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Request is one routing call. Immutable once submitted; the router never
// mutates it and retains no reference after Route returns.
type Request struct {
	RequestID      string
	TaskType       string
	Prompt         string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	ResponseFormat ResponseFormat
	ForceTier      *ModelTier
	MaxEscalations *int
	MinWords       int
	MaxWords       int
	ChainKey       string
	BatchRequestID string
	Metadata       map[string]string
}

// Usage is the token and cost accounting attached to a Response.
type Usage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	EstimatedCostUsd float64 `json:"estimatedCostUsd"`
}

// CheckResult is one quality-gate check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Verdict is the aggregate quality-gate outcome for one candidate.
type Verdict struct {
	Passed bool          `json:"passed"`
	Checks []CheckResult `json:"checks"`
}

// ParsedPayload is the decoded object for JSON-format responses, tagged
// with the task type it was validated against.
type ParsedPayload struct {
	TaskType string                 `json:"taskType"`
	Object   map[string]interface{} `json:"object"`
}

// Response is the terminal result of a routed request. Owned by the caller
// once returned.
type Response struct {
	Content       string         `json:"content"`
	Parsed        *ParsedPayload `json:"parsed,omitempty"`
	QualityGate   Verdict        `json:"qualityGate"`
	Usage         Usage          `json:"usage"`
	ModelTier     ModelTier      `json:"-"`
	ModelID       string         `json:"modelId"`
	ProviderID    string         `json:"providerId"`
	CacheHit      bool           `json:"cacheHit"`
	EscalatedFrom *ModelTier     `json:"-"`
	LatencyMs     int64          `json:"latencyMs"`
}

// Candidate is a raw provider response handed to the quality gate.
type Candidate struct {
	Content  string
	TaskType string
	Format   ResponseFormat
	MinWords int
	MaxWords int
}

// QualityGate evaluates a candidate without issuing further model calls.
type QualityGate interface {
	Evaluate(ctx context.Context, candidate Candidate) (Verdict, *ParsedPayload)
}

// ScanContext tells the scanner where the text came from, for the audit
// trail. ChainKey groups records into one tamper-evident chain.
type ScanContext struct {
	Stage     string // "prompt" or "response"
	ChainKey  string
	RequestID string
	TaskType  string
}

// ScanResult is the PHI-free outcome of one scan.
type ScanResult struct {
	Passed        bool
	FindingsCount int
	RiskLevel     string
	DetectionIDs  []string
}

// PHIGate scans text fail-closed. Every call appends one audit record,
// pass or fail. A non-nil error means the scan itself failed.
type PHIGate interface {
	Scan(ctx context.Context, text string, sc ScanContext) (ScanResult, error)
}

// CacheEntry is a stored completion. Mutated only by the cache component.
type CacheEntry struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	TaskType  string    `json:"task_type"`
	ModelTier string    `json:"model_tier"`
	ModelID   string    `json:"model_id"`
	Verdict   Verdict   `json:"verdict"`
	CreatedAt time.Time `json:"created_at"`
}

// FillFunc computes the entry for a cache miss. Runs at most once per key
// across concurrent callers.
type FillFunc func(ctx context.Context) (*CacheEntry, error)

// PromptCache provides content-addressed lookups with in-flight dedup.
// The bool reports whether the entry was served from cache: false for the
// caller whose fill executed, true for direct hits and fill followers.
type PromptCache interface {
	Fetch(ctx context.Context, key string, fill FillFunc) (*CacheEntry, bool, error)
}

// AdapterCall is the provider-facing slice of a request.
type AdapterCall struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// AdapterResult carries the raw provider output. TokensEstimated marks
// counts derived heuristically rather than reported by the provider.
type AdapterResult struct {
	Text            string
	InputTokens     int
	OutputTokens    int
	TokensEstimated bool
	LatencyMs       int64
}

// Pricing converts token counts to USD for one tier assignment.
type Pricing struct {
	InputCostPer1K  float64 `json:"inputCostPer1k"`
	OutputCostPer1K float64 `json:"outputCostPer1k"`
}

func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputCostPer1K + float64(outputTokens)/1000*p.OutputCostPer1K
}

// Adapter invokes one configured model backend. Implementations honor the
// context deadline on every call.
type Adapter interface {
	ProviderID() string
	ModelID() string
	Pricing() Pricing
	Invoke(ctx context.Context, call AdapterCall) (*AdapterResult, error)
}

// AdapterRegistry resolves the adapter configured for a tier.
type AdapterRegistry interface {
	ForTier(tier ModelTier) (Adapter, bool)
}

// InvocationRecord is one ledger row. Terminal rows close a Route call;
// non-terminal rows are escalated attempts kept for cost visibility.
type InvocationRecord struct {
	RequestID      string
	BatchRequestID string
	Operation      string
	Tier           ModelTier
	ModelID        string
	ProviderID     string
	Attempt        int
	Terminal       bool
	Success        bool
	CacheHit       bool
	Escalated      bool
	EscalatedFrom  *ModelTier
	EscalationPath []string
	InputTokens    int
	OutputTokens   int
	CostUsd        float64
	LatencyMs      int64
	ErrorKind      string
	ErrorMessage   string
	QualityVerdict string
	Metadata       map[string]interface{}
}

// InvocationSink appends ledger rows. Append-only; rows are never mutated.
type InvocationSink interface {
	Record(ctx context.Context, rec InvocationRecord) error
}

// EventSink publishes ops-feed events. Implementations must not block.
type EventSink interface {
	Publish(event string, payload interface{})
}

// Policy is the routing configuration snapshot for one request. Resolved
// per call so runtime settings changes take effect without restart.
type Policy struct {
	DefaultTiers          map[string]ModelTier
	FallbackTier          ModelTier
	AllowUnknownTaskTypes bool
	MaxEscalations        int
	RetryMaxAttempts      int
	RetryBaseBackoff      time.Duration
	RetryMaxBackoff       time.Duration
	RequestTimeout        time.Duration
	CacheEnabled          bool
	ScanResponses         bool
}

// PolicyFunc returns the current effective policy.
type PolicyFunc func() Policy
