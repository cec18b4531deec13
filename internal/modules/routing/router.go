package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Router composes the PHI gate, prompt cache, provider adapters, quality
// gate and cost ledger into one request cycle. It is constructed once at
// startup with injected dependencies and shared by reference; Route is safe
// for concurrent use.
type Router struct {
	adapters AdapterRegistry
	cache    PromptCache
	quality  QualityGate
	phi      PHIGate
	ledger   InvocationSink
	events   EventSink
	policy   PolicyFunc
	logger   *zap.Logger
}

// RouterDeps carries the collaborators for NewRouter. Cache and Events may
// be nil; everything else is required.
type RouterDeps struct {
	Adapters AdapterRegistry
	Cache    PromptCache
	Quality  QualityGate
	PHI      PHIGate
	Ledger   InvocationSink
	Events   EventSink
	Policy   PolicyFunc
	Logger   *zap.Logger
}

func NewRouter(deps RouterDeps) (*Router, error) {
	if deps.Adapters == nil {
		return nil, errors.New("routing: adapter registry is required")
	}
	if deps.Quality == nil {
		return nil, errors.New("routing: quality gate is required")
	}
	if deps.PHI == nil {
		return nil, errors.New("routing: phi gate is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("routing: invocation sink is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("routing: policy func is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Router{
		adapters: deps.Adapters,
		cache:    deps.Cache,
		quality:  deps.Quality,
		phi:      deps.PHI,
		ledger:   deps.Ledger,
		events:   deps.Events,
		policy:   deps.Policy,
		logger:   deps.Logger,
	}, nil
}

// Route runs one request through the full cycle:
// PHI pre-check, cache, provider, quality gate, PHI post-check, ledger
// write, cache store. Exactly one terminal ledger row is written per call,
// success or failure, including cancellation.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	pol := r.policy()

	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uuid.NewString()
	}
	if strings.TrimSpace(req.ChainKey) == "" {
		req.ChainKey = req.RequestID
	}

	startTier, err := validateRequest(&req, pol)
	if err != nil {
		r.record(ctx, req, attemptRecord{
			tier:     pol.FallbackTier,
			attempt:  1,
			terminal: true,
			errKind:  errKindInvalidRequest,
			errMsg:   err.Error(),
		})
		return nil, err
	}

	preScan, scanErr := r.phi.Scan(ctx, req.Prompt, ScanContext{
		Stage:     "prompt",
		ChainKey:  req.ChainKey,
		RequestID: req.RequestID,
		TaskType:  req.TaskType,
	})
	if scanErr != nil {
		failure := &PHIScanFailureError{Stage: "prompt", Err: scanErr}
		r.record(ctx, req, attemptRecord{
			tier: startTier, attempt: 1, terminal: true,
			errKind: errKindPHIScanFailure, errMsg: failure.Error(),
		})
		return nil, failure
	}
	if !preScan.Passed {
		detected := &PHIDetectedError{
			Stage:         "prompt",
			FindingsCount: preScan.FindingsCount,
			RiskLevel:     preScan.RiskLevel,
			DetectionIDs:  preScan.DetectionIDs,
		}
		r.record(ctx, req, attemptRecord{
			tier: startTier, attempt: 1, terminal: true,
			errKind: errKindPHIDetected, errMsg: detected.Error(),
		})
		r.publish("phi.blocked", map[string]interface{}{
			"requestId": req.RequestID,
			"taskType":  req.TaskType,
			"stage":     "prompt",
			"riskLevel": preScan.RiskLevel,
			"findings":  preScan.FindingsCount,
		})
		return nil, detected
	}

	if !pol.CacheEnabled || r.cache == nil {
		return r.executeLadder(ctx, req, startTier, pol)
	}

	key := CacheKey(req, startTier)
	var (
		won        bool
		winnerResp *Response
	)
	entry, _, fetchErr := r.cache.Fetch(ctx, key, func(fillCtx context.Context) (*CacheEntry, error) {
		won = true
		resp, execErr := r.executeLadder(fillCtx, req, startTier, pol)
		if execErr != nil {
			return nil, execErr
		}
		winnerResp = resp
		return entryFromResponse(key, req, resp), nil
	})

	// The fill winner already wrote its terminal row inside executeLadder.
	if won {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return winnerResp, nil
	}
	if fetchErr != nil {
		r.record(ctx, req, attemptRecord{
			tier: startTier, attempt: 1, terminal: true,
			errKind: classifyErrKind(fetchErr), errMsg: fetchErr.Error(),
		})
		return nil, fetchErr
	}

	resp := responseFromEntry(entry, req)
	r.record(ctx, req, attemptRecord{
		tier:     resp.ModelTier,
		modelID:  resp.ModelID,
		attempt:  1,
		terminal: true,
		success:  true,
		cacheHit: true,
		verdict:  verdictLabel(resp.QualityGate),
	})
	return resp, nil
}

// executeLadder runs the provider/quality/escalation loop starting at tier.
// It writes one non-terminal row per escalated attempt and exactly one
// terminal row before returning.
func (r *Router) executeLadder(ctx context.Context, req Request, startTier ModelTier, pol Policy) (*Response, error) {
	maxEsc := pol.MaxEscalations
	if req.MaxEscalations != nil {
		maxEsc = *req.MaxEscalations
	}
	if req.ForceTier != nil {
		maxEsc = 0
	}

	var (
		tier          = startTier
		promotions    = 0
		attempt       = 0
		escalatedFrom *ModelTier
		path          = []string{startTier.String()}
		accumChecks   []CheckResult
		tried         []ModelTier
	)

	for {
		attempt++
		tried = append(tried, tier)

		adapter, ok := r.adapters.ForTier(tier)
		if !ok {
			failure := &ProviderError{Tier: tier, Err: fmt.Errorf("no adapter configured for tier %s", tier)}
			r.record(ctx, req, attemptRecord{
				tier: tier, attempt: attempt, terminal: true,
				escalatedFrom: escalatedFrom, path: path,
				errKind: errKindProvider, errMsg: failure.Error(),
			})
			return nil, failure
		}

		result, invErr := r.invokeWithRetry(ctx, adapter, req, pol)
		if invErr != nil {
			if ctx.Err() != nil {
				r.record(ctx, req, attemptRecord{
					tier: tier, adapter: adapter, attempt: attempt, terminal: true,
					escalatedFrom: escalatedFrom, path: path,
					errKind: errKindCancelled, errMsg: ctx.Err().Error(),
				})
				return nil, ctx.Err()
			}
			next := NextTier(tier, promotions, maxEsc)
			if next == nil {
				failure := &ProviderError{
					Tier: tier, ProviderID: adapter.ProviderID(), ModelID: adapter.ModelID(), Err: invErr,
				}
				r.record(ctx, req, attemptRecord{
					tier: tier, adapter: adapter, attempt: attempt, terminal: true,
					escalatedFrom: escalatedFrom, path: path,
					errKind: errKindProvider, errMsg: failure.Error(),
				})
				return nil, failure
			}
			r.record(ctx, req, attemptRecord{
				tier: tier, adapter: adapter, attempt: attempt,
				escalatedFrom: escalatedFrom, path: path,
				errKind: errKindProvider, errMsg: invErr.Error(),
			})
			r.logger.Info("escalating after provider failure",
				zap.String("request_id", req.RequestID),
				zap.String("from", tier.String()),
				zap.String("to", next.String()),
				zap.Error(invErr))
			from := tier
			escalatedFrom = &from
			tier = *next
			promotions++
			path = append(path, tier.String())
			continue
		}

		verdict, parsed := r.quality.Evaluate(ctx, Candidate{
			Content:  result.Text,
			TaskType: req.TaskType,
			Format:   req.ResponseFormat,
			MinWords: req.MinWords,
			MaxWords: req.MaxWords,
		})
		cost := adapter.Pricing().Cost(result.InputTokens, result.OutputTokens)

		if !verdict.Passed {
			accumChecks = append(accumChecks, failedChecks(verdict)...)
			next := NextTier(tier, promotions, maxEsc)
			if next == nil {
				failure := &QualityGateFailedError{TiersAttempted: tried, Checks: accumChecks}
				r.record(ctx, req, attemptRecord{
					tier: tier, adapter: adapter, attempt: attempt, terminal: true,
					escalatedFrom: escalatedFrom, path: path, usage: result, cost: cost,
					errKind: errKindQualityGate, errMsg: failure.Error(), verdict: "failed",
				})
				return nil, failure
			}
			// Failed attempts stay on the ledger so escalation cost is visible.
			r.record(ctx, req, attemptRecord{
				tier: tier, adapter: adapter, attempt: attempt,
				escalatedFrom: escalatedFrom, path: path, usage: result, cost: cost,
				errKind: errKindQualityGate, errMsg: verdictReasons(verdict), verdict: "failed",
			})
			r.logger.Info("escalating after quality failure",
				zap.String("request_id", req.RequestID),
				zap.String("from", tier.String()),
				zap.String("to", next.String()),
				zap.String("reasons", verdictReasons(verdict)))
			from := tier
			escalatedFrom = &from
			tier = *next
			promotions++
			path = append(path, tier.String())
			continue
		}

		if pol.ScanResponses {
			postScan, postErr := r.phi.Scan(ctx, result.Text, ScanContext{
				Stage:     "response",
				ChainKey:  req.ChainKey,
				RequestID: req.RequestID,
				TaskType:  req.TaskType,
			})
			if postErr != nil {
				failure := &PHIScanFailureError{Stage: "response", Err: postErr}
				r.record(ctx, req, attemptRecord{
					tier: tier, adapter: adapter, attempt: attempt, terminal: true,
					escalatedFrom: escalatedFrom, path: path, usage: result, cost: cost,
					errKind: errKindPHIScanFailure, errMsg: failure.Error(), verdict: "passed",
				})
				return nil, failure
			}
			if !postScan.Passed {
				detected := &PHIDetectedError{
					Stage:         "response",
					FindingsCount: postScan.FindingsCount,
					RiskLevel:     postScan.RiskLevel,
					DetectionIDs:  postScan.DetectionIDs,
				}
				r.record(ctx, req, attemptRecord{
					tier: tier, adapter: adapter, attempt: attempt, terminal: true,
					escalatedFrom: escalatedFrom, path: path, usage: result, cost: cost,
					errKind: errKindPHIDetected, errMsg: detected.Error(), verdict: "passed",
				})
				r.publish("phi.blocked", map[string]interface{}{
					"requestId": req.RequestID,
					"taskType":  req.TaskType,
					"stage":     "response",
					"riskLevel": postScan.RiskLevel,
					"findings":  postScan.FindingsCount,
				})
				return nil, detected
			}
		}

		resp := &Response{
			Content:       result.Text,
			Parsed:        parsed,
			QualityGate:   verdict,
			Usage:         Usage{InputTokens: result.InputTokens, OutputTokens: result.OutputTokens, EstimatedCostUsd: cost},
			ModelTier:     tier,
			ModelID:       adapter.ModelID(),
			ProviderID:    adapter.ProviderID(),
			CacheHit:      false,
			EscalatedFrom: escalatedFrom,
			LatencyMs:     result.LatencyMs,
		}
		r.record(ctx, req, attemptRecord{
			tier: tier, adapter: adapter, attempt: attempt, terminal: true, success: true,
			escalatedFrom: escalatedFrom, path: path, usage: result, cost: cost,
			verdict: "passed",
		})
		r.publish("invocation.completed", map[string]interface{}{
			"requestId": req.RequestID,
			"taskType":  req.TaskType,
			"tier":      tier.String(),
			"modelId":   adapter.ModelID(),
			"costUsd":   cost,
			"escalated": escalatedFrom != nil,
		})
		return resp, nil
	}
}

// invokeWithRetry retries transport failures at the same tier with bounded
// exponential backoff before the attempt becomes escalation-eligible.
func (r *Router) invokeWithRetry(ctx context.Context, adapter Adapter, req Request, pol Policy) (*AdapterResult, error) {
	call := AdapterCall{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	}

	attempts := pol.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(backoffDelay(pol.RetryBaseBackoff, pol.RetryMaxBackoff, i)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if pol.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, pol.RequestTimeout)
		}
		result, err := adapter.Invoke(callCtx, call)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if max > 0 && d > max {
		d = max
	}
	return d
}

const (
	errKindInvalidRequest = "invalid_request"
	errKindPHIDetected    = "phi_detected"
	errKindPHIScanFailure = "phi_scan_failure"
	errKindQualityGate    = "quality_gate_failed"
	errKindProvider       = "provider_error"
	errKindCancelled      = "cancelled"
)

// classifyErrKind maps a shared fill error onto the follower's own row.
func classifyErrKind(err error) string {
	var (
		invalidErr  *InvalidRequestError
		detectedErr *PHIDetectedError
		scanErr     *PHIScanFailureError
		qualityErr  *QualityGateFailedError
		providerErr *ProviderError
	)
	switch {
	case errors.As(err, &invalidErr):
		return errKindInvalidRequest
	case errors.As(err, &detectedErr):
		return errKindPHIDetected
	case errors.As(err, &scanErr):
		return errKindPHIScanFailure
	case errors.As(err, &qualityErr):
		return errKindQualityGate
	case errors.As(err, &providerErr):
		return errKindProvider
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errKindCancelled
	default:
		return errKindProvider
	}
}

type attemptRecord struct {
	tier          ModelTier
	adapter       Adapter
	modelID       string
	attempt       int
	terminal      bool
	success       bool
	cacheHit      bool
	escalatedFrom *ModelTier
	path          []string
	usage         *AdapterResult
	cost          float64
	errKind       string
	errMsg        string
	verdict       string
}

func (r *Router) record(ctx context.Context, req Request, ar attemptRecord) {
	rec := InvocationRecord{
		RequestID:      req.RequestID,
		BatchRequestID: req.BatchRequestID,
		Operation:      req.TaskType,
		Tier:           ar.tier,
		ModelID:        ar.modelID,
		Attempt:        ar.attempt,
		Terminal:       ar.terminal,
		Success:        ar.success,
		CacheHit:       ar.cacheHit,
		Escalated:      ar.escalatedFrom != nil,
		EscalatedFrom:  ar.escalatedFrom,
		EscalationPath: ar.path,
		CostUsd:        ar.cost,
		ErrorKind:      ar.errKind,
		ErrorMessage:   ar.errMsg,
		QualityVerdict: ar.verdict,
	}
	if ar.adapter != nil {
		rec.ModelID = ar.adapter.ModelID()
		rec.ProviderID = ar.adapter.ProviderID()
	}
	if ar.usage != nil {
		rec.InputTokens = ar.usage.InputTokens
		rec.OutputTokens = ar.usage.OutputTokens
		rec.LatencyMs = ar.usage.LatencyMs
	}
	if len(req.Metadata) > 0 {
		rec.Metadata = make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			rec.Metadata[k] = v
		}
	}
	if err := r.ledger.Record(ctx, rec); err != nil {
		r.logger.Warn("ledger write failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}
}

func (r *Router) publish(event string, payload interface{}) {
	if r.events != nil {
		r.events.Publish(event, payload)
	}
}

func validateRequest(req *Request, pol Policy) (ModelTier, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return 0, &InvalidRequestError{Reason: "prompt is required"}
	}
	if req.MaxTokens <= 0 {
		return 0, &InvalidRequestError{Reason: "maxTokens must be positive"}
	}
	switch req.ResponseFormat {
	case "":
		req.ResponseFormat = FormatText
	case FormatText, FormatJSON:
	default:
		return 0, &InvalidRequestError{Reason: fmt.Sprintf("unsupported responseFormat %q", req.ResponseFormat)}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return 0, &InvalidRequestError{Reason: "temperature must be between 0 and 2"}
	}
	if req.MaxEscalations != nil && *req.MaxEscalations < 0 {
		return 0, &InvalidRequestError{Reason: "maxEscalations cannot be negative"}
	}
	if req.MinWords < 0 || (req.MaxWords > 0 && req.MaxWords < req.MinWords) {
		return 0, &InvalidRequestError{Reason: "word bounds are inconsistent"}
	}

	task := strings.ToUpper(strings.TrimSpace(req.TaskType))
	if task == "" {
		return 0, &InvalidRequestError{Reason: "taskType is required"}
	}
	req.TaskType = task

	if req.ForceTier != nil {
		return *req.ForceTier, nil
	}
	if tier, ok := pol.DefaultTiers[task]; ok {
		return tier, nil
	}
	if !pol.AllowUnknownTaskTypes {
		return 0, &InvalidRequestError{Reason: fmt.Sprintf("unknown taskType %q", task)}
	}
	return pol.FallbackTier, nil
}

func entryFromResponse(key string, req Request, resp *Response) *CacheEntry {
	return &CacheEntry{
		Key:       key,
		Content:   resp.Content,
		TaskType:  req.TaskType,
		ModelTier: resp.ModelTier.String(),
		ModelID:   resp.ModelID,
		Verdict:   resp.QualityGate,
		CreatedAt: time.Now(),
	}
}

// responseFromEntry rebuilds a caller response from a cached entry. Usage
// is zero on hits; nothing was spent.
func responseFromEntry(entry *CacheEntry, req Request) *Response {
	resp := &Response{
		Content:     entry.Content,
		QualityGate: entry.Verdict,
		ModelID:     entry.ModelID,
		CacheHit:    true,
	}
	if tier, ok := ParseTier(entry.ModelTier); ok {
		resp.ModelTier = tier
	}
	if req.ResponseFormat == FormatJSON {
		if obj, err := DecodeJSONPayload(entry.Content); err == nil {
			resp.Parsed = &ParsedPayload{TaskType: req.TaskType, Object: obj}
		}
	}
	return resp
}

func failedChecks(v Verdict) []CheckResult {
	out := make([]CheckResult, 0, len(v.Checks))
	for _, chk := range v.Checks {
		if !chk.Passed {
			out = append(out, chk)
		}
	}
	return out
}

func verdictReasons(v Verdict) string {
	reasons := make([]string, 0, len(v.Checks))
	for _, chk := range v.Checks {
		if !chk.Passed {
			reasons = append(reasons, chk.Name+": "+chk.Reason)
		}
	}
	return strings.Join(reasons, "; ")
}

func verdictLabel(v Verdict) string {
	if v.Passed {
		return "passed"
	}
	return "failed"
}
