package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"
)

type adapterOutcome struct {
	text string
	err  error
}

// fakeAdapter replays scripted outcomes; the last one repeats forever.
type fakeAdapter struct {
	provider string
	model    string
	pricing  Pricing
	delay    time.Duration

	mu      sync.Mutex
	calls   int
	results []adapterOutcome
}

func (f *fakeAdapter) ProviderID() string { return f.provider }
func (f *fakeAdapter) ModelID() string    { return f.model }
func (f *fakeAdapter) Pricing() Pricing   { return f.pricing }

func (f *fakeAdapter) Invoke(ctx context.Context, _ AdapterCall) (*AdapterResult, error) {
	f.mu.Lock()
	f.calls++
	var out adapterOutcome
	if len(f.results) > 0 {
		out = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if out.err != nil {
		return nil, out.err
	}
	return &AdapterResult{Text: out.text, InputTokens: 100, OutputTokens: 50, LatencyMs: 3}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRegistry map[ModelTier]*fakeAdapter

func (r fakeRegistry) ForTier(tier ModelTier) (Adapter, bool) {
	a, ok := r[tier]
	if !ok {
		return nil, false
	}
	return a, true
}

// fakeGate fails empty content, and for JSON-format candidates anything
// that does not parse.
type fakeGate struct{}

func (fakeGate) Evaluate(_ context.Context, cand Candidate) (Verdict, *ParsedPayload) {
	if strings.TrimSpace(cand.Content) == "" {
		return Verdict{Checks: []CheckResult{
			{Name: "non_empty", Passed: false, Reason: "content is empty or whitespace-only"},
		}}, nil
	}
	if cand.Format == FormatJSON {
		obj, err := DecodeJSONPayload(cand.Content)
		if err != nil {
			return Verdict{Checks: []CheckResult{
				{Name: "non_empty", Passed: true},
				{Name: "structural", Passed: false, Reason: "invalid JSON"},
			}}, nil
		}
		return Verdict{Passed: true, Checks: []CheckResult{
			{Name: "non_empty", Passed: true},
			{Name: "structural", Passed: true},
		}}, &ParsedPayload{TaskType: cand.TaskType, Object: obj}
	}
	return Verdict{Passed: true, Checks: []CheckResult{{Name: "non_empty", Passed: true}}}, nil
}

type scanCall struct {
	stage string
	text  string
}

type fakePHI struct {
	mu        sync.Mutex
	calls     []scanCall
	promptRes ScanResult
	promptErr error
	respRes   ScanResult
	respErr   error
}

func newFakePHI() *fakePHI {
	return &fakePHI{
		promptRes: ScanResult{Passed: true},
		respRes:   ScanResult{Passed: true},
	}
}

func (f *fakePHI) Scan(_ context.Context, text string, sc ScanContext) (ScanResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scanCall{stage: sc.Stage, text: text})
	f.mu.Unlock()
	if sc.Stage == "prompt" {
		return f.promptRes, f.promptErr
	}
	return f.respRes, f.respErr
}

func (f *fakePHI) scanned() []scanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scanCall(nil), f.calls...)
}

type memorySink struct {
	mu   sync.Mutex
	rows []InvocationRecord
}

func (s *memorySink) Record(_ context.Context, rec InvocationRecord) error {
	s.mu.Lock()
	s.rows = append(s.rows, rec)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) all() []InvocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InvocationRecord(nil), s.rows...)
}

func (s *memorySink) terminals() []InvocationRecord {
	var out []InvocationRecord
	for _, rec := range s.all() {
		if rec.Terminal {
			out = append(out, rec)
		}
	}
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Publish(event string, _ interface{}) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeEvents) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// memoryCache mirrors the production cache contract: content-addressed
// entries with single-flight fills.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	group   singleflight.Group
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*CacheEntry)}
}

func (c *memoryCache) Fetch(ctx context.Context, key string, fill FillFunc) (*CacheEntry, bool, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return entry, true, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		entry, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*CacheEntry), shared, nil
}

func (c *memoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type routerEnv struct {
	router   *Router
	registry fakeRegistry
	phi      *fakePHI
	sink     *memorySink
	events   *fakeEvents
}

func basePolicy() Policy {
	return Policy{
		DefaultTiers: map[string]ModelTier{
			"SUMMARIZE": TierNano,
			"EXTRACT":   TierMini,
			"DIAGNOSE":  TierFrontier,
		},
		FallbackTier:     TierMini,
		MaxEscalations:   2,
		RetryMaxAttempts: 1,
		RetryBaseBackoff: time.Millisecond,
		RetryMaxBackoff:  2 * time.Millisecond,
	}
}

func newRouterEnv(t *testing.T, pol Policy, cache PromptCache) *routerEnv {
	t.Helper()
	env := &routerEnv{
		registry: fakeRegistry{
			TierNano: {
				provider: "openai", model: "gpt-nano",
				pricing: Pricing{InputCostPer1K: 0.5, OutputCostPer1K: 1.5},
				results: []adapterOutcome{{text: "nano answer"}},
			},
			TierMini: {
				provider: "openai", model: "gpt-mini",
				pricing: Pricing{InputCostPer1K: 2, OutputCostPer1K: 6},
				results: []adapterOutcome{{text: "mini answer"}},
			},
			TierFrontier: {
				provider: "anthropic", model: "claude-frontier",
				pricing: Pricing{InputCostPer1K: 10, OutputCostPer1K: 30},
				results: []adapterOutcome{{text: "frontier answer"}},
			},
		},
		phi:    newFakePHI(),
		sink:   &memorySink{},
		events: &fakeEvents{},
	}
	router, err := NewRouter(RouterDeps{
		Adapters: env.registry,
		Cache:    cache,
		Quality:  fakeGate{},
		PHI:      env.phi,
		Ledger:   env.sink,
		Events:   env.events,
		Policy:   func() Policy { return pol },
	})
	require.NoError(t, err)
	env.router = router
	return env
}

func textRequest() Request {
	return Request{
		TaskType:  "SUMMARIZE",
		Prompt:    "Summarize the cohort outcomes for the quarterly report.",
		MaxTokens: 256,
	}
}

func TestNewRouterValidatesDeps(t *testing.T) {
	base := RouterDeps{
		Adapters: fakeRegistry{},
		Quality:  fakeGate{},
		PHI:      newFakePHI(),
		Ledger:   &memorySink{},
		Policy:   basePolicy,
	}

	for name, strip := range map[string]func(*RouterDeps){
		"adapters": func(d *RouterDeps) { d.Adapters = nil },
		"quality":  func(d *RouterDeps) { d.Quality = nil },
		"phi":      func(d *RouterDeps) { d.PHI = nil },
		"ledger":   func(d *RouterDeps) { d.Ledger = nil },
		"policy":   func(d *RouterDeps) { d.Policy = nil },
	} {
		deps := base
		strip(&deps)
		_, err := NewRouter(deps)
		require.Error(t, err, "missing %s must be rejected", name)
	}

	_, err := NewRouter(base)
	require.NoError(t, err)
}

func TestRouteHappyPath(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)

	resp, err := env.router.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.Equal(t, "nano answer", resp.Content)
	require.Equal(t, TierNano, resp.ModelTier)
	require.Equal(t, "openai", resp.ProviderID)
	require.Equal(t, "gpt-nano", resp.ModelID)
	require.False(t, resp.CacheHit)
	require.Nil(t, resp.EscalatedFrom)
	require.True(t, resp.QualityGate.Passed)
	require.Equal(t, 100, resp.Usage.InputTokens)
	require.Equal(t, 50, resp.Usage.OutputTokens)
	require.InDelta(t, 0.125, resp.Usage.EstimatedCostUsd, 1e-9)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.True(t, rows[0].Success)
	require.Equal(t, "SUMMARIZE", rows[0].Operation)
	require.Equal(t, "passed", rows[0].QualityVerdict)
	require.NotEmpty(t, rows[0].RequestID)

	require.Equal(t, []string{"invocation.completed"}, env.events.published())

	scans := env.phi.scanned()
	require.Len(t, scans, 1)
	require.Equal(t, "prompt", scans[0].stage)
}

func TestRouteRejectsMalformedRequests(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty prompt", func(r *Request) { r.Prompt = "   " }},
		{"zero max tokens", func(r *Request) { r.MaxTokens = 0 }},
		{"bad format", func(r *Request) { r.ResponseFormat = "xml" }},
		{"temperature too high", func(r *Request) { r.Temperature = 2.5 }},
		{"negative escalations", func(r *Request) { n := -1; r.MaxEscalations = &n }},
		{"inverted word bounds", func(r *Request) { r.MinWords = 10; r.MaxWords = 5 }},
		{"empty task type", func(r *Request) { r.TaskType = "" }},
		{"unknown task type", func(r *Request) { r.TaskType = "TRANSMOGRIFY" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newRouterEnv(t, basePolicy(), nil)
			req := textRequest()
			tc.mutate(&req)

			_, err := env.router.Route(context.Background(), req)
			var invalid *InvalidRequestError
			require.ErrorAs(t, err, &invalid)

			rows := env.sink.all()
			require.Len(t, rows, 1)
			require.True(t, rows[0].Terminal)
			require.Equal(t, "invalid_request", rows[0].ErrorKind)
			require.Zero(t, env.registry[TierNano].callCount())
		})
	}
}

func TestRouteUnknownTaskTypeFallsBack(t *testing.T) {
	pol := basePolicy()
	pol.AllowUnknownTaskTypes = true
	env := newRouterEnv(t, pol, nil)

	req := textRequest()
	req.TaskType = "transmogrify"

	resp, err := env.router.Route(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, TierMini, resp.ModelTier)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.Equal(t, "TRANSMOGRIFY", rows[0].Operation)
}

func TestRouteForceTierPinsLadder(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierNano].results = []adapterOutcome{{text: "this is not json"}}

	force := TierNano
	req := textRequest()
	req.ForceTier = &force
	req.ResponseFormat = FormatJSON

	_, err := env.router.Route(context.Background(), req)
	var gateErr *QualityGateFailedError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, []ModelTier{TierNano}, gateErr.TiersAttempted)
	require.Len(t, gateErr.Checks, 1)
	require.Equal(t, "structural", gateErr.Checks[0].Name)
	require.False(t, gateErr.Checks[0].Passed)
	require.Equal(t, "invalid JSON", gateErr.Checks[0].Reason)

	require.Zero(t, env.registry[TierMini].callCount())
	require.Zero(t, env.registry[TierFrontier].callCount())

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, TierNano, rows[0].Tier)
	require.Equal(t, "quality_gate_failed", rows[0].ErrorKind)
}

func TestRouteEscalatesOnQualityFailure(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierNano].results = []adapterOutcome{{text: "   "}}
	env.registry[TierMini].results = []adapterOutcome{{text: ""}}

	resp, err := env.router.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.Equal(t, "frontier answer", resp.Content)
	require.Equal(t, TierFrontier, resp.ModelTier)
	require.NotNil(t, resp.EscalatedFrom)
	require.Equal(t, TierMini, *resp.EscalatedFrom)

	rows := env.sink.all()
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		require.GreaterOrEqual(t, rows[i].Tier, rows[i-1].Tier, "tiers must never demote")
	}
	require.False(t, rows[0].Terminal)
	require.False(t, rows[1].Terminal)
	require.True(t, rows[2].Terminal)
	require.True(t, rows[2].Success)
	require.Equal(t, []string{"NANO", "MINI", "FRONTIER"}, rows[2].EscalationPath)
	require.Equal(t, 1, env.registry[TierNano].callCount())
	require.Equal(t, 1, env.registry[TierMini].callCount())
	require.Equal(t, 1, env.registry[TierFrontier].callCount())
}

func TestRouteEscalationBudgetExhausted(t *testing.T) {
	pol := basePolicy()
	pol.MaxEscalations = 1
	env := newRouterEnv(t, pol, nil)
	env.registry[TierNano].results = []adapterOutcome{{text: ""}}
	env.registry[TierMini].results = []adapterOutcome{{text: ""}}

	_, err := env.router.Route(context.Background(), textRequest())
	var gateErr *QualityGateFailedError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, []ModelTier{TierNano, TierMini}, gateErr.TiersAttempted)
	require.Zero(t, env.registry[TierFrontier].callCount())

	terminals := env.sink.terminals()
	require.Len(t, terminals, 1)
	require.Len(t, env.sink.all(), 2)
}

func TestRouteRequestOverridesEscalationBudget(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierNano].results = []adapterOutcome{{text: ""}}

	zero := 0
	req := textRequest()
	req.MaxEscalations = &zero

	_, err := env.router.Route(context.Background(), req)
	var gateErr *QualityGateFailedError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, []ModelTier{TierNano}, gateErr.TiersAttempted)
	require.Zero(t, env.registry[TierMini].callCount())
}

func TestRouteRetriesTransportThenEscalates(t *testing.T) {
	pol := basePolicy()
	pol.RetryMaxAttempts = 2
	env := newRouterEnv(t, pol, nil)
	env.registry[TierNano].results = []adapterOutcome{{err: errors.New("connection reset")}}

	resp, err := env.router.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.Equal(t, TierMini, resp.ModelTier)
	require.NotNil(t, resp.EscalatedFrom)
	require.Equal(t, TierNano, *resp.EscalatedFrom)

	// Two same-tier retries before the attempt became escalation-eligible.
	require.Equal(t, 2, env.registry[TierNano].callCount())
	require.Equal(t, 1, env.registry[TierMini].callCount())

	rows := env.sink.all()
	require.Len(t, rows, 2)
	require.False(t, rows[0].Terminal)
	require.Equal(t, "provider_error", rows[0].ErrorKind)
	require.True(t, rows[1].Terminal)
	require.True(t, rows[1].Success)
}

func TestRouteProviderFailureAtTopIsTerminal(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierFrontier].results = []adapterOutcome{{err: errors.New("upstream 503")}}

	req := textRequest()
	req.TaskType = "DIAGNOSE"

	_, err := env.router.Route(context.Background(), req)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.Equal(t, TierFrontier, provErr.Tier)
	require.Equal(t, "anthropic", provErr.ProviderID)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "provider_error", rows[0].ErrorKind)
}

func TestRoutePHIBlocksPrompt(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.phi.promptRes = ScanResult{
		Passed:        false,
		FindingsCount: 2,
		RiskLevel:     "high",
		DetectionIDs:  []string{"ssn", "mrn"},
	}

	req := textRequest()
	req.Prompt = "Patient SSN 123-45-6789 presented with chest pain."

	_, err := env.router.Route(context.Background(), req)
	var detected *PHIDetectedError
	require.ErrorAs(t, err, &detected)
	require.Equal(t, "prompt", detected.Stage)
	require.Equal(t, 2, detected.FindingsCount)
	require.Equal(t, "high", detected.RiskLevel)

	require.Zero(t, env.registry[TierNano].callCount())
	require.Equal(t, []string{"phi.blocked"}, env.events.published())

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "phi_detected", rows[0].ErrorKind)
	require.Zero(t, rows[0].CostUsd, "blocked requests never reach a model")
}

func TestRoutePHIScanFailureFailsClosed(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.phi.promptErr = errors.New("detector unavailable")

	_, err := env.router.Route(context.Background(), textRequest())
	var scanErr *PHIScanFailureError
	require.ErrorAs(t, err, &scanErr)
	require.Equal(t, "prompt", scanErr.Stage)
	require.ErrorContains(t, scanErr, "detector unavailable")

	require.Zero(t, env.registry[TierNano].callCount())

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.Equal(t, "phi_scan_failure", rows[0].ErrorKind)
}

func TestRouteScansResponsesWhenEnabled(t *testing.T) {
	pol := basePolicy()
	pol.ScanResponses = true
	env := newRouterEnv(t, pol, nil)
	env.phi.respRes = ScanResult{Passed: false, FindingsCount: 1, RiskLevel: "medium"}

	_, err := env.router.Route(context.Background(), textRequest())
	var detected *PHIDetectedError
	require.ErrorAs(t, err, &detected)
	require.Equal(t, "response", detected.Stage)

	scans := env.phi.scanned()
	require.Len(t, scans, 2)
	require.Equal(t, "prompt", scans[0].stage)
	require.Equal(t, "response", scans[1].stage)
	require.Equal(t, "nano answer", scans[1].text)

	// The model spoke; the terminal row keeps the spend and the verdict.
	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "phi_detected", rows[0].ErrorKind)
	require.Equal(t, "passed", rows[0].QualityVerdict)
	require.Positive(t, rows[0].CostUsd)
}

func TestRouteResponseScanFailureFailsClosed(t *testing.T) {
	pol := basePolicy()
	pol.ScanResponses = true
	env := newRouterEnv(t, pol, nil)
	env.phi.respErr = errors.New("detector unavailable")

	_, err := env.router.Route(context.Background(), textRequest())
	var scanErr *PHIScanFailureError
	require.ErrorAs(t, err, &scanErr)
	require.Equal(t, "response", scanErr.Stage)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "phi_scan_failure", rows[0].ErrorKind)
}

func TestRouteQualityFailureAtTopRung(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierFrontier].results = []adapterOutcome{{text: ""}}

	req := textRequest()
	req.TaskType = "DIAGNOSE"

	_, err := env.router.Route(context.Background(), req)
	var gateErr *QualityGateFailedError
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, []ModelTier{TierFrontier}, gateErr.TiersAttempted, "there is no rung above FRONTIER")

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "quality_gate_failed", rows[0].ErrorKind)
}

func TestRouteCacheRoundTrip(t *testing.T) {
	pol := basePolicy()
	pol.CacheEnabled = true
	cache := newMemoryCache()
	env := newRouterEnv(t, pol, cache)

	first, err := env.router.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Positive(t, first.Usage.EstimatedCostUsd)

	second, err := env.router.Route(context.Background(), textRequest())
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Content, second.Content)
	require.Equal(t, first.ModelTier, second.ModelTier)
	require.Zero(t, second.Usage.InputTokens)
	require.Zero(t, second.Usage.OutputTokens)
	require.Zero(t, second.Usage.EstimatedCostUsd)

	require.Equal(t, 1, env.registry[TierNano].callCount())

	terminals := env.sink.terminals()
	require.Len(t, terminals, 2)
	require.False(t, terminals[0].CacheHit)
	require.True(t, terminals[1].CacheHit)
	require.Zero(t, terminals[1].CostUsd)
}

func TestRouteCacheSingleFlight(t *testing.T) {
	pol := basePolicy()
	pol.CacheEnabled = true
	cache := newMemoryCache()
	env := newRouterEnv(t, pol, cache)
	env.registry[TierNano].delay = 30 * time.Millisecond

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		responses []*Response
		errs      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.router.Route(context.Background(), textRequest())
			mu.Lock()
			responses = append(responses, resp)
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, env.registry[TierNano].callCount(), "concurrent identical requests must share one fill")
	require.Len(t, responses, callers)
	for i, resp := range responses {
		require.NoError(t, errs[i])
		require.Equal(t, "nano answer", resp.Content)
	}
	require.Len(t, env.sink.terminals(), callers)
}

func TestRouteCacheDisabledByPolicy(t *testing.T) {
	pol := basePolicy()
	pol.CacheEnabled = false
	cache := newMemoryCache()
	env := newRouterEnv(t, pol, cache)

	for i := 0; i < 2; i++ {
		_, err := env.router.Route(context.Background(), textRequest())
		require.NoError(t, err)
	}

	require.Equal(t, 2, env.registry[TierNano].callCount())
	require.Zero(t, cache.size())
}

func TestRouteFailuresAreNeverCached(t *testing.T) {
	pol := basePolicy()
	pol.CacheEnabled = true
	cache := newMemoryCache()
	env := newRouterEnv(t, pol, cache)
	env.registry[TierNano].results = []adapterOutcome{{text: ""}}
	env.registry[TierMini].results = []adapterOutcome{{text: ""}}
	env.registry[TierFrontier].results = []adapterOutcome{{text: ""}}

	_, err := env.router.Route(context.Background(), textRequest())
	var gateErr *QualityGateFailedError
	require.ErrorAs(t, err, &gateErr)
	require.Zero(t, cache.size())

	// The ladder already wrote its terminal row; no duplicate from the
	// cache layer.
	require.Len(t, env.sink.terminals(), 1)
}

func TestRouteCancellation(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)
	env.registry[TierNano].delay = 250 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(10*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := env.router.Route(ctx, textRequest())
	require.ErrorIs(t, err, context.Canceled)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Terminal)
	require.Equal(t, "cancelled", rows[0].ErrorKind)
}

func TestRouteTimeoutPerCall(t *testing.T) {
	pol := basePolicy()
	pol.RequestTimeout = 15 * time.Millisecond
	env := newRouterEnv(t, pol, nil)
	env.registry[TierNano].delay = 200 * time.Millisecond
	env.registry[TierMini].delay = 200 * time.Millisecond
	env.registry[TierFrontier].delay = 200 * time.Millisecond

	_, err := env.router.Route(context.Background(), textRequest())

	// Every rung timed out; the parent context is still alive, so the
	// failure surfaces as a provider error, not a cancellation.
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	terminals := env.sink.terminals()
	require.Len(t, terminals, 1)
	require.Equal(t, "provider_error", terminals[0].ErrorKind)
}

func TestRouteNormalizesIdentity(t *testing.T) {
	env := newRouterEnv(t, basePolicy(), nil)

	req := textRequest()
	req.TaskType = "summarize"
	req.RequestID = ""
	req.BatchRequestID = "batch-7"
	req.Metadata = map[string]string{"study": "alpha"}

	_, err := env.router.Route(context.Background(), req)
	require.NoError(t, err)

	rows := env.sink.all()
	require.Len(t, rows, 1)
	require.NotEmpty(t, rows[0].RequestID)
	require.Equal(t, "SUMMARIZE", rows[0].Operation)
	require.Equal(t, "batch-7", rows[0].BatchRequestID)
	require.Equal(t, "alpha", rows[0].Metadata["study"])
}
