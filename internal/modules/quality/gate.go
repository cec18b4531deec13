package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"go.uber.org/zap"
)

const (
	checkNonEmpty   = "non_empty"
	checkStructural = "structural"
	checkBounds     = "bounds"
)

// Schema carries task-specific validation for JSON responses. RequiredKeys
// must be present at the top level; ValidatorJS is an optional expression
// evaluated against the parsed payload.
type Schema struct {
	TaskType     string   `json:"taskType"`
	RequiredKeys []string `json:"requiredKeys,omitempty"`
	ValidatorJS  string   `json:"validatorJs,omitempty"`
}

// Gate runs the cheap structural checks. Deliberately conservative; it
// catches broken generations, never judges semantic quality, and issues no
// model calls of its own.
type Gate struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	logger  *zap.Logger
}

func NewGate(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		schemas: make(map[string]Schema),
		logger:  logger,
	}
}

// RegisterSchema installs or replaces the schema for a task type.
func (g *Gate) RegisterSchema(s Schema) {
	task := strings.ToUpper(strings.TrimSpace(s.TaskType))
	if task == "" {
		return
	}
	s.TaskType = task
	g.mu.Lock()
	g.schemas[task] = s
	g.mu.Unlock()
}

// RemoveSchema drops the schema for a task type.
func (g *Gate) RemoveSchema(taskType string) {
	g.mu.Lock()
	delete(g.schemas, strings.ToUpper(strings.TrimSpace(taskType)))
	g.mu.Unlock()
}

// Schemas lists the registered schemas sorted by task type.
func (g *Gate) Schemas() []Schema {
	g.mu.RLock()
	out := make([]Schema, 0, len(g.schemas))
	for _, s := range g.schemas {
		out = append(out, s)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

func (g *Gate) schemaFor(taskType string) (Schema, bool) {
	g.mu.RLock()
	s, ok := g.schemas[strings.ToUpper(strings.TrimSpace(taskType))]
	g.mu.RUnlock()
	return s, ok
}

// Evaluate runs every check and reports each outcome. The parsed payload is
// returned only when all checks pass.
func (g *Gate) Evaluate(ctx context.Context, cand routing.Candidate) (routing.Verdict, *routing.ParsedPayload) {
	checks := make([]routing.CheckResult, 0, 3)
	var parsed *routing.ParsedPayload

	if strings.TrimSpace(cand.Content) == "" {
		checks = append(checks, fail(checkNonEmpty, "content is empty or whitespace-only"))
	} else {
		checks = append(checks, pass(checkNonEmpty))
	}

	if cand.Format == routing.FormatJSON {
		checks, parsed = g.structuralCheck(ctx, cand, checks)
	}

	if cand.MinWords > 0 || cand.MaxWords > 0 {
		checks = append(checks, boundsCheck(cand))
	}

	verdict := routing.Verdict{Passed: true, Checks: checks}
	for _, chk := range checks {
		if !chk.Passed {
			verdict.Passed = false
			break
		}
	}
	if !verdict.Passed {
		parsed = nil
	}
	return verdict, parsed
}

func (g *Gate) structuralCheck(ctx context.Context, cand routing.Candidate, checks []routing.CheckResult) ([]routing.CheckResult, *routing.ParsedPayload) {
	obj, err := routing.DecodeJSONPayload(cand.Content)
	if err != nil {
		return append(checks, fail(checkStructural, "invalid JSON")), nil
	}

	schema, ok := g.schemaFor(cand.TaskType)
	if ok {
		if missing := missingKeys(obj, schema.RequiredKeys); len(missing) > 0 {
			return append(checks, fail(checkStructural,
				"missing required key(s): "+strings.Join(missing, ", "))), nil
		}
		if strings.TrimSpace(schema.ValidatorJS) != "" {
			if err := runValidator(ctx, schema.ValidatorJS, obj); err != nil {
				g.logger.Debug("schema validator rejected payload",
					zap.String("task_type", cand.TaskType),
					zap.Error(err))
				return append(checks, fail(checkStructural, err.Error())), nil
			}
		}
	}

	parsed := &routing.ParsedPayload{TaskType: cand.TaskType, Object: obj}
	return append(checks, pass(checkStructural)), parsed
}

func boundsCheck(cand routing.Candidate) routing.CheckResult {
	words := len(strings.Fields(cand.Content))
	if cand.MinWords > 0 && words < cand.MinWords {
		return fail(checkBounds, fmt.Sprintf("word count %d below minimum %d", words, cand.MinWords))
	}
	if cand.MaxWords > 0 && words > cand.MaxWords {
		return fail(checkBounds, fmt.Sprintf("word count %d above maximum %d", words, cand.MaxWords))
	}
	return pass(checkBounds)
}

func missingKeys(obj map[string]interface{}, required []string) []string {
	var missing []string
	for _, key := range required {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func pass(name string) routing.CheckResult {
	return routing.CheckResult{Name: name, Passed: true}
}

func fail(name, reason string) routing.CheckResult {
	return routing.CheckResult{Name: name, Passed: false, Reason: reason}
}
