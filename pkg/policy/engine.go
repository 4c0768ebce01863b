package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Gate evaluates loaded policies against plan summaries. Policies can be
// replaced at runtime by the loader's watch callback, so access is guarded.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*preparedPolicy
	logger   zerolog.Logger
}

// preparedPolicy is one policy with its evaluation query prepared for reuse.
type preparedPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	prepared time.Time
}

// NewGate creates a gate preloaded with the built-in policies.
func NewGate(logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*preparedPolicy),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}
	if err := g.setPolicies(context.Background(), BuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return g, nil
}

// LoadPolicies adds or replaces policies beyond the built-ins. Used both at
// startup and as the loader's reload callback.
func (g *Gate) LoadPolicies(ctx context.Context, policies []Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range policies {
		if err := g.preparePolicy(ctx, policies[i]); err != nil {
			return fmt.Errorf("failed to prepare policy %s: %w", policies[i].Name, err)
		}
	}
	g.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// setPolicies replaces the whole policy set.
func (g *Gate) setPolicies(ctx context.Context, policies []Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies = make(map[string]*preparedPolicy, len(policies))
	for i := range policies {
		if err := g.preparePolicy(ctx, policies[i]); err != nil {
			return err
		}
	}
	return nil
}

// preparePolicy compiles one policy's deny query. Caller holds the lock.
func (g *Gate) preparePolicy(ctx context.Context, p Policy) error {
	pkg := extractPackageName(p.Rego)
	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return err
	}

	g.policies[p.Name] = &preparedPolicy{
		policy:   p,
		query:    query,
		prepared: time.Now(),
	}
	g.logger.Debug().Str("policy", p.Name).Msg("policy prepared")
	return nil
}

// EvaluatePlan runs every enabled policy against the input and aggregates
// the deny results. A policy whose evaluation itself fails degrades to a
// warning rather than blocking the plan.
func (g *Gate) EvaluatePlan(ctx context.Context, input *Input) (*Verdict, error) {
	start := time.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc, err := toInputDocument(input)
	if err != nil {
		return nil, fmt.Errorf("encoding policy input: %w", err)
	}

	var violations []Violation
	var warnings []string

	for _, pp := range g.policies {
		if !pp.policy.Enabled {
			continue
		}

		results, err := pp.query.Eval(ctx, rego.EvalInput(doc))
		if err != nil {
			g.logger.Error().Err(err).Str("policy", pp.policy.Name).Msg("policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", pp.policy.Name, err))
			continue
		}

		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					violations = append(violations, makeViolation(pp.policy, d))
				}
			}
		}
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity == SeverityError {
			allowed = false
			break
		}
	}

	g.logger.Debug().
		Str("module_id", input.ModuleID).
		Str("operation", input.Operation).
		Int("violations", len(violations)).
		Dur("duration", time.Since(start)).
		Bool("allowed", allowed).
		Msg("plan policy evaluation completed")

	return &Verdict{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// Check is EvaluatePlan with a pass/fail contract: a disallowed verdict comes
// back as *DeniedError.
func (g *Gate) Check(ctx context.Context, input *Input) error {
	verdict, err := g.EvaluatePlan(ctx, input)
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		return &DeniedError{Violations: verdict.Violations}
	}
	for _, v := range verdict.Violations {
		g.logger.Warn().Str("policy", v.Policy).Msg(v.Message)
	}
	return nil
}

// Policies returns the currently loaded policies.
func (g *Gate) Policies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Policy, 0, len(g.policies))
	for _, pp := range g.policies {
		out = append(out, pp.policy)
	}
	return out
}

// toInputDocument converts the typed input into the generic document shape
// Rego evaluation expects.
func toInputDocument(input *Input) (map[string]interface{}, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// makeViolation builds a Violation from one deny result. Deny results are
// either plain strings or objects with message/severity fields.
func makeViolation(p Policy, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// extractPackageName extracts the package path from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "package "); ok {
			return strings.Fields(rest)[0]
		}
	}
	return "snapcd.policies"
}
