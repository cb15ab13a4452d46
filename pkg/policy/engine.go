// Package policy evaluates org-configurable approval rules over an action
// before it is logged. Rules are CEL expressions returning bool; they
// supplement the fixed tier-to-approval mapping with deployment-specific
// constraints ("no critical-tier payments", "agent X may only vote").
// Evaluation errors fail closed.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// Rule is one named CEL constraint. The expression must evaluate to true
// for the action to proceed.
type Rule struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
	program    cel.Program
}

// Decision is the outcome of evaluating every rule.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	DeniedBy string `json:"denied_by,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Engine holds compiled rules.
type Engine struct {
	rules []Rule
}

// NewEngine compiles the rule set. An empty rule set allows everything.
func NewEngine(rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("org_id", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("action_type", cel.StringType),
		cel.Variable("epi_score", cel.DoubleType),
		cel.Variable("risk_tier", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}

	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", contracts.ErrValidation, r.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", contracts.ErrValidation, r.Name, err)
		}
		r.program = prg
		compiled = append(compiled, r)
	}
	return &Engine{rules: compiled}, nil
}

// Evaluate runs every rule against the action. The first failing rule
// denies; an evaluation error denies (fail closed) and is returned.
func (e *Engine) Evaluate(act contracts.ActionDescriptor, epiScore float64, riskTier int) (Decision, error) {
	input := map[string]any{
		"org_id":      act.OrgID,
		"agent_id":    act.AgentID,
		"action_type": act.ActionType,
		"epi_score":   epiScore,
		"risk_tier":   riskTier,
	}

	for _, r := range e.rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			return Decision{Allowed: false, DeniedBy: r.Name, Reason: "evaluation error"},
				fmt.Errorf("policy rule %q: %w", r.Name, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return Decision{Allowed: false, DeniedBy: r.Name, Reason: "rule did not return bool"},
				fmt.Errorf("%w: policy rule %q returned %T", contracts.ErrValidation, r.Name, out.Value())
		}
		if !allowed {
			return Decision{Allowed: false, DeniedBy: r.Name, Reason: "rule " + r.Name + " denied the action"}, nil
		}
	}
	return Decision{Allowed: true}, nil
}
