// Package policy evaluates commit-time business rules, written as govaluate
// expressions, against the facts of a confirmed payment.
package policy

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"
)

// PolicyDecision is the outcome of a policy evaluation.
type PolicyDecision struct {
	Reject bool   // Refuse to commit
	Reason string // Diagnostic reason, recorded on the marker
	RuleID string // Rule that produced the decision, empty for the default
}

// PolicyRule is one rule. Lower Priority values are evaluated first; the
// first rule whose expression is true decides.
type PolicyRule struct {
	ID         string         `mapstructure:"id"`
	Expression string         `mapstructure:"expression"`
	Priority   int            `mapstructure:"priority"`
	Decision   PolicyDecision `mapstructure:"decision"`
}

// Facts are the variables rules can reference.
type Facts struct {
	Provider       string
	Kind           string
	Currency       string
	ExpectedAmount int64
	EchoedAmount   *int64
}

func (f Facts) parameters() map[string]interface{} {
	echoed := 0.0
	if f.EchoedAmount != nil {
		echoed = float64(*f.EchoedAmount)
	}
	return map[string]interface{}{
		"provider":          f.Provider,
		"kind":              f.Kind,
		"currency":          f.Currency,
		"expected_amount":   float64(f.ExpectedAmount),
		"echoed_amount":     echoed,
		"has_echoed_amount": f.EchoedAmount != nil,
	}
}

// DefaultRules reject a payment whose echoed amount differs from the draft,
// and a deposit without a positive amount.
func DefaultRules() []PolicyRule {
	return []PolicyRule{
		{
			ID:         "amount_mismatch",
			Expression: "has_echoed_amount && echoed_amount != expected_amount",
			Priority:   1,
			Decision:   PolicyDecision{Reject: true, Reason: "echoed amount does not match the draft"},
		},
		{
			ID:         "empty_deposit",
			Expression: "kind == 'WALLET_DEPOSIT' && expected_amount <= 0",
			Priority:   2,
			Decision:   PolicyDecision{Reject: true, Reason: "deposit amount must be positive"},
		},
	}
}

type compiledRule struct {
	rule PolicyRule
	expr *govaluate.EvaluableExpression
}

// PaymentPolicyEnforcer holds compiled rules.
type PaymentPolicyEnforcer struct {
	rules []compiledRule
}

// NewPaymentPolicyEnforcer compiles rules. Any rule that does not compile
// fails the whole set.
func NewPaymentPolicyEnforcer(rules []PolicyRule) (*PaymentPolicyEnforcer, error) {
	sorted := append([]PolicyRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	compiled := make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{rule: r, expr: expr})
	}
	return &PaymentPolicyEnforcer{rules: compiled}, nil
}

// Evaluate returns the decision of the first matching rule, or an allowing
// default when none match.
func (ppe *PaymentPolicyEnforcer) Evaluate(facts Facts) (PolicyDecision, error) {
	params := facts.parameters()
	for _, cr := range ppe.rules {
		res, err := cr.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("policy rule '%s': %w", cr.rule.ID, err)
		}
		matched, ok := res.(bool)
		if !ok {
			return PolicyDecision{}, fmt.Errorf("policy rule '%s' did not evaluate to a boolean (got %T)", cr.rule.ID, res)
		}
		if matched {
			d := cr.rule.Decision
			d.RuleID = cr.rule.ID
			return d, nil
		}
	}
	return PolicyDecision{}, nil
}
