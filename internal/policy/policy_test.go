package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(v int64) *int64 { return &v }

func TestNewPaymentPolicyEnforcer_EmptyAndNilRules(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer(nil)
	require.NoError(t, err)
	assert.Empty(t, ppe.rules)

	d, err := ppe.Evaluate(Facts{ExpectedAmount: 10})
	require.NoError(t, err)
	assert.False(t, d.Reject)
}

func TestNewPaymentPolicyEnforcer_CompilationErrors(t *testing.T) {
	_, err := NewPaymentPolicyEnforcer([]PolicyRule{
		{ID: "ok", Expression: "expected_amount > 100"},
		{ID: "broken", Expression: "kind =="},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile rule ID 'broken'")

	_, err = NewPaymentPolicyEnforcer([]PolicyRule{{ID: "empty"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy rule ID 'empty' has an empty expression")

	_, err = NewPaymentPolicyEnforcer([]PolicyRule{{ID: "bad_func", Expression: "nonExistentFunction(expected_amount) == true"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined function nonExistentFunction")
}

func TestPaymentPolicyEnforcer_DefaultRules(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer(DefaultRules())
	require.NoError(t, err)

	tests := []struct {
		name       string
		facts      Facts
		wantReject bool
		wantRule   string
	}{
		{"MatchingEcho", Facts{Kind: "ORDER_CHECKOUT", ExpectedAmount: 150000, EchoedAmount: amount(150000)}, false, ""},
		{"NoEcho", Facts{Kind: "ORDER_CHECKOUT", ExpectedAmount: 150000}, false, ""},
		{"Mismatch", Facts{Kind: "ORDER_CHECKOUT", ExpectedAmount: 150000, EchoedAmount: amount(1000)}, true, "amount_mismatch"},
		{"EmptyDeposit", Facts{Kind: "WALLET_DEPOSIT", ExpectedAmount: 0}, true, "empty_deposit"},
		{"FreeOrderIsFine", Facts{Kind: "ORDER_CHECKOUT", ExpectedAmount: 0}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ppe.Evaluate(tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReject, d.Reject)
			assert.Equal(t, tt.wantRule, d.RuleID)
		})
	}
}

func TestPaymentPolicyEnforcer_PriorityOrder(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer([]PolicyRule{
		{ID: "late", Expression: "provider == 'WALLET_B'", Priority: 5, Decision: PolicyDecision{Reject: true, Reason: "late"}},
		{ID: "early", Expression: "expected_amount > 1000000", Priority: 1, Decision: PolicyDecision{Reject: true, Reason: "early"}},
	})
	require.NoError(t, err)

	d, err := ppe.Evaluate(Facts{Provider: "WALLET_B", ExpectedAmount: 2000000})
	require.NoError(t, err)
	assert.Equal(t, "early", d.RuleID)

	d, err = ppe.Evaluate(Facts{Provider: "WALLET_B", ExpectedAmount: 10})
	require.NoError(t, err)
	assert.Equal(t, "late", d.RuleID)
}

func TestPaymentPolicyEnforcer_EvaluationErrors(t *testing.T) {
	ppe, err := NewPaymentPolicyEnforcer([]PolicyRule{{ID: "missing_param_rule", Expression: "undefinedParam > 10"}})
	require.NoError(t, err)
	_, err = ppe.Evaluate(Facts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No parameter 'undefinedParam' found.")

	ppe, err = NewPaymentPolicyEnforcer([]PolicyRule{{ID: "not_bool", Expression: "expected_amount + 1"}})
	require.NoError(t, err)
	_, err = ppe.Evaluate(Facts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not evaluate to a boolean")
}
