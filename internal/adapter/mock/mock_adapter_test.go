package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/payment-reconciler/internal/adapter"
)

func TestMockAdapter_DefaultParse(t *testing.T) {
	m := NewMockAdapter("mock", adapter.WalletA)
	out := m.Parse(map[string]string{"txn": "T9", "ref": "corr"})

	assert.True(t, out.Success)
	assert.Equal(t, adapter.WalletA, out.Provider)
	assert.Equal(t, "T9", out.ProviderTransactionID)
	assert.Equal(t, "corr", out.MerchantReference)
	assert.Equal(t, 1, m.Calls())
}

func TestMockAdapter_ParseFunc(t *testing.T) {
	m := NewMockAdapter("mock", adapter.BankRedirect)
	m.NeedsVerify = true
	m.ParseFunc = func(params map[string]string) adapter.PaymentOutcome {
		return adapter.UnknownOutcome(params)
	}

	out := m.Parse(nil)
	assert.Equal(t, adapter.Unknown, out.Provider)
	assert.True(t, m.RequiresVerification())
	assert.Equal(t, "mock", m.GetName())
	assert.Equal(t, adapter.BankRedirect, m.GetProviderID())
}
