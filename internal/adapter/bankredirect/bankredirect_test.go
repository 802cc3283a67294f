package bankredirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
)

func TestAdapter_Parse(t *testing.T) {
	a := New()

	tests := []struct {
		name          string
		params        map[string]string
		wantProvider  adapter.ProviderID
		wantSuccess   bool
		wantCancelled bool
		wantTxnID     string
	}{
		{
			name: "Approved",
			params: map[string]string{
				ParamResponseCode: "00", ParamTxnRef: "corr-1", ParamTransactionNo: "14226112", ParamAmount: "15000000",
			},
			wantProvider: adapter.BankRedirect, wantSuccess: true, wantTxnID: "14226112",
		},
		{
			name: "Cancelled",
			params: map[string]string{
				ParamResponseCode: "24", ParamTxnRef: "corr-1", ParamTransactionNo: "0",
			},
			wantProvider: adapter.BankRedirect, wantCancelled: true,
		},
		{
			name:         "GenericFailure",
			params:       map[string]string{ParamResponseCode: "51", ParamTxnRef: "corr-1", ParamTransactionNo: "99"},
			wantProvider: adapter.BankRedirect, wantTxnID: "99",
		},
		{
			name:         "MissingCode",
			params:       map[string]string{ParamTxnRef: "corr-1"},
			wantProvider: adapter.Unknown,
		},
		{
			name:         "MalformedCode",
			params:       map[string]string{ParamResponseCode: "OK"},
			wantProvider: adapter.Unknown,
		},
		{
			name:         "NilParams",
			params:       nil,
			wantProvider: adapter.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Parse(tt.params)
			assert.Equal(t, tt.wantProvider, out.Provider)
			assert.Equal(t, tt.wantSuccess, out.Success)
			assert.Equal(t, tt.wantCancelled, out.Cancelled)
			assert.Equal(t, tt.wantTxnID, out.ProviderTransactionID)
		})
	}
}

func TestAdapter_Parse_AmountAndReference(t *testing.T) {
	out := New().Parse(map[string]string{
		ParamResponseCode: "00", ParamTxnRef: "corr-42", ParamTransactionNo: "1", ParamAmount: "15000000",
	})
	require.NotNil(t, out.Amount)
	assert.Equal(t, int64(150000), *out.Amount)
	assert.Equal(t, "corr-42", out.MerchantReference)
	assert.Equal(t, "00", out.RawCode)
	assert.Equal(t, "15000000", out.Params[ParamAmount])
}

func TestAdapter_Metadata(t *testing.T) {
	a := New()
	assert.Equal(t, Name, a.GetName())
	assert.Equal(t, adapter.BankRedirect, a.GetProviderID())
	assert.True(t, a.RequiresVerification())
}
