package walleta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
)

func TestAdapter_Parse(t *testing.T) {
	a := New()

	t.Run("Success", func(t *testing.T) {
		out := a.Parse(map[string]string{
			ParamResultCode: "0", ParamOrderID: "corr-1", ParamTransID: "T1", ParamAmount: "50000",
		})
		assert.True(t, out.Success)
		assert.Equal(t, adapter.WalletA, out.Provider)
		assert.Equal(t, "T1", out.ProviderTransactionID)
		assert.Equal(t, "corr-1", out.MerchantReference)
		require.NotNil(t, out.Amount)
		assert.Equal(t, int64(50000), *out.Amount)
	})

	t.Run("UserCancelled", func(t *testing.T) {
		out := a.Parse(map[string]string{ParamResultCode: "1006", ParamOrderID: "corr-1"})
		assert.False(t, out.Success)
		assert.True(t, out.Cancelled)
		assert.Equal(t, adapter.WalletA, out.Provider)
	})

	t.Run("Declined", func(t *testing.T) {
		out := a.Parse(map[string]string{ParamResultCode: "1001", ParamOrderID: "corr-1"})
		assert.False(t, out.Success)
		assert.False(t, out.Cancelled)
		assert.Equal(t, "1001", out.RawCode)
	})

	t.Run("NonNumericCode", func(t *testing.T) {
		out := a.Parse(map[string]string{ParamResultCode: "zero", ParamTransID: "T1"})
		assert.Equal(t, adapter.Unknown, out.Provider)
		assert.False(t, out.Success)
	})

	t.Run("MissingCode", func(t *testing.T) {
		out := a.Parse(map[string]string{ParamTransID: "T1"})
		assert.Equal(t, adapter.Unknown, out.Provider)
	})

	t.Run("IgnoresForeignSchema", func(t *testing.T) {
		// wallet B's success parameters mean nothing to wallet A
		out := a.Parse(map[string]string{"status": "1", "apptransid": "240101_x"})
		assert.Equal(t, adapter.Unknown, out.Provider)
		assert.False(t, out.Success)
	})
}

func TestAdapter_IsTrusted(t *testing.T) {
	assert.False(t, New().RequiresVerification())
	assert.Equal(t, Name, New().GetName())
}
