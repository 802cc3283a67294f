// Package walleta parses the return redirect of wallet gateway A.
package walleta

import (
	"github.com/yourorg/payment-reconciler/internal/adapter"
)

const (
	Name = "wallet-a"

	ParamResultCode = "resultCode"
	ParamOrderID    = "orderId"
	ParamTransID    = "transId"
	ParamAmount     = "amount"

	codeSuccess       = 0
	codeUserCancelled = 1006
)

// Adapter implements adapter.ProviderAdapter for wallet A. The redirect is
// signed by the wallet and trusted as returned.
type Adapter struct{}

// New creates a wallet A adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) GetName() string                   { return Name }
func (a *Adapter) GetProviderID() adapter.ProviderID { return adapter.WalletA }
func (a *Adapter) RequiresVerification() bool        { return false }

// Parse implements adapter.ProviderAdapter.
func (a *Adapter) Parse(params map[string]string) adapter.PaymentOutcome {
	raw := adapter.Param(params, ParamResultCode)
	code, ok := adapter.IntCode(raw)
	if !ok {
		return adapter.UnknownOutcome(params)
	}

	return adapter.PaymentOutcome{
		Success:               code == codeSuccess,
		Cancelled:             code == codeUserCancelled,
		Provider:              adapter.WalletA,
		ProviderTransactionID: adapter.Param(params, ParamTransID),
		MerchantReference:     adapter.Param(params, ParamOrderID),
		RawCode:               raw,
		Amount:                adapter.Amount(adapter.Param(params, ParamAmount), 1),
		Params:                adapter.CopyParams(params),
	}
}
