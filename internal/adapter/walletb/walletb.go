// Package walletb parses the return redirect of wallet gateway B.
package walletb

import (
	"github.com/yourorg/payment-reconciler/internal/adapter"
)

const (
	Name = "wallet-b"

	ParamStatus     = "status"
	ParamAppTransID = "apptransid"
	ParamAmount     = "amount"

	statusCompleted = 1
)

// Adapter implements adapter.ProviderAdapter for wallet B. Wallet B has no
// separate transaction number on its redirect: apptransid is registered with
// the wallet when the order is created and serves as both identifiers.
type Adapter struct{}

// New creates a wallet B adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) GetName() string                   { return Name }
func (a *Adapter) GetProviderID() adapter.ProviderID { return adapter.WalletB }
func (a *Adapter) RequiresVerification() bool        { return false }

// Parse implements adapter.ProviderAdapter.
func (a *Adapter) Parse(params map[string]string) adapter.PaymentOutcome {
	raw := adapter.Param(params, ParamStatus)
	status, ok := adapter.IntCode(raw)
	if !ok {
		return adapter.UnknownOutcome(params)
	}

	appTransID := adapter.Param(params, ParamAppTransID)
	return adapter.PaymentOutcome{
		Success:               status == statusCompleted,
		Provider:              adapter.WalletB,
		ProviderTransactionID: appTransID,
		MerchantReference:     appTransID,
		RawCode:               raw,
		Amount:                adapter.Amount(adapter.Param(params, ParamAmount), 1),
		Params:                adapter.CopyParams(params),
	}
}
