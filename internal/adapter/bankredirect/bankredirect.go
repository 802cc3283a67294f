// Package bankredirect parses the return redirect of the bank-redirect gateway.
package bankredirect

import (
	"github.com/yourorg/payment-reconciler/internal/adapter"
)

const (
	Name = "bank-redirect"

	ParamResponseCode  = "vnp_ResponseCode"
	ParamTxnRef        = "vnp_TxnRef"
	ParamTransactionNo = "vnp_TransactionNo"
	ParamAmount        = "vnp_Amount"

	CodeApproved  = "00"
	CodeCancelled = "24"

	// vnp_Amount is echoed multiplied by 100.
	amountScale = 100
)

// Adapter implements adapter.ProviderAdapter for the bank-redirect gateway.
// Its redirect parameters are not bound to the actual charge, so outcomes
// must be verified server-side before they are trusted.
type Adapter struct{}

// New creates a bank-redirect adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) GetName() string                   { return Name }
func (a *Adapter) GetProviderID() adapter.ProviderID { return adapter.BankRedirect }
func (a *Adapter) RequiresVerification() bool        { return true }

// Parse implements adapter.ProviderAdapter.
func (a *Adapter) Parse(params map[string]string) adapter.PaymentOutcome {
	code := adapter.Param(params, ParamResponseCode)
	if _, ok := adapter.IntCode(code); !ok {
		return adapter.UnknownOutcome(params)
	}

	txnNo := adapter.Param(params, ParamTransactionNo)
	if txnNo == "0" {
		// the gateway sends 0 when no transaction was created
		txnNo = ""
	}

	outcome := adapter.PaymentOutcome{
		Provider:              adapter.BankRedirect,
		ProviderTransactionID: txnNo,
		MerchantReference:     adapter.Param(params, ParamTxnRef),
		RawCode:               code,
		Amount:                adapter.Amount(adapter.Param(params, ParamAmount), amountScale),
		Params:                adapter.CopyParams(params),
	}

	switch code {
	case CodeApproved:
		outcome.Success = true
	case CodeCancelled:
		outcome.Cancelled = true
	}
	return outcome
}
