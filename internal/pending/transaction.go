// Package pending holds the draft payload saved before a user is sent to a
// payment provider, so it survives the full navigation away and back.
package pending

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the two business effects a payment can produce.
type Kind string

const (
	OrderCheckout Kind = "ORDER_CHECKOUT"
	WalletDeposit Kind = "WALLET_DEPOSIT"
)

// ParseKind accepts the canonical name or the short route form
// ("order", "deposit").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "order", "order_checkout", "checkout":
		return OrderCheckout, nil
	case "deposit", "wallet_deposit", "wallet":
		return WalletDeposit, nil
	default:
		return "", fmt.Errorf("pending: unknown transaction kind %q", s)
	}
}

// Route returns the short form used in URLs.
func (k Kind) Route() string {
	if k == WalletDeposit {
		return "deposit"
	}
	return "order"
}

// LineItem is one purchased course.
type LineItem struct {
	CourseID  string `json:"courseId"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unitPrice"` // Minor currency units
	Quantity  int    `json:"quantity"`
}

// Buyer is the contact captured at checkout.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// OrderDraft is the checkout payload.
type OrderDraft struct {
	Items           []LineItem `json:"items"`
	Buyer           Buyer      `json:"buyer"`
	VoucherCode     string     `json:"voucherCode,omitempty"`
	VoucherDiscount int64      `json:"voucherDiscount,omitempty"`
	Total           int64      `json:"total"`
}

// DepositDraft is the wallet top-up payload.
type DepositDraft struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
}

// Transaction is one pending draft. Exactly one of Order and Deposit is set,
// matching Kind.
type Transaction struct {
	Kind          Kind          `json:"kind"`
	CorrelationID string        `json:"correlationId"`
	Scope         string        `json:"scope"`
	Currency      string        `json:"currency"`
	CreatedAt     time.Time     `json:"createdAt"`
	Order         *OrderDraft   `json:"order,omitempty"`
	Deposit       *DepositDraft `json:"deposit,omitempty"`
}

// ExpectedAmount is the amount the provider should have charged.
func (t *Transaction) ExpectedAmount() int64 {
	switch {
	case t.Order != nil:
		return t.Order.Total
	case t.Deposit != nil:
		return t.Deposit.Amount
	default:
		return 0
	}
}

// Validate checks the structural invariants of a draft.
func (t *Transaction) Validate() error {
	if t.Scope == "" {
		return errors.New("pending: scope is required")
	}
	if t.CorrelationID == "" {
		return errors.New("pending: correlation id is required")
	}
	switch t.Kind {
	case OrderCheckout:
		if t.Order == nil || t.Deposit != nil {
			return errors.New("pending: order checkout needs exactly an order draft")
		}
		if len(t.Order.Items) == 0 {
			return errors.New("pending: order draft has no items")
		}
	case WalletDeposit:
		if t.Deposit == nil || t.Order != nil {
			return errors.New("pending: wallet deposit needs exactly a deposit draft")
		}
		if t.Deposit.Amount <= 0 {
			return errors.New("pending: deposit amount must be positive")
		}
	default:
		return fmt.Errorf("pending: unknown transaction kind %q", t.Kind)
	}
	return nil
}
