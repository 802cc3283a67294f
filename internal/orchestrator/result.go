package orchestrator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

// State is a step of the confirmation state machine.
type State string

const (
	StateStart       State = "START"
	StateParsing     State = "PARSING"
	StateVerifying   State = "VERIFYING"
	StateReconciling State = "RECONCILING"
	StateCommitting  State = "COMMITTING"
	StateDone        State = "DONE"
)

// Status is what the result presenter renders.
type Status string

const (
	StatusSuccess          Status = "SUCCESS"
	StatusFailure          Status = "FAILURE"
	StatusAlreadyProcessed Status = "ALREADY_PROCESSED"
	// StatusPending is not terminal: the same confirmation may be re-run.
	StatusPending Status = "PENDING"
)

// Terminal reports whether s ends the flow for good.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ErrorKind classifies failures and pending exits.
type ErrorKind string

const (
	ErrParse                    ErrorKind = "PARSE_ERROR"
	ErrUserCancelled            ErrorKind = "USER_CANCELLED"
	ErrPaymentDeclined          ErrorKind = "PAYMENT_DECLINED"
	ErrVerificationRejected     ErrorKind = "VERIFICATION_REJECTED"
	ErrVerificationInconclusive ErrorKind = "VERIFICATION_INCONCLUSIVE"
	ErrMissingDraft             ErrorKind = "MISSING_DRAFT"
	ErrPolicyRejected           ErrorKind = "POLICY_REJECTED"
	ErrDuplicateCommit          ErrorKind = "DUPLICATE_COMMIT"
	ErrBackendCommit            ErrorKind = "BACKEND_COMMIT_ERROR"
	ErrReservationInFlight      ErrorKind = "RESERVATION_IN_FLIGHT"
	ErrStoreUnavailable         ErrorKind = "STORE_UNAVAILABLE"
	ErrSessionMissing           ErrorKind = "SESSION_MISSING"
)

// userMessages are the only texts a user ever sees; provider and backend
// messages stay in the logs.
var userMessages = map[ErrorKind]string{
	ErrParse:                    "We could not read the payment result. Please start the payment again.",
	ErrUserCancelled:            "The payment was cancelled.",
	ErrPaymentDeclined:          "The payment was not completed.",
	ErrVerificationRejected:     "The payment could not be confirmed by the bank.",
	ErrVerificationInconclusive: "We are still confirming your payment. Please check again shortly.",
	ErrMissingDraft:             "We could not find the order for this payment. Please contact support.",
	ErrPolicyRejected:           "The payment does not match the order. Please contact support.",
	ErrDuplicateCommit:          "This payment was already processed.",
	ErrBackendCommit:            "We could not complete your order. Please try again.",
	ErrReservationInFlight:      "Your payment is being processed. Please check again shortly.",
	ErrStoreUnavailable:         "We are temporarily unable to process the payment. Please check again shortly.",
	ErrSessionMissing:           "We could not match this payment to your session. Please return to the page where you started the payment.",
}

// UserMessage returns the fixed message of kind.
func UserMessage(kind ErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return "Something went wrong with the payment."
}

// Failure describes why a run did not succeed.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Summary describes the committed business effect.
type Summary struct {
	ResourceID    string       `json:"resourceId,omitempty"`
	Kind          pending.Kind `json:"kind,omitempty"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	DisplayAmount string       `json:"displayAmount,omitempty"`
}

// Result is the outcome of one Reconcile call.
type Result struct {
	Status        Status             `json:"status"`
	CorrelationID string             `json:"correlationId,omitempty"`
	Provider      adapter.ProviderID `json:"provider"`
	Kind          pending.Kind       `json:"kind"`
	Summary       *Summary           `json:"summary,omitempty"`
	Failure       *Failure           `json:"failure,omitempty"`
	Retryable     bool               `json:"retryable"`
	Path          []State            `json:"path"`
}

// ErrorKindOf returns the failure kind, or "" for successful runs.
func (r Result) ErrorKindOf() ErrorKind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

// currencyExponents lists minor-unit exponents that differ from two.
var currencyExponents = map[string]int32{
	"VND": 0,
	"JPY": 0,
	"KRW": 0,
}

// FormatAmount renders a minor-unit amount in major units, e.g. 1999 USD
// as "19.99 USD".
func FormatAmount(amount int64, currency string) string {
	currency = strings.ToUpper(currency)
	exp, ok := currencyExponents[currency]
	if !ok {
		exp = 2
	}
	s := decimal.New(amount, -exp).StringFixed(exp)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func newSummary(resourceID string, kind pending.Kind, amount int64, currency string) *Summary {
	return &Summary{
		ResourceID:    resourceID,
		Kind:          kind,
		Amount:        amount,
		Currency:      currency,
		DisplayAmount: FormatAmount(amount, currency),
	}
}
