// Package draft builds the pending transaction a user carries to a payment
// provider: it prices the cart, applies a voucher and assigns the
// correlation id that ties the round trip together.
package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/yourorg/payment-reconciler/internal/context"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

// ErrUnknownVoucher is returned for a voucher code the book does not hold.
var ErrUnknownVoucher = errors.New("draft: unknown voucher")

// CheckoutRequest is what the checkout page submits.
type CheckoutRequest struct {
	Items       []pending.LineItem `json:"items"`
	Buyer       pending.Buyer      `json:"buyer"`
	VoucherCode string             `json:"voucherCode,omitempty"`
	Currency    string             `json:"currency,omitempty"`
}

// DepositRequest is what the wallet top-up page submits.
type DepositRequest struct {
	Amount   int64  `json:"amount"`
	Method   string `json:"method"`
	Currency string `json:"currency,omitempty"`
}

// Voucher is a discount. PercentOff and AmountOff may be combined;
// MaxDiscount caps the result when positive.
type Voucher struct {
	Code        string          `json:"code"`
	PercentOff  decimal.Decimal `json:"percentOff"`
	AmountOff   int64           `json:"amountOff"`
	MaxDiscount int64           `json:"maxDiscount"`
}

// Discount returns what the voucher takes off subtotal, never more than it.
func (v Voucher) Discount(subtotal int64) int64 {
	d := decimal.NewFromInt(subtotal).Mul(v.PercentOff).Div(decimal.NewFromInt(100)).Floor()
	d = d.Add(decimal.NewFromInt(v.AmountOff))
	if v.MaxDiscount > 0 {
		d = decimal.Min(d, decimal.NewFromInt(v.MaxDiscount))
	}
	d = decimal.Min(d, decimal.NewFromInt(subtotal))
	if d.IsNegative() {
		return 0
	}
	return d.IntPart()
}

// VoucherBook resolves voucher codes.
type VoucherBook interface {
	Find(code string) (Voucher, bool)
}

// StaticVouchers is a fixed, case-insensitive voucher book.
type StaticVouchers map[string]Voucher

func (s StaticVouchers) Find(code string) (Voucher, bool) {
	v, ok := s[strings.ToUpper(strings.TrimSpace(code))]
	return v, ok
}

// Builder constructs drafts.
type Builder struct {
	vouchers        VoucherBook
	defaultCurrency string
	now             func() time.Time
	newID           func() string

	requestsTotal *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

// NewBuilder creates a builder. Metrics are registered on reg; a nil reg
// keeps them unregistered.
func NewBuilder(vouchers VoucherBook, defaultCurrency string, reg prometheus.Registerer) *Builder {
	if vouchers == nil {
		vouchers = StaticVouchers{}
	}
	factory := promauto.With(reg)
	return &Builder{
		vouchers:        vouchers,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
		newID:           uuid.NewString,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_draft_requests_total",
			Help: "Drafts built, by kind and result.",
		}, []string{"kind", "result"}),
		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_draft_build_duration_seconds",
			Help:    "Time to build a draft.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (b *Builder) currency(requested string) string {
	if requested != "" {
		return strings.ToUpper(requested)
	}
	return b.defaultCurrency
}

func (b *Builder) observe(kind pending.Kind, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	b.requestsTotal.WithLabelValues(string(kind), result).Inc()
	b.buildDuration.Observe(time.Since(start).Seconds())
}

// BuildOrder prices a checkout into an order draft for scope.
func (b *Builder) BuildOrder(tc context.TraceContext, scope string, req CheckoutRequest) (tx *pending.Transaction, err error) {
	_, span := otel.Tracer("draft").Start(tc.Context(), "Builder.BuildOrder")
	defer span.End()
	start := time.Now()
	defer func() { b.observe(pending.OrderCheckout, start, err) }()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("draft: checkout has no items")
	}
	var subtotal int64
	for _, it := range req.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("draft: item %q has an invalid quantity or price", it.CourseID)
		}
		subtotal += it.UnitPrice * int64(it.Quantity)
	}

	order := &pending.OrderDraft{
		Items: append([]pending.LineItem(nil), req.Items...),
		Buyer: req.Buyer,
		Total: subtotal,
	}
	if code := strings.TrimSpace(req.VoucherCode); code != "" {
		v, ok := b.vouchers.Find(code)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVoucher, code)
		}
		order.VoucherCode = v.Code
		order.VoucherDiscount = v.Discount(subtotal)
		order.Total = subtotal - order.VoucherDiscount
	}

	tx = &pending.Transaction{
		Kind:          pending.OrderCheckout,
		CorrelationID: b.newID(),
		Scope:         scope,
		Currency:      b.currency(req.Currency),
		CreatedAt:     b.now().UTC(),
		Order:         order,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// BuildDeposit turns a top-up request into a deposit draft for scope.
func (b *Builder) BuildDeposit(tc context.TraceContext, scope string, req DepositRequest) (tx *pending.Transaction, err error) {
	_, span := otel.Tracer("draft").Start(tc.Context(), "Builder.BuildDeposit")
	defer span.End()
	start := time.Now()
	defer func() { b.observe(pending.WalletDeposit, start, err) }()

	tx = &pending.Transaction{
		Kind:          pending.WalletDeposit,
		CorrelationID: b.newID(),
		Scope:         scope,
		Currency:      b.currency(req.Currency),
		CreatedAt:     b.now().UTC(),
		Deposit:       &pending.DepositDraft{Amount: req.Amount, Method: req.Method},
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}
