// Package commit calls the backend order and wallet services that turn a
// confirmed payment into a business effect. Each call carries the
// correlation id as the backend idempotency token.
package commit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-reconciler/internal/pending"
)

const (
	ordersPath     = "/v1/orders"
	depositsPath   = "/v1/wallet/deposits"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10

	// IdempotencyHeader carries the token alongside the body field.
	IdempotencyHeader = "Idempotency-Key"
)

// ErrDuplicateToken means the backend already used this idempotency token.
var ErrDuplicateToken = errors.New("commit: idempotency token already used")

// BackendError is a non-duplicate refusal from the backend.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("commit: backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Receipt identifies the created resource.
type Receipt struct {
	ResourceID string
	Amount     int64
}

// Committer creates the business effect of a pending transaction.
type Committer interface {
	Commit(ctx context.Context, token string, tx *pending.Transaction) (Receipt, error)
}

// OrderRequest is the wire body of POST /v1/orders.
type OrderRequest struct {
	IdempotencyToken string             `json:"idempotencyToken"`
	Scope            string             `json:"scope"`
	Currency         string             `json:"currency"`
	Draft            pending.OrderDraft `json:"draft"`
}

// DepositRequest is the wire body of POST /v1/wallet/deposits.
type DepositRequest struct {
	IdempotencyToken string               `json:"idempotencyToken"`
	Scope            string               `json:"scope"`
	Currency         string               `json:"currency"`
	Draft            pending.DepositDraft `json:"draft"`
}

type createdResponse struct {
	ID     any    `json:"id"`
	Amount any    `json:"amount"`
	Error  string `json:"error"`
}

// HTTPCommitter talks to the backend over HTTP. It never retries: a retry
// goes back through the idempotency guard.
type HTTPCommitter struct {
	httpClient *http.Client
	apiBaseURL string
}

// NewHTTPCommitter creates a committer. A nil client gets a bounded default.
func NewHTTPCommitter(baseURL string, client *http.Client) *HTTPCommitter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPCommitter{httpClient: client, apiBaseURL: strings.TrimRight(baseURL, "/")}
}

func (c *HTTPCommitter) Commit(ctx context.Context, token string, tx *pending.Transaction) (Receipt, error) {
	ctx, span := otel.Tracer("commit").Start(ctx, "HTTPCommitter.Commit", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(tx.Kind)))

	var (
		path string
		body any
	)
	switch {
	case tx.Kind == pending.OrderCheckout && tx.Order != nil:
		path = ordersPath
		body = OrderRequest{IdempotencyToken: token, Scope: tx.Scope, Currency: tx.Currency, Draft: *tx.Order}
	case tx.Kind == pending.WalletDeposit && tx.Deposit != nil:
		path = depositsPath
		body = DepositRequest{IdempotencyToken: token, Scope: tx.Scope, Currency: tx.Currency, Draft: *tx.Deposit}
	default:
		return Receipt{}, fmt.Errorf("commit: draft does not match kind %q", tx.Kind)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, fmt.Errorf("commit: failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("commit: failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(IdempotencyHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("commit: http client error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Receipt{}, fmt.Errorf("commit: failed to read response body: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var decoded createdResponse
	_ = json.Unmarshal(respBody, &decoded)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return Receipt{}, ErrDuplicateToken
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Receipt{}, &BackendError{StatusCode: resp.StatusCode, Message: msg}
	}

	id, err := cast.ToStringE(decoded.ID)
	if err != nil || decoded.ID == nil || id == "" {
		return Receipt{}, fmt.Errorf("commit: created response (HTTP %d) carries no resource id", resp.StatusCode)
	}
	amount, err := cast.ToInt64E(decoded.Amount)
	if err != nil {
		amount = tx.ExpectedAmount()
	}
	return Receipt{ResourceID: id, Amount: amount}, nil
}
