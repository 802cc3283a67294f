// Package verifier performs the authoritative server-side check of a
// bank-redirect outcome. Its answer is the source of truth; when no answer
// can be obtained the verdict is INCONCLUSIVE, never a rejection.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/bankredirect"
)

const (
	verifyPath           = "/payments/bank-redirect/verify"
	defaultRetryAttempts = 1
	defaultRetryDelay    = 200 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	maxBodyBytes         = 64 << 10
)

// Verdict is the tri-state answer of a verification.
type Verdict string

const (
	Confirmed    Verdict = "CONFIRMED"
	Rejected     Verdict = "REJECTED"
	Inconclusive Verdict = "INCONCLUSIVE"
)

// Result holds the outcome of one verification.
type Result struct {
	Verdict      Verdict
	ResponseCode string // Authoritative response code, when one was obtained
	Cancelled    bool   // The authoritative code is the user-cancelled code
	Reason       string // Diagnostic detail, never shown to users
	Attempts     int
	LatencyMs    int64
}

type verifyRequest struct {
	Provider adapter.ProviderID `json:"provider"`
	Params   map[string]string  `json:"params"`
}

type verifyResponse struct {
	ResponseCode any    `json:"responseCode"`
	Message      string `json:"message"`
}

// Client calls the backend's verification endpoint.
type Client struct {
	httpClient    *http.Client
	apiBaseURL    string
	retryAttempts int
	retryDelay    time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithRetry sets how many extra attempts follow a transport failure and the
// pause between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts >= 0 {
			c.retryAttempts = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// NewClient creates a verification client. A nil http client gets a default
// with a bounded timeout.
func NewClient(baseURL string, client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	c := &Client{
		httpClient:    client,
		apiBaseURL:    strings.TrimRight(baseURL, "/"),
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the backend whether outcome reflects a real charge. The caller
// bounds the whole call through ctx.
func (c *Client) Verify(ctx context.Context, outcome adapter.PaymentOutcome) Result {
	ctx, span := otel.Tracer("verifier").Start(ctx, "Verifier.Verify")
	defer span.End()

	startTime := time.Now()
	body, err := json.Marshal(verifyRequest{Provider: outcome.Provider, Params: outcome.Params})
	if err != nil {
		return Result{Verdict: Inconclusive, Reason: fmt.Sprintf("encode request: %v", err)}
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(c.retryDelay):
			}
			if ctx.Err() != nil {
				break
			}
		}
		attempts++

		res, retry, err := c.do(ctx, body)
		if err == nil {
			res.Attempts = attempts
			res.LatencyMs = time.Since(startTime).Milliseconds()
			span.SetAttributes(attribute.String("verdict", string(res.Verdict)), attribute.Int("attempts", attempts))
			return res
		}
		lastErr = err
		slog.Warn("[Verifier] Verification attempt failed", "attempt", attempts, "error", err)
		if !retry {
			break
		}
	}

	span.SetAttributes(attribute.String("verdict", string(Inconclusive)), attribute.Int("attempts", attempts))
	return Result{
		Verdict:   Inconclusive,
		Reason:    fmt.Sprintf("verifier: no authoritative answer after %d attempt(s): %v", attempts, lastErr),
		Attempts:  attempts,
		LatencyMs: time.Since(startTime).Milliseconds(),
	}
}

// do performs one HTTP exchange. A nil error means the backend answered
// authoritatively; otherwise retry tells whether another attempt may help.
func (c *Client) do(ctx context.Context, body []byte) (Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, false, fmt.Errorf("verifier: failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		retry := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		return Result{}, retry, fmt.Errorf("verifier: http client error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, true, fmt.Errorf("verifier: failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return Result{}, true, fmt.Errorf("verifier: received HTTP %d", resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, false, fmt.Errorf("verifier: undecodable response (HTTP %d): %w", resp.StatusCode, err)
	}
	code, err := cast.ToStringE(decoded.ResponseCode)
	if err != nil || decoded.ResponseCode == nil || code == "" {
		return Result{}, false, fmt.Errorf("verifier: response (HTTP %d) carries no response code", resp.StatusCode)
	}

	return classify(code, decoded.Message), false, nil
}

func classify(code, message string) Result {
	switch code {
	case bankredirect.CodeApproved:
		return Result{Verdict: Confirmed, ResponseCode: code}
	case bankredirect.CodeCancelled:
		return Result{Verdict: Rejected, ResponseCode: code, Cancelled: true, Reason: message}
	default:
		return Result{Verdict: Rejected, ResponseCode: code, Reason: message}
	}
}
