package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/payment-reconciler/internal/context"
	"github.com/yourorg/payment-reconciler/internal/draft"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/monitor"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

const maxDraftBody = 64 << 10

// draftResponse is returned when a draft is created. The correlation id is
// what the page sends to the provider as the merchant reference.
type draftResponse struct {
	CorrelationID string       `json:"correlationId"`
	Kind          pending.Kind `json:"kind"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	DisplayAmount string       `json:"displayAmount"`
	Discount      int64        `json:"discount,omitempty"`
}

func scopeOf(c *gin.Context) string {
	if s := strings.TrimSpace(c.GetHeader(SessionHeader)); s != "" {
		return s
	}
	if s, err := c.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// draftTarget resolves the scope and kind of a /pending request, writing the
// error response when either is missing.
func draftTarget(c *gin.Context) (string, pending.Kind, bool) {
	kind, err := pending.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction kind"})
		return "", "", false
	}
	scope := scopeOf(c)
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + SessionHeader})
		return "", "", false
	}
	return scope, kind, true
}

func (s *Server) handleCreateDraft(c *gin.Context) {
	scope, kind, ok := draftTarget(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDraftBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	valid, violations, err := s.deps.Contracts.Validate(kind, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON"})
		return
	}
	if !valid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	tc := context.NewTraceContext(c.Request.Context())
	var tx *pending.Transaction
	switch kind {
	case pending.OrderCheckout:
		var req draft.CheckoutRequest
		if err = json.Unmarshal(body, &req); err == nil {
			tx, err = s.deps.Builder.BuildOrder(tc, scope, req)
		}
	default:
		var req draft.DepositRequest
		if err = json.Unmarshal(body, &req); err == nil {
			tx, err = s.deps.Builder.BuildDeposit(tc, scope, req)
		}
	}
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, draft.ErrUnknownVoucher) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Pending.Save(c.Request.Context(), tx); err != nil {
		slog.Error("[API] Failed to save draft", append(tc.LogAttrs(), "scope", scope, "kind", kind, "error", err)...)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "draft store unavailable"})
		return
	}
	slog.Info("[API] Draft created", append(tc.LogAttrs(), "scope", scope, "kind", kind, "correlationId", tx.CorrelationID)...)

	resp := draftResponse{
		CorrelationID: tx.CorrelationID,
		Kind:          tx.Kind,
		Amount:        tx.ExpectedAmount(),
		Currency:      tx.Currency,
		DisplayAmount: orchestrator.FormatAmount(tx.ExpectedAmount(), tx.Currency),
	}
	if tx.Order != nil {
		resp.Discount = tx.Order.VoucherDiscount
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetDraft(c *gin.Context) {
	scope, kind, ok := draftTarget(c)
	if !ok {
		return
	}
	tx, err := s.deps.Pending.Load(c.Request.Context(), scope, kind)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending transaction"})
	case err != nil:
		slog.Error("[API] Failed to load draft", "scope", scope, "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "draft store unavailable"})
	default:
		c.JSON(http.StatusOK, tx)
	}
}

func (s *Server) handleDeleteDraft(c *gin.Context) {
	scope, kind, ok := draftTarget(c)
	if !ok {
		return
	}
	if err := s.deps.Pending.Clear(c.Request.Context(), scope, kind); err != nil {
		slog.Error("[API] Failed to clear draft", "scope", scope, "kind", kind, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "draft store unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleConfirm is the provider return URL. Every outcome is a rendered
// Result; PENDING answers 202 so the page knows to poll again.
func (s *Server) handleConfirm(c *gin.Context) {
	kind, err := pending.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction kind"})
		return
	}

	params := make(map[string]string, len(c.Request.URL.Query()))
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	res := s.deps.Reconciler.Reconcile(c.Request.Context(), orchestrator.Request{
		Scope:        scopeOf(c),
		Kind:         kind,
		ProviderHint: c.Param("provider"),
		Params:       params,
	})

	status := http.StatusOK
	if res.Status == orchestrator.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (s *Server) handleGetMarker(c *gin.Context) {
	m, err := s.deps.Markers.Lookup(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, idempotency.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no marker"})
	case err != nil:
		slog.Error("[API] Marker lookup failed", "correlationId", c.Param("id"), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "marker store unavailable"})
	default:
		c.JSON(http.StatusOK, m)
	}
}

func (s *Server) handleRetrospective(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = t
	}
	c.JSON(http.StatusOK, s.reporter.GenerateRetrospective(s.deps.Journal.Since(since)))
}
