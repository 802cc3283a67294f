package backend

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/payment-reconciler/internal/commit"
)

// Sandbox codes returned by the verification endpoint.
const (
	verifyCodeInvalid = "97"
)

type verifyRequest struct {
	Provider string            `json:"provider"`
	Params   map[string]string `json:"params"`
}

// RegisterRoutes mounts the backend endpoints on r.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/orders", s.handleCreateOrder)
	r.GET("/v1/orders", s.handleListOrders)
	r.POST("/v1/wallet/deposits", s.handleCreditWallet)
	r.GET("/v1/wallet/:scope", s.handleBalance)
	r.POST("/payments/bank-redirect/verify", s.handleVerify)
}

// tokenFrom reconciles the body token with the Idempotency-Key header.
func tokenFrom(c *gin.Context, bodyToken string) (string, bool) {
	header := strings.TrimSpace(c.GetHeader(commit.IdempotencyHeader))
	switch {
	case header == "":
		return bodyToken, true
	case bodyToken == "":
		return header, true
	default:
		return bodyToken, header == bodyToken
	}
}

func (s *Service) writeCommitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDuplicateToken):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate idempotency token"})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		slog.Error("[Backend] Commit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Service) handleCreateOrder(c *gin.Context) {
	var req commit.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, ok := tokenFrom(c, req.IdempotencyToken)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency header and body disagree"})
		return
	}
	req.IdempotencyToken = token

	order, err := s.CreateOrder(c.Request.Context(), req)
	if err != nil {
		s.writeCommitError(c, err)
		return
	}
	slog.Info("[Backend] Order created", "order_id", order.ID, "token", order.IdempotencyToken, "total", order.Total)
	c.JSON(http.StatusCreated, gin.H{"id": order.ID, "amount": order.Total})
}

func (s *Service) handleCreditWallet(c *gin.Context) {
	var req commit.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, ok := tokenFrom(c, req.IdempotencyToken)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency header and body disagree"})
		return
	}
	req.IdempotencyToken = token

	deposit, err := s.CreditWallet(c.Request.Context(), req)
	if err != nil {
		s.writeCommitError(c, err)
		return
	}
	slog.Info("[Backend] Wallet credited", "deposit_id", deposit.ID, "scope", deposit.Scope, "amount", deposit.Amount)
	c.JSON(http.StatusCreated, gin.H{"id": deposit.ID, "amount": deposit.Amount})
}

func (s *Service) handleListOrders(c *gin.Context) {
	orders, err := s.ListOrders(c.Request.Context(), c.Query("scope"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Service) handleBalance(c *gin.Context) {
	balance, err := s.Balance(c.Request.Context(), c.Param("scope"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope": c.Param("scope"), "balance": balance})
}

// handleVerify is a sandbox verifier: it echoes the gateway response code of
// a well-formed redirect and refuses one without a transaction reference.
func (s *Service) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"responseCode": verifyCodeInvalid, "message": "Invalid request"})
		return
	}
	code := strings.TrimSpace(req.Params["vnp_ResponseCode"])
	if code == "" || strings.TrimSpace(req.Params["vnp_TxnRef"]) == "" {
		c.JSON(http.StatusOK, gin.H{"responseCode": verifyCodeInvalid, "message": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"responseCode": code, "message": "Confirm Success"})
}
