// Package backend is a small reference implementation of the order and
// wallet services the reconciler commits to. Token uniqueness is enforced by
// a unique index, so a reused token is reported as a duplicate whatever the
// caller does.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourorg/payment-reconciler/internal/commit"
)

var (
	// ErrDuplicateToken is returned when the idempotency token was already used.
	ErrDuplicateToken = errors.New("backend: duplicate idempotency token")
	// ErrInvalidRequest wraps validation failures.
	ErrInvalidRequest = errors.New("backend: invalid request")
)

// Service owns the order and wallet tables.
type Service struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn and migrates it.
func Open(dsn string) (*Service, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Order{}, &OrderItem{}, &WalletDeposit{}, &Wallet{}); err != nil {
		return nil, fmt.Errorf("backend: migrate: %w", err)
	}
	return &Service{db: db}, nil
}

// Close releases the database.
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateToken
	}
	return err
}

// CreateOrder persists an order under its idempotency token.
func (s *Service) CreateOrder(ctx context.Context, req commit.OrderRequest) (*Order, error) {
	if strings.TrimSpace(req.IdempotencyToken) == "" {
		return nil, invalid("idempotency token is required")
	}
	if len(req.Draft.Items) == 0 {
		return nil, invalid("order has no items")
	}
	var subtotal int64
	items := make([]OrderItem, 0, len(req.Draft.Items))
	for _, it := range req.Draft.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, invalid("item %s has an invalid quantity or price", it.CourseID)
		}
		subtotal += it.UnitPrice * int64(it.Quantity)
		items = append(items, OrderItem{CourseID: it.CourseID, Title: it.Title, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	expected := subtotal - req.Draft.VoucherDiscount
	if expected < 0 {
		expected = 0
	}
	if req.Draft.Total != expected {
		return nil, invalid("total %d does not match items and voucher (%d)", req.Draft.Total, expected)
	}

	order := &Order{
		IdempotencyToken: req.IdempotencyToken,
		Scope:            req.Scope,
		Currency:         req.Currency,
		BuyerName:        req.Draft.Buyer.Name,
		BuyerEmail:       req.Draft.Buyer.Email,
		BuyerPhone:       req.Draft.Buyer.Phone,
		VoucherCode:      req.Draft.VoucherCode,
		Total:            req.Draft.Total,
		Items:            items,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, translate(err)
	}
	return order, nil
}

// CreditWallet records a deposit and raises the wallet balance atomically.
func (s *Service) CreditWallet(ctx context.Context, req commit.DepositRequest) (*WalletDeposit, error) {
	if strings.TrimSpace(req.IdempotencyToken) == "" {
		return nil, invalid("idempotency token is required")
	}
	if req.Draft.Amount <= 0 {
		return nil, invalid("deposit amount must be positive")
	}
	if req.Scope == "" {
		return nil, invalid("scope is required")
	}

	deposit := &WalletDeposit{
		IdempotencyToken: req.IdempotencyToken,
		Scope:            req.Scope,
		Amount:           req.Draft.Amount,
		Method:           req.Draft.Method,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(deposit).Error; err != nil {
			return err
		}
		wallet := Wallet{Scope: req.Scope, Balance: req.Draft.Amount}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.Assignments(map[string]any{"balance": gorm.Expr("balance + ?", req.Draft.Amount), "updated_at": gorm.Expr("CURRENT_TIMESTAMP")}),
		}).Create(&wallet).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return deposit, nil
}

// OrdersByToken counts orders created under token.
func (s *Service) OrdersByToken(ctx context.Context, token string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Order{}).Where("idempotency_token = ?", token).Count(&n).Error
	return n, err
}

// ListOrders returns the orders of a scope, newest first.
func (s *Service) ListOrders(ctx context.Context, scope string) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).Preload("Items").Where("scope = ?", scope).Order("id DESC").Find(&orders).Error
	return orders, err
}

// Balance returns the wallet balance of scope, zero if it has none.
func (s *Service) Balance(ctx context.Context, scope string) (int64, error) {
	var w Wallet
	err := s.db.WithContext(ctx).Where("scope = ?", scope).Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return w.Balance, err
}
