package backend

import "time"

// Order is a committed course purchase.
type Order struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	IdempotencyToken string      `gorm:"size:100;uniqueIndex;not null" json:"idempotencyToken"`
	Scope            string      `gorm:"size:100;index" json:"scope"`
	Currency         string      `gorm:"size:10;default:'VND'" json:"currency"`
	BuyerName        string      `gorm:"size:200" json:"buyerName"`
	BuyerEmail       string      `gorm:"size:200" json:"buyerEmail"`
	BuyerPhone       string      `gorm:"size:50" json:"buyerPhone,omitempty"`
	VoucherCode      string      `gorm:"size:50" json:"voucherCode,omitempty"`
	Total            int64       `gorm:"not null" json:"total"` // Minor units
	Items            []OrderItem `json:"items"`
	CreatedAt        time.Time   `json:"createdAt"`
}

func (o *Order) TableName() string {
	return "orders"
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	OrderID   uint   `gorm:"index" json:"-"`
	CourseID  string `gorm:"size:100" json:"courseId"`
	Title     string `gorm:"size:300" json:"title"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// WalletDeposit is a committed top-up.
type WalletDeposit struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	IdempotencyToken string    `gorm:"size:100;uniqueIndex;not null" json:"idempotencyToken"`
	Scope            string    `gorm:"size:100;index" json:"scope"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Method           string    `gorm:"size:50" json:"method"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Wallet holds the balance of one scope.
type Wallet struct {
	Scope     string    `gorm:"primaryKey;size:100" json:"scope"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}
