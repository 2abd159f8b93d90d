package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptSessionOpen      AttemptStatus = "SESSION_OPEN"
	AttemptPaymentSubmitted AttemptStatus = "PAYMENT_SUBMITTED"
	AttemptOrderCreated     AttemptStatus = "ORDER_CREATED"
	AttemptCompleted        AttemptStatus = "COMPLETED"
	AttemptOrderFailed      AttemptStatus = "ORDER_FAILED"
)

// CheckoutAttempt is the local ledger row for one payment session.
type CheckoutAttempt struct {
	PaymentIntentID string          `gorm:"primaryKey;size:64;not null"` // provider payment intent id
	ItemKind        ItemKind        `gorm:"size:16;not null"`
	ItemID          string          `gorm:"size:128;index;not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	UserID          string          `gorm:"size:128;index"`
	Draft           string          `gorm:"type:text"` // json encoded OrderDraft, set on submit
	Status          AttemptStatus   `gorm:"size:32;index;not null"`
	OrderID         string          `gorm:"size:128;index"` // backend order id once created
	LastError       string          `gorm:"size:512"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasOrder reports whether the backend already holds an order for this attempt.
func (a *CheckoutAttempt) HasOrder() bool {
	return a.OrderID != ""
}

// WebhookEvent marks a provider webhook delivery as handled.
type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:64"`
	EventType   string `gorm:"size:64;not null"`
	ProcessedAt time.Time
}
