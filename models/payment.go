package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentStatus mirrors the gateway's terminal states plus the refund and
// dispute states the reconciler can move a payment into.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentSucceeded     PaymentStatus = "succeeded"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentPartialRefund PaymentStatus = "partial_refund"
	PaymentDisputed      PaymentStatus = "disputed"
	PaymentCanceled      PaymentStatus = "canceled"
)

type Payment struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	TenantID         string         `gorm:"size:36;not null;index" json:"tenant_id"`
	Amount           int64          `gorm:"not null" json:"amount"` // minor currency units
	Currency         string         `gorm:"size:3;not null;default:'usd'" json:"currency"`
	Status           PaymentStatus  `gorm:"size:20;default:'pending'" json:"status"`
	ExternalRef      string         `gorm:"uniqueIndex;size:255;not null" json:"external_ref"` // gateway payment-intent id
	GatewayAccountID string         `gorm:"size:255" json:"gateway_account_id"`
	InvoiceID        *string        `gorm:"size:36;index" json:"invoice_id"`
	BookingID        *string        `gorm:"size:36;index" json:"booking_id"`
	ContactID        *string        `gorm:"size:36;index" json:"contact_id"`
	IsDeposit        bool           `gorm:"default:false" json:"is_deposit"`
	RefundedAmount   int64          `gorm:"default:0" json:"refunded_amount"`
	CardBrand        string         `gorm:"size:20" json:"card_brand"`
	CardLast4        string         `gorm:"size:4" json:"card_last4"`
	ReceiptURL       string         `gorm:"size:500" json:"receipt_url"`
	FailureReason    string         `gorm:"type:text" json:"failure_reason"`
	Source           string         `gorm:"size:20" json:"source"` // webhook, manual_entry, terminal, checkout
	CapturedAt       *time.Time     `json:"captured_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}
