package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceDraft       InvoiceStatus = "draft"
	InvoiceSent        InvoiceStatus = "sent"
	InvoiceViewed      InvoiceStatus = "viewed"
	InvoiceDepositPaid InvoiceStatus = "deposit_paid"
	InvoicePaid        InvoiceStatus = "paid"
	InvoiceOverdue     InvoiceStatus = "overdue"
	InvoiceCancelled   InvoiceStatus = "cancelled"
)

// Invoice amounts are integer cents. AmountPaid + BalanceDue == Total holds
// after every reconciliation; overpayments are clamped and logged upstream.
type Invoice struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	TenantID      string         `gorm:"size:36;not null;index" json:"tenant_id"`
	InvoiceNumber string         `gorm:"uniqueIndex;size:50;not null" json:"invoice_number"`
	ContactID     *string        `gorm:"size:36;index" json:"contact_id"`
	Bookings      []Booking      `gorm:"foreignKey:InvoiceID" json:"bookings,omitempty"`
	Total         int64          `gorm:"not null" json:"total"`
	AmountPaid    int64          `gorm:"default:0" json:"amount_paid"`
	BalanceDue    int64          `gorm:"default:0" json:"balance_due"`
	DepositAmount int64          `gorm:"default:0" json:"deposit_amount"`
	Currency      string         `gorm:"size:3;not null;default:'usd'" json:"currency"`
	Status        InvoiceStatus  `gorm:"size:20;default:'draft'" json:"status"`
	ExternalRef   string         `gorm:"size:255" json:"external_ref"` // most recent gateway payment-intent id
	IssuedAt      *time.Time     `json:"issued_at"`
	DueAt         *time.Time     `json:"due_at"`
	DepositPaidAt *time.Time     `json:"deposit_paid_at"`
	PaidAt        *time.Time     `json:"paid_at"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}
