package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingScheduled BookingStatus = "scheduled"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no_show"
)

// BookingPaymentStatus is derived from (TotalPrice, DepositAllocated,
// BookingAmountPaid); it is never set directly by handlers.
type BookingPaymentStatus string

const (
	BookingUnpaid      BookingPaymentStatus = "unpaid"
	BookingDepositPaid BookingPaymentStatus = "deposit_paid"
	BookingPaid        BookingPaymentStatus = "paid"
)

type Booking struct {
	ID                string               `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	DeletedAt         gorm.DeletedAt       `gorm:"index" json:"-"`
	TenantID          string               `gorm:"size:36;not null;index" json:"tenant_id"`
	ContactID         *string              `gorm:"size:36;index" json:"contact_id"`
	InvoiceID         *string              `gorm:"size:36;index" json:"invoice_id"`
	TotalPrice        int64                `gorm:"not null" json:"total_price"`
	BookingAmountPaid int64                `gorm:"default:0" json:"booking_amount_paid"`
	BookingBalanceDue int64                `gorm:"default:0" json:"booking_balance_due"`
	DepositAllocated  int64                `gorm:"default:0" json:"deposit_allocated"`
	PaymentStatus     BookingPaymentStatus `gorm:"size:20;default:'unpaid'" json:"payment_status"`
	Status            BookingStatus        `gorm:"size:20;default:'pending'" json:"status"`
	ScheduledAt       *time.Time           `json:"scheduled_at"`
	Notes             string               `gorm:"type:text" json:"notes"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (Booking) TableName() string {
	return "bookings"
}
