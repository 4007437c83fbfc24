package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionStatus tracks the tenant's own subscription with the platform
// operator. It is distinct from any money flowing through the tenant's
// connected merchant account.
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type Tenant struct {
	ID                   string             `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	DeletedAt            gorm.DeletedAt     `gorm:"index" json:"-"`
	Name                 string             `gorm:"size:255;not null" json:"name"`
	BusinessName         string             `gorm:"size:255" json:"business_name"`
	Email                string             `gorm:"size:255;not null" json:"email"`
	GatewayAccountID     string             `gorm:"uniqueIndex;size:255" json:"gateway_account_id"` // connected merchant account
	GatewayAccountStatus string             `gorm:"size:20;default:'pending'" json:"gateway_account_status"`
	GatewayCustomerID    string             `gorm:"index;size:255" json:"gateway_customer_id"` // platform billing customer
	SubscriptionStatus   SubscriptionStatus `gorm:"size:20" json:"subscription_status"`
	PlanType             string             `gorm:"size:30" json:"plan_type"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (Tenant) TableName() string {
	return "tenants"
}
