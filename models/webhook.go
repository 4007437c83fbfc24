package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEndpoint is a tenant-registered URL that receives signed event
// notifications (invoice.paid, payment.succeeded, ...).
type WebhookEndpoint struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	TenantID  string         `gorm:"size:36;not null;index" json:"tenant_id"`
	URL       string         `gorm:"size:500;not null" json:"url"`
	Secret    string         `gorm:"size:255;not null" json:"-"`
	Events    string         `gorm:"type:text" json:"events"` // comma-separated; empty subscribes to all
	IsActive  bool           `gorm:"default:true" json:"is_active"`
}

func (w *WebhookEndpoint) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

// WebhookDelivery records one delivery attempt sequence for an endpoint.
type WebhookDelivery struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	EndpointID string    `gorm:"size:36;not null;index" json:"endpoint_id"`
	Event      string    `gorm:"size:100;not null" json:"event"`
	Payload    string    `gorm:"type:text" json:"payload"`
	Response   string    `gorm:"type:text" json:"response"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
}

func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
