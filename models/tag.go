package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tag names double as status labels. An entity carries at most one status
// tag at a time; applying a new one removes the previous status tag.
type Tag struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	TenantID  string         `gorm:"size:36;not null;index:idx_tags_tenant_name,unique" json:"tenant_id"`
	Name      string         `gorm:"size:100;not null;index:idx_tags_tenant_name,unique" json:"name"`
}

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (Tag) TableName() string {
	return "tags"
}

// TagAssignment links a tag to a payment, invoice, booking or contact.
type TagAssignment struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	TenantID   string    `gorm:"size:36;not null;index" json:"tenant_id"`
	TagID      string    `gorm:"size:36;not null;index" json:"tag_id"`
	Tag        Tag       `gorm:"foreignKey:TagID" json:"tag,omitempty"`
	EntityType string    `gorm:"size:20;not null;index:idx_tag_assignments_entity" json:"entity_type"` // payment, invoice, booking, contact
	EntityID   string    `gorm:"size:36;not null;index:idx_tag_assignments_entity" json:"entity_id"`
}

func (a *TagAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TableName overrides the table name
func (TagAssignment) TableName() string {
	return "tag_assignments"
}
