package dispatch

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/models"
)

// Entity types that carry status tags.
const (
	EntityPayment = "payment"
	EntityInvoice = "invoice"
	EntityBooking = "booking"
	EntityContact = "contact"
)

// statusTags lists the tag names that act as statuses per entity type. An
// entity holds at most one of these at a time.
var statusTags = map[string][]string{
	EntityInvoice: {"Draft", "Sent", "Viewed", "Deposit Paid", "Paid", "Overdue", "Cancelled"},
	EntityBooking: {"Pending", "Scheduled", "Confirmed", "Completed", "Cancelled", "No Show"},
	EntityContact: {"Lead", "Client", "Inactive"},
	EntityPayment: {"Succeeded", "Failed", "Refunded", "Disputed"},
}

// SetStatusTag applies a status tag to an entity, replacing whatever status
// tag it held before.
func SetStatusTag(db *gorm.DB, tenantID, entityType, entityID, tagName string) error {
	names, ok := statusTags[entityType]
	if !ok {
		return fmt.Errorf("invalid entity type %q", entityType)
	}
	valid := false
	for _, name := range names {
		if name == tagName {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%q is not a status tag for %s", tagName, entityType)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		tag, err := findOrCreateTag(tx, tenantID, tagName)
		if err != nil {
			return err
		}

		// Clear any existing status tag for this entity before applying the
		// new one.
		var statusTagIDs []string
		if err := tx.Model(&models.Tag{}).
			Where("tenant_id = ? AND name IN ?", tenantID, names).
			Pluck("id", &statusTagIDs).Error; err != nil {
			return fmt.Errorf("list status tags: %w", err)
		}
		if len(statusTagIDs) > 0 {
			err := tx.Where("entity_type = ? AND entity_id = ? AND tag_id IN ?", entityType, entityID, statusTagIDs).
				Delete(&models.TagAssignment{}).Error
			if err != nil {
				return fmt.Errorf("clear status tags: %w", err)
			}
		}

		assignment := models.TagAssignment{
			TenantID:   tenantID,
			TagID:      tag.ID,
			EntityType: entityType,
			EntityID:   entityID,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("assign tag %q: %w", tagName, err)
		}
		return nil
	})
}

func findOrCreateTag(tx *gorm.DB, tenantID, name string) (*models.Tag, error) {
	var tag models.Tag
	err := tx.Where("tenant_id = ? AND name = ?", tenantID, name).First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup tag %q: %w", name, err)
	}

	tag = models.Tag{TenantID: tenantID, Name: name}
	if err := tx.Create(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := tx.Where("tenant_id = ? AND name = ?", tenantID, name).First(&tag).Error; err != nil {
				return nil, fmt.Errorf("reload tag %q: %w", name, err)
			}
			return &tag, nil
		}
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}
	return &tag, nil
}
