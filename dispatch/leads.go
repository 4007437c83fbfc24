package dispatch

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/models"
)

// ConvertLeadToClient promotes a contact from lead to client on their first
// successful payment. The guarded UPDATE makes replays harmless: a contact
// who is already a client is left alone.
func ConvertLeadToClient(db *gorm.DB, tenantID, contactID string) error {
	result := db.Model(&models.Contact{}).
		Where("id = ? AND tenant_id = ? AND status = ?", contactID, tenantID, models.ContactLead).
		Update("status", models.ContactClient)
	if result.Error != nil {
		return fmt.Errorf("convert contact %s: %w", contactID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	return SetStatusTag(db, tenantID, EntityContact, contactID, "Client")
}
