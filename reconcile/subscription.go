package reconcile

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/models"
)

// SubscriptionKind is the closed set of platform-billing outcomes.
type SubscriptionKind string

const (
	SubscriptionStarted     SubscriptionKind = "started"
	SubscriptionUpdated     SubscriptionKind = "updated"
	SubscriptionEnded       SubscriptionKind = "ended"
	SubscriptionTrialEnding SubscriptionKind = "trial_ending"
	GatewayAccountUpdated   SubscriptionKind = "account_updated"
)

// SubscriptionFact is the normalized form of a platform-billing event. These
// concern the tenant's own subscription with the platform operator, never
// money on the tenant's connected account.
type SubscriptionFact struct {
	Kind              SubscriptionKind
	GatewayCustomerID string
	GatewayAccountID  string // account_updated only
	Status            models.SubscriptionStatus
	PlanType          string
	ChargesEnabled    bool // account_updated only
	DetailsSubmitted  bool // account_updated only
}

// SubscriptionResult reports which tenant transition newly occurred.
type SubscriptionResult struct {
	NoOp        bool
	Tenant      *models.Tenant
	TrialEnding bool
}

// ApplySubscription performs the idempotent tenant update for one
// platform-billing fact. Re-delivering a fact that is already reflected in
// the tenant row yields a no-op result.
func (e *Engine) ApplySubscription(ctx context.Context, fact SubscriptionFact) (*SubscriptionResult, error) {
	var res *SubscriptionResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		var err error
		if fact.Kind == GatewayAccountUpdated {
			err = tx.Where("gateway_account_id = ?", fact.GatewayAccountID).First(&tenant).Error
		} else {
			err = tx.Where("gateway_customer_id = ?", fact.GatewayCustomerID).First(&tenant).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownReference
		}
		if err != nil {
			return fmt.Errorf("lookup tenant: %w", err)
		}

		switch fact.Kind {
		case SubscriptionStarted, SubscriptionUpdated:
			if tenant.SubscriptionStatus == fact.Status && (fact.PlanType == "" || tenant.PlanType == fact.PlanType) {
				res = &SubscriptionResult{NoOp: true, Tenant: &tenant}
				return nil
			}
			updates := map[string]interface{}{"subscription_status": fact.Status}
			tenant.SubscriptionStatus = fact.Status
			if fact.PlanType != "" {
				updates["plan_type"] = fact.PlanType
				tenant.PlanType = fact.PlanType
			}
			if err := tx.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("update tenant %s subscription: %w", tenant.ID, err)
			}
			res = &SubscriptionResult{Tenant: &tenant}

		case SubscriptionEnded:
			if tenant.SubscriptionStatus == models.SubscriptionCanceled {
				res = &SubscriptionResult{NoOp: true, Tenant: &tenant}
				return nil
			}
			tenant.SubscriptionStatus = models.SubscriptionCanceled
			if err := tx.Model(&models.Tenant{}).Where("id = ?", tenant.ID).
				Update("subscription_status", models.SubscriptionCanceled).Error; err != nil {
				return fmt.Errorf("cancel tenant %s subscription: %w", tenant.ID, err)
			}
			res = &SubscriptionResult{Tenant: &tenant}

		case SubscriptionTrialEnding:
			// Pure notification, no state change.
			res = &SubscriptionResult{Tenant: &tenant, TrialEnding: true}

		case GatewayAccountUpdated:
			status := "pending"
			if fact.ChargesEnabled {
				status = "active"
			}
			if tenant.GatewayAccountStatus == status {
				res = &SubscriptionResult{NoOp: true, Tenant: &tenant}
				return nil
			}
			tenant.GatewayAccountStatus = status
			if err := tx.Model(&models.Tenant{}).Where("id = ?", tenant.ID).
				Update("gateway_account_status", status).Error; err != nil {
				return fmt.Errorf("update tenant %s account status: %w", tenant.ID, err)
			}
			res = &SubscriptionResult{Tenant: &tenant}

		default:
			return fmt.Errorf("%w: unknown subscription fact kind %q", ErrValidation, fact.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
