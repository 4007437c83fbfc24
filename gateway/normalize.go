package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/yourusername/clientflow/models"
	"github.com/yourusername/clientflow/reconcile"
)

// Provider event-type strings this service understands. The mapping to
// reconcile.FactKind is built once here; unrecognized types are acknowledged
// upstream without processing.
const (
	EventPaymentSucceeded   = "payment_intent.succeeded"
	EventPaymentFailed      = "payment_intent.payment_failed"
	EventPaymentCanceled    = "payment_intent.canceled"
	EventChargeRefunded     = "charge.refunded"
	EventDisputeCreated     = "charge.dispute.created"
	EventCheckoutCompleted  = "checkout.session.completed"
	EventAccountUpdated     = "account.updated"
	EventSubscriptionNew    = "customer.subscription.created"
	EventSubscriptionChange = "customer.subscription.updated"
	EventSubscriptionGone   = "customer.subscription.deleted"
	EventTrialWillEnd       = "customer.subscription.trial_will_end"
)

var factKinds = map[string]reconcile.FactKind{
	EventPaymentSucceeded: reconcile.FactSucceeded,
	EventPaymentFailed:    reconcile.FactFailed,
	EventPaymentCanceled:  reconcile.FactCanceled,
	EventChargeRefunded:   reconcile.FactRefunded,
	EventDisputeCreated:   reconcile.FactDisputed,
}

// intentObject covers the payload fields shared by payment_intent, charge
// and checkout.session objects.
type intentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountTotal      int64             `json:"amount_total"`    // checkout sessions
	AmountRefunded   int64             `json:"amount_refunded"` // charges
	Currency         string            `json:"currency"`
	Mode             string            `json:"mode"`           // checkout sessions
	PaymentIntent    string            `json:"payment_intent"` // charges, checkout sessions, disputes
	Subscription     string            `json:"subscription"`   // checkout sessions
	Customer         string            `json:"customer"`
	Metadata         map[string]string `json:"metadata"`
	ReceiptURL       string            `json:"receipt_url"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	PaymentMethodDetails *struct {
		Card *struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

// NormalizeEvent turns a payment-money event into a reconcile.Fact. ok is
// false for event types this mapping does not cover (including all
// subscription events, which NormalizeSubscriptionEvent handles).
func NormalizeEvent(event *Event) (reconcile.Fact, bool, error) {
	kind, known := factKinds[event.Type]
	if !known && event.Type != EventCheckoutCompleted {
		return reconcile.Fact{}, false, nil
	}

	var obj intentObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return reconcile.Fact{}, false, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	if event.Type == EventCheckoutCompleted {
		// Subscription-mode checkouts belong to platform billing.
		if obj.Mode != "payment" {
			return reconcile.Fact{}, false, nil
		}
		kind = reconcile.FactSucceeded
	}

	fact := reconcile.Fact{
		Kind:             kind,
		Currency:         obj.Currency,
		GatewayAccountID: event.Account,
		Source:           reconcile.SourceWebhook,
		InvoiceID:        obj.Metadata["invoiceId"],
		BookingID:        obj.Metadata["bookingId"],
		ContactID:        obj.Metadata["contactId"],
		TenantID:         obj.Metadata["tenantId"],
	}
	if deposit, err := strconv.ParseBool(obj.Metadata["isDeposit"]); err == nil {
		fact.IsDeposit = deposit
	}

	switch event.Type {
	case EventCheckoutCompleted:
		fact.ExternalRef = obj.PaymentIntent
		fact.Amount = obj.AmountTotal
		fact.Source = reconcile.SourceCheckout
	case EventChargeRefunded:
		fact.ExternalRef = obj.PaymentIntent
		fact.RefundTotal = obj.AmountRefunded
	case EventDisputeCreated:
		fact.ExternalRef = obj.PaymentIntent
	default:
		fact.ExternalRef = obj.ID
		fact.Amount = obj.Amount
	}

	if obj.LastPaymentError != nil {
		fact.FailureReason = obj.LastPaymentError.Message
	}
	if obj.PaymentMethodDetails != nil && obj.PaymentMethodDetails.Card != nil {
		fact.CardBrand = obj.PaymentMethodDetails.Card.Brand
		fact.CardLast4 = obj.PaymentMethodDetails.Card.Last4
	}
	fact.ReceiptURL = obj.ReceiptURL

	if fact.ExternalRef == "" {
		return reconcile.Fact{}, false, fmt.Errorf("%s event %s carries no payment reference", event.Type, event.ID)
	}
	return fact, true, nil
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	Mode             string            `json:"mode"`         // checkout sessions
	Subscription     string            `json:"subscription"` // checkout sessions
	Metadata         map[string]string `json:"metadata"`
	ChargesEnabled   bool              `json:"charges_enabled"`   // account objects
	DetailsSubmitted bool              `json:"details_submitted"` // account objects
}

// NormalizeSubscriptionEvent maps platform-billing and account events onto
// subscription facts. ok is false when the event is not a subscription
// concern.
func NormalizeSubscriptionEvent(event *Event) (reconcile.SubscriptionFact, bool, error) {
	var obj subscriptionObject
	decode := func() error {
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		return nil
	}

	switch event.Type {
	case EventSubscriptionNew, EventCheckoutCompleted:
		if err := decode(); err != nil {
			return reconcile.SubscriptionFact{}, false, err
		}
		if event.Type == EventCheckoutCompleted && obj.Mode != "subscription" {
			return reconcile.SubscriptionFact{}, false, nil
		}
		return reconcile.SubscriptionFact{
			Kind:              reconcile.SubscriptionStarted,
			GatewayCustomerID: obj.Customer,
			Status:            subscriptionStatus(obj.Status),
			PlanType:          obj.Metadata["planType"],
		}, true, nil

	case EventSubscriptionChange:
		if err := decode(); err != nil {
			return reconcile.SubscriptionFact{}, false, err
		}
		return reconcile.SubscriptionFact{
			Kind:              reconcile.SubscriptionUpdated,
			GatewayCustomerID: obj.Customer,
			Status:            subscriptionStatus(obj.Status),
		}, true, nil

	case EventSubscriptionGone:
		if err := decode(); err != nil {
			return reconcile.SubscriptionFact{}, false, err
		}
		return reconcile.SubscriptionFact{
			Kind:              reconcile.SubscriptionEnded,
			GatewayCustomerID: obj.Customer,
			Status:            models.SubscriptionCanceled,
		}, true, nil

	case EventTrialWillEnd:
		if err := decode(); err != nil {
			return reconcile.SubscriptionFact{}, false, err
		}
		return reconcile.SubscriptionFact{
			Kind:              reconcile.SubscriptionTrialEnding,
			GatewayCustomerID: obj.Customer,
		}, true, nil

	case EventAccountUpdated:
		if err := decode(); err != nil {
			return reconcile.SubscriptionFact{}, false, err
		}
		accountID := event.Account
		if accountID == "" {
			accountID = obj.ID
		}
		return reconcile.SubscriptionFact{
			Kind:             reconcile.GatewayAccountUpdated,
			GatewayAccountID: accountID,
			ChargesEnabled:   obj.ChargesEnabled,
			DetailsSubmitted: obj.DetailsSubmitted,
		}, true, nil
	}

	return reconcile.SubscriptionFact{}, false, nil
}

func subscriptionStatus(s string) models.SubscriptionStatus {
	switch s {
	case "trialing":
		return models.SubscriptionTrialing
	case "past_due":
		return models.SubscriptionPastDue
	case "canceled":
		return models.SubscriptionCanceled
	default:
		return models.SubscriptionActive
	}
}
