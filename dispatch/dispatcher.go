package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/models"
	"github.com/yourusername/clientflow/reconcile"
)

// Event names handed to workflow/notification consumers and published to
// tenant webhook endpoints.
const (
	EventPaymentReceived    = "payment_received"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRefunded    = "payment_refunded"
	EventPaymentDisputed    = "payment_disputed"
	EventPaymentCanceled    = "payment_canceled"
	EventInvoicePaid        = "invoice_paid"
	EventInvoiceDepositPaid = "invoice_deposit_paid"
	EventBookingScheduled   = "booking_scheduled"
	EventTrialEnding        = "subscription_trial_ending"
	EventSubscriptionChange = "subscription_updated"
)

// Notifier is the single entrypoint every side-effect consumer exposes:
// workflow engine, email sender, event bus. Implementations own their retry
// behavior; the dispatcher only logs failures.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{}) error
}

// Dispatcher fans a reconciliation result out to best-effort side effects.
// Every action runs on its own goroutine after the core mutation has
// committed; a failing action is logged and never affects the others or the
// caller's response.
type Dispatcher struct {
	db        *gorm.DB
	notifiers []Notifier
	sender    *WebhookSender
	timeout   time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		db:        db,
		notifiers: notifiers,
		sender:    NewWebhookSender(db),
		timeout:   10 * time.Second,
	}
}

// Dispatch fires the side effects for one reconciliation result. It returns
// immediately; no-op results dispatch nothing.
func (d *Dispatcher) Dispatch(res *reconcile.Result) {
	if res == nil || res.NoOp || res.Payment == nil {
		return
	}

	payment := res.Payment
	tenantID := payment.TenantID
	payload := buildPayload(res)

	if payment.Status == models.PaymentSucceeded {
		d.spawn("payment status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityPayment, payment.ID, "Succeeded")
		})
		d.notifyAll(EventPaymentReceived, payload)
		d.spawnWebhook(tenantID, "payment.succeeded", payload)
	}

	if res.InvoicePaidInFull && res.Invoice != nil {
		invoiceID := res.Invoice.ID
		d.spawn("invoice status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityInvoice, invoiceID, "Paid")
		})
		d.notifyAll(EventInvoicePaid, payload)
		d.spawnWebhook(tenantID, "invoice.paid", payload)
	} else if res.InvoiceDepositPaid && res.Invoice != nil {
		invoiceID := res.Invoice.ID
		d.spawn("invoice status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityInvoice, invoiceID, "Deposit Paid")
		})
		d.notifyAll(EventInvoiceDepositPaid, payload)
		d.spawnWebhook(tenantID, "invoice.deposit_paid", payload)
	}

	if res.BookingScheduled && res.Booking != nil {
		bookingID := res.Booking.ID
		d.spawn("booking status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityBooking, bookingID, "Scheduled")
		})
		d.notifyAll(EventBookingScheduled, payload)
		d.spawnWebhook(tenantID, "booking.scheduled", payload)
	}

	if res.ConvertContact && payment.ContactID != nil {
		contactID := *payment.ContactID
		d.spawn("lead conversion", func(ctx context.Context) error {
			return ConvertLeadToClient(d.db, tenantID, contactID)
		})
	}

	if res.PaymentFailed {
		d.spawn("payment status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityPayment, payment.ID, "Failed")
		})
		d.notifyAll(EventPaymentFailed, payload)
		d.spawnWebhook(tenantID, "payment.failed", payload)
	}

	if res.RefundApplied {
		d.spawn("payment status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityPayment, payment.ID, "Refunded")
		})
		d.notifyAll(EventPaymentRefunded, payload)
		d.spawnWebhook(tenantID, "payment.refunded", payload)
	}

	if res.Disputed {
		d.spawn("payment status tag", func(ctx context.Context) error {
			return SetStatusTag(d.db, tenantID, EntityPayment, payment.ID, "Disputed")
		})
		d.notifyAll(EventPaymentDisputed, payload)
		d.spawnWebhook(tenantID, "payment.disputed", payload)
	}

	if res.PaymentCanceled {
		d.notifyAll(EventPaymentCanceled, payload)
	}
}

// DispatchSubscription fires notifications for platform-billing transitions.
func (d *Dispatcher) DispatchSubscription(res *reconcile.SubscriptionResult) {
	if res == nil || res.Tenant == nil {
		return
	}
	payload := map[string]interface{}{"tenant": res.Tenant}
	if res.TrialEnding {
		d.notifyAll(EventTrialEnding, payload)
		return
	}
	if !res.NoOp {
		d.notifyAll(EventSubscriptionChange, payload)
	}
}

// Wait blocks until all in-flight side effects finish. Tests use it; the
// server never does.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) notifyAll(event string, payload map[string]interface{}) {
	for _, n := range d.notifiers {
		notifier := n
		d.spawn("notify "+event, func(ctx context.Context) error {
			return notifier.Notify(ctx, event, payload)
		})
	}
}

func (d *Dispatcher) spawnWebhook(tenantID, event string, payload map[string]interface{}) {
	d.spawn("webhook "+event, func(ctx context.Context) error {
		return d.sender.Send(ctx, tenantID, event, payload)
	})
}

func (d *Dispatcher) spawn(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("side effect %s panicked: %v", name, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("side effect %s failed: %v", name, err)
		}
	}()
}

func buildPayload(res *reconcile.Result) map[string]interface{} {
	payload := map[string]interface{}{"payment": res.Payment}
	if res.Invoice != nil {
		payload["invoice"] = res.Invoice
	}
	if res.Booking != nil {
		payload["booking"] = res.Booking
	}
	return payload
}
