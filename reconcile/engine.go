package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/models"
)

var (
	// ErrUnknownReference means no payment row exists for the fact's external
	// reference and the fact carries no targets to create one. Webhook
	// callers acknowledge it without retrying.
	ErrUnknownReference = errors.New("no payment for external reference")

	// ErrTenantMismatch means the fact's connected account resolves to a
	// different tenant than the records it targets. The event is never
	// applied across tenants.
	ErrTenantMismatch = errors.New("event tenant does not match target records")

	// ErrValidation covers rejected inputs on the synchronous paths.
	ErrValidation = errors.New("validation failed")
)

// Engine applies one Fact to the Payment/Invoice/Booking records in a single
// database transaction and reports which transitions newly occurred. It is
// safe to call concurrently, including for redeliveries of the same external
// reference: the in-transaction check plus the unique index on external_ref
// collapse duplicates into no-op results.
type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Apply runs the reconciliation for one fact. On persistence failure the
// whole update is rolled back and the error propagated; no partial money
// state survives.
func (e *Engine) Apply(ctx context.Context, fact Fact) (*Result, error) {
	if fact.ExternalRef == "" {
		return nil, fmt.Errorf("%w: external reference is required", ErrValidation)
	}
	if fact.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}

	var res *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch fact.Kind {
		case FactSucceeded:
			res, err = e.applySucceeded(tx, fact)
		case FactFailed:
			res, err = e.applyFailed(tx, fact)
		case FactRefunded:
			res, err = e.applyRefunded(tx, fact)
		case FactDisputed:
			res, err = e.applyDisputed(tx, fact)
		case FactCanceled:
			res, err = e.applyCanceled(tx, fact)
		default:
			err = fmt.Errorf("%w: unknown fact kind %q", ErrValidation, fact.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// findPayment looks up the payment row for an external reference.
func findPayment(tx *gorm.DB, externalRef string) (*models.Payment, error) {
	var payment models.Payment
	err := tx.Where("external_ref = ?", externalRef).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup payment %s: %w", externalRef, err)
	}
	return &payment, nil
}

func (e *Engine) applySucceeded(tx *gorm.DB, fact Fact) (*Result, error) {
	payment, err := findPayment(tx, fact.ExternalRef)
	if err != nil {
		return nil, err
	}

	// Idempotent short-circuit: any status that already records the capture
	// means this fact was applied. Disputed and refunded payments were
	// succeeded once; re-running settlement for them would double-apply the
	// amount.
	if payment != nil {
		switch payment.Status {
		case models.PaymentSucceeded, models.PaymentDisputed,
			models.PaymentRefunded, models.PaymentPartialRefund:
			return noop(payment), nil
		}
	}

	now := time.Now().UTC()
	if payment != nil {
		payment.Status = models.PaymentSucceeded
		payment.Amount = fact.Amount
		payment.CardBrand = fact.CardBrand
		payment.CardLast4 = fact.CardLast4
		payment.ReceiptURL = fact.ReceiptURL
		payment.FailureReason = ""
		payment.CapturedAt = &now
		if fact.InvoiceID != "" && payment.InvoiceID == nil {
			payment.InvoiceID = &fact.InvoiceID
		}
		if fact.BookingID != "" && payment.BookingID == nil {
			payment.BookingID = &fact.BookingID
		}
		if fact.IsDeposit {
			payment.IsDeposit = true
		}
		if err := tx.Save(payment).Error; err != nil {
			return nil, fmt.Errorf("update payment %s: %w", payment.ID, err)
		}
	} else {
		payment = paymentFromFact(fact, models.PaymentSucceeded)
		payment.CapturedAt = &now
		if err := tx.Create(payment).Error; err != nil {
			// Unique-index backstop: a concurrent delivery won the insert.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				existing, lookupErr := findPayment(tx, fact.ExternalRef)
				if lookupErr != nil {
					return nil, lookupErr
				}
				return noop(existing), nil
			}
			return nil, fmt.Errorf("create payment for %s: %w", fact.ExternalRef, err)
		}
	}

	// A pending row created by the synchronous path already knows its
	// targets; a redelivered fact with sparse metadata must not lose them.
	if fact.InvoiceID == "" && payment.InvoiceID != nil {
		fact.InvoiceID = *payment.InvoiceID
	}
	if fact.BookingID == "" && payment.BookingID != nil {
		fact.BookingID = *payment.BookingID
	}

	res := &Result{Payment: payment}

	var invoice *models.Invoice
	if fact.InvoiceID != "" {
		invoice, err = e.settleInvoice(tx, fact, res)
		if err != nil {
			return nil, err
		}
		res.Invoice = invoice
	}

	if err := e.settleBookings(tx, fact, invoice, res); err != nil {
		return nil, err
	}

	if err := e.flagContactConversion(tx, fact, invoice, res); err != nil {
		return nil, err
	}

	return res, nil
}

// settleInvoice applies the payment amount to the target invoice and derives
// its new status. The amount is added in a single UPDATE statement so
// concurrent payments against the same invoice never lose increments.
func (e *Engine) settleInvoice(tx *gorm.DB, fact Fact, res *Result) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := tx.First(&invoice, "id = ?", fact.InvoiceID).Error; err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", fact.InvoiceID, err)
	}
	if fact.TenantID != "" && invoice.TenantID != fact.TenantID {
		return nil, ErrTenantMismatch
	}

	wasPaid := invoice.Status == models.InvoicePaid
	firstDeposit := fact.IsDeposit && invoice.DepositPaidAt == nil

	err := tx.Model(&models.Invoice{}).Where("id = ?", invoice.ID).Updates(map[string]interface{}{
		"amount_paid": gorm.Expr("amount_paid + ?", fact.Amount),
		"balance_due": gorm.Expr(
			"CASE WHEN total - amount_paid - ? < 0 THEN 0 ELSE total - amount_paid - ? END",
			fact.Amount, fact.Amount,
		),
		"external_ref": fact.ExternalRef,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("apply amount to invoice %s: %w", invoice.ID, err)
	}
	if err := tx.First(&invoice, "id = ?", invoice.ID).Error; err != nil {
		return nil, fmt.Errorf("reload invoice %s: %w", invoice.ID, err)
	}

	if invoice.AmountPaid > invoice.Total {
		res.OverpaymentAnomaly = true
		log.Printf("anomaly: invoice %s overpaid, total=%d amount_paid=%d (ref %s)",
			invoice.ID, invoice.Total, invoice.AmountPaid, fact.ExternalRef)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{}

	paidInFull := invoice.BalanceDue == 0
	switch {
	case paidInFull && !wasPaid:
		updates["status"] = models.InvoicePaid
		updates["paid_at"] = now
		invoice.Status = models.InvoicePaid
		invoice.PaidAt = &now
		res.InvoicePaidInFull = true
	case !paidInFull && invoice.Status == models.InvoiceDraft:
		updates["status"] = models.InvoiceSent
		invoice.Status = models.InvoiceSent
	}

	if firstDeposit {
		updates["deposit_paid_at"] = now
		invoice.DepositPaidAt = &now
		res.InvoiceDepositPaid = true
		if !paidInFull && !wasPaid {
			updates["status"] = models.InvoiceDepositPaid
			invoice.Status = models.InvoiceDepositPaid
		}
	}

	if len(updates) > 0 {
		if err := tx.Model(&models.Invoice{}).Where("id = ?", invoice.ID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update invoice %s status: %w", invoice.ID, err)
		}
	}

	return &invoice, nil
}

// settleBookings applies the amount to the bookings behind the invoice (or
// the directly targeted booking). When an invoice carries several bookings
// the amount is split proportionally to their prices.
func (e *Engine) settleBookings(tx *gorm.DB, fact Fact, invoice *models.Invoice, res *Result) error {
	var bookings []models.Booking
	if invoice != nil {
		if err := tx.Where("invoice_id = ?", invoice.ID).Find(&bookings).Error; err != nil {
			return fmt.Errorf("load bookings for invoice %s: %w", invoice.ID, err)
		}
	}
	if len(bookings) == 0 && fact.BookingID != "" {
		var booking models.Booking
		if err := tx.First(&booking, "id = ?", fact.BookingID).Error; err != nil {
			return fmt.Errorf("load booking %s: %w", fact.BookingID, err)
		}
		bookings = []models.Booking{booking}
	}
	if len(bookings) == 0 {
		return nil
	}

	var total int64
	if invoice != nil {
		total = invoice.Total
	} else {
		total = bookings[0].TotalPrice
	}

	for _, alloc := range ProportionalAllocation(total, bookings, fact.Amount) {
		booking, err := e.settleBooking(tx, fact, alloc, res)
		if err != nil {
			return err
		}
		if res.Booking == nil {
			res.Booking = booking
		}
	}
	return nil
}

func (e *Engine) settleBooking(tx *gorm.DB, fact Fact, alloc Allocation, res *Result) (*models.Booking, error) {
	var booking models.Booking
	if err := tx.First(&booking, "id = ?", alloc.BookingID).Error; err != nil {
		return nil, fmt.Errorf("load booking %s: %w", alloc.BookingID, err)
	}
	if fact.TenantID != "" && booking.TenantID != fact.TenantID {
		return nil, ErrTenantMismatch
	}

	wasPending := booking.Status == models.BookingPending

	increments := map[string]interface{}{
		"booking_amount_paid": gorm.Expr("booking_amount_paid + ?", alloc.Amount),
		"booking_balance_due": gorm.Expr(
			"CASE WHEN total_price - booking_amount_paid - ? < 0 THEN 0 ELSE total_price - booking_amount_paid - ? END",
			alloc.Amount, alloc.Amount,
		),
	}
	if fact.IsDeposit {
		increments["deposit_allocated"] = gorm.Expr("deposit_allocated + ?", alloc.Amount)
	}
	if err := tx.Model(&models.Booking{}).Where("id = ?", booking.ID).Updates(increments).Error; err != nil {
		return nil, fmt.Errorf("apply amount to booking %s: %w", booking.ID, err)
	}
	if err := tx.First(&booking, "id = ?", booking.ID).Error; err != nil {
		return nil, fmt.Errorf("reload booking %s: %w", booking.ID, err)
	}

	updates := map[string]interface{}{
		"payment_status": BookingPaymentStatus(booking.TotalPrice, booking.DepositAllocated, booking.BookingAmountPaid),
	}
	booking.PaymentStatus = updates["payment_status"].(models.BookingPaymentStatus)

	// The pending -> scheduled transition fires exactly once, on the first
	// deposit; redelivered facts short-circuit before reaching here.
	if fact.IsDeposit && wasPending {
		updates["status"] = models.BookingScheduled
		booking.Status = models.BookingScheduled
		res.BookingScheduled = true
	}

	if err := tx.Model(&models.Booking{}).Where("id = ?", booking.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update booking %s status: %w", booking.ID, err)
	}
	return &booking, nil
}

// flagContactConversion marks the result when the paying contact is still a
// lead. The conversion itself is a best-effort side effect.
func (e *Engine) flagContactConversion(tx *gorm.DB, fact Fact, invoice *models.Invoice, res *Result) error {
	contactID := fact.ContactID
	if contactID == "" && invoice != nil && invoice.ContactID != nil {
		contactID = *invoice.ContactID
	}
	if contactID == "" && res.Booking != nil && res.Booking.ContactID != nil {
		contactID = *res.Booking.ContactID
	}
	if contactID == "" {
		return nil
	}

	var contact models.Contact
	err := tx.First(&contact, "id = ?", contactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load contact %s: %w", contactID, err)
	}
	if contact.Status == models.ContactLead {
		res.ConvertContact = true
	}
	if res.Payment.ContactID == nil {
		res.Payment.ContactID = &contact.ID
		if err := tx.Model(&models.Payment{}).Where("id = ?", res.Payment.ID).
			Update("contact_id", contact.ID).Error; err != nil {
			return fmt.Errorf("link payment %s to contact: %w", res.Payment.ID, err)
		}
	}
	return nil
}

func (e *Engine) applyFailed(tx *gorm.DB, fact Fact) (*Result, error) {
	payment, err := findPayment(tx, fact.ExternalRef)
	if err != nil {
		return nil, err
	}

	// A failure event never overwrites a recorded success, and a repeated
	// failure is a no-op.
	if payment != nil && (payment.Status == models.PaymentSucceeded || payment.Status == models.PaymentFailed) {
		return noop(payment), nil
	}

	if payment == nil {
		if fact.TenantID == "" && fact.InvoiceID == "" && fact.BookingID == "" {
			return nil, ErrUnknownReference
		}
		payment = paymentFromFact(fact, models.PaymentFailed)
		payment.FailureReason = fact.FailureReason
		if err := tx.Create(payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				existing, lookupErr := findPayment(tx, fact.ExternalRef)
				if lookupErr != nil {
					return nil, lookupErr
				}
				return noop(existing), nil
			}
			return nil, fmt.Errorf("create failed payment for %s: %w", fact.ExternalRef, err)
		}
	} else {
		payment.Status = models.PaymentFailed
		payment.FailureReason = fact.FailureReason
		if err := tx.Save(payment).Error; err != nil {
			return nil, fmt.Errorf("update payment %s: %w", payment.ID, err)
		}
	}

	// Invoice and booking balances are untouched: no money moved.
	return &Result{Payment: payment, PaymentFailed: true}, nil
}

func (e *Engine) applyRefunded(tx *gorm.DB, fact Fact) (*Result, error) {
	payment, err := findPayment(tx, fact.ExternalRef)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrUnknownReference
	}

	// RefundTotal is cumulative, so a redelivered refund event carries a
	// total we have already recorded.
	if fact.RefundTotal <= payment.RefundedAmount {
		return noop(payment), nil
	}

	delta := fact.RefundTotal - payment.RefundedAmount
	if remaining := payment.Amount - payment.RefundedAmount; delta > remaining {
		delta = remaining
	}
	if delta <= 0 {
		return noop(payment), nil
	}

	newRefunded := payment.RefundedAmount + delta
	fullyRefunded := newRefunded >= payment.Amount

	payment.RefundedAmount = newRefunded
	if fullyRefunded {
		payment.Status = models.PaymentRefunded
	} else {
		payment.Status = models.PaymentPartialRefund
	}
	if err := tx.Save(payment).Error; err != nil {
		return nil, fmt.Errorf("update payment %s: %w", payment.ID, err)
	}

	res := &Result{Payment: payment, RefundApplied: true, FullyRefunded: fullyRefunded}

	if payment.InvoiceID != nil {
		invoice, err := e.unwindInvoice(tx, *payment.InvoiceID, delta)
		if err != nil {
			return nil, err
		}
		res.Invoice = invoice

		var bookings []models.Booking
		if err := tx.Where("invoice_id = ?", invoice.ID).Find(&bookings).Error; err != nil {
			return nil, fmt.Errorf("load bookings for invoice %s: %w", invoice.ID, err)
		}
		for _, alloc := range ProportionalAllocation(invoice.Total, bookings, delta) {
			booking, err := e.unwindBooking(tx, alloc.BookingID, alloc.Amount, payment.IsDeposit)
			if err != nil {
				return nil, err
			}
			if res.Booking == nil {
				res.Booking = booking
			}
		}
	} else if payment.BookingID != nil {
		booking, err := e.unwindBooking(tx, *payment.BookingID, delta, payment.IsDeposit)
		if err != nil {
			return nil, err
		}
		res.Booking = booking
	}

	return res, nil
}

// unwindInvoice removes a refunded amount from an invoice, flooring the paid
// amount at zero and recomputing the balance and status.
func (e *Engine) unwindInvoice(tx *gorm.DB, invoiceID string, delta int64) (*models.Invoice, error) {
	err := tx.Model(&models.Invoice{}).Where("id = ?", invoiceID).Updates(map[string]interface{}{
		"amount_paid": gorm.Expr("CASE WHEN amount_paid - ? < 0 THEN 0 ELSE amount_paid - ? END", delta, delta),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("remove refund from invoice %s: %w", invoiceID, err)
	}

	var invoice models.Invoice
	if err := tx.First(&invoice, "id = ?", invoiceID).Error; err != nil {
		return nil, fmt.Errorf("reload invoice %s: %w", invoiceID, err)
	}

	updates := map[string]interface{}{
		"balance_due": InvoiceBalance(invoice.Total, invoice.AmountPaid),
	}
	invoice.BalanceDue = updates["balance_due"].(int64)

	// A refund is an explicit reversal, so it may move a paid invoice back.
	if invoice.Status == models.InvoicePaid && invoice.BalanceDue > 0 {
		if invoice.DepositPaidAt != nil {
			updates["status"] = models.InvoiceDepositPaid
			invoice.Status = models.InvoiceDepositPaid
		} else {
			updates["status"] = models.InvoiceSent
			invoice.Status = models.InvoiceSent
		}
	}

	if err := tx.Model(&models.Invoice{}).Where("id = ?", invoiceID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update invoice %s after refund: %w", invoiceID, err)
	}
	return &invoice, nil
}

func (e *Engine) unwindBooking(tx *gorm.DB, bookingID string, delta int64, wasDeposit bool) (*models.Booking, error) {
	updates := map[string]interface{}{
		"booking_amount_paid": gorm.Expr("CASE WHEN booking_amount_paid - ? < 0 THEN 0 ELSE booking_amount_paid - ? END", delta, delta),
	}
	if wasDeposit {
		updates["deposit_allocated"] = gorm.Expr("CASE WHEN deposit_allocated - ? < 0 THEN 0 ELSE deposit_allocated - ? END", delta, delta)
	}
	if err := tx.Model(&models.Booking{}).Where("id = ?", bookingID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("remove refund from booking %s: %w", bookingID, err)
	}

	var booking models.Booking
	if err := tx.First(&booking, "id = ?", bookingID).Error; err != nil {
		return nil, fmt.Errorf("reload booking %s: %w", bookingID, err)
	}

	booking.BookingBalanceDue = BookingBalanceDue(booking.TotalPrice, booking.BookingAmountPaid)
	booking.PaymentStatus = BookingPaymentStatus(booking.TotalPrice, booking.DepositAllocated, booking.BookingAmountPaid)
	err := tx.Model(&models.Booking{}).Where("id = ?", bookingID).Updates(map[string]interface{}{
		"booking_balance_due": booking.BookingBalanceDue,
		"payment_status":      booking.PaymentStatus,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("update booking %s after refund: %w", bookingID, err)
	}
	return &booking, nil
}

func (e *Engine) applyDisputed(tx *gorm.DB, fact Fact) (*Result, error) {
	payment, err := findPayment(tx, fact.ExternalRef)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrUnknownReference
	}
	if payment.Status == models.PaymentDisputed {
		return noop(payment), nil
	}

	// A dispute is not a confirmed refund; balances stay put until the
	// dispute resolves through the gateway.
	payment.Status = models.PaymentDisputed
	if err := tx.Save(payment).Error; err != nil {
		return nil, fmt.Errorf("update payment %s: %w", payment.ID, err)
	}
	return &Result{Payment: payment, Disputed: true}, nil
}

func (e *Engine) applyCanceled(tx *gorm.DB, fact Fact) (*Result, error) {
	payment, err := findPayment(tx, fact.ExternalRef)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrUnknownReference
	}
	// Cancellation never reverts a captured payment.
	if payment.Status == models.PaymentSucceeded || payment.Status == models.PaymentCanceled {
		return noop(payment), nil
	}

	payment.Status = models.PaymentCanceled
	if err := tx.Save(payment).Error; err != nil {
		return nil, fmt.Errorf("update payment %s: %w", payment.ID, err)
	}
	return &Result{Payment: payment, PaymentCanceled: true}, nil
}

func paymentFromFact(fact Fact, status models.PaymentStatus) *models.Payment {
	payment := &models.Payment{
		TenantID:         fact.TenantID,
		Amount:           fact.Amount,
		Currency:         fact.Currency,
		Status:           status,
		ExternalRef:      fact.ExternalRef,
		GatewayAccountID: fact.GatewayAccountID,
		IsDeposit:        fact.IsDeposit,
		CardBrand:        fact.CardBrand,
		CardLast4:        fact.CardLast4,
		ReceiptURL:       fact.ReceiptURL,
		Source:           string(fact.Source),
	}
	if payment.Currency == "" {
		payment.Currency = "usd"
	}
	if fact.InvoiceID != "" {
		payment.InvoiceID = &fact.InvoiceID
	}
	if fact.BookingID != "" {
		payment.BookingID = &fact.BookingID
	}
	if fact.ContactID != "" {
		payment.ContactID = &fact.ContactID
	}
	return payment
}
