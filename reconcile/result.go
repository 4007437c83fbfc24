package reconcile

import "github.com/yourusername/clientflow/models"

// Result describes what one reconciliation changed. The side-effect
// dispatcher keys off the boolean flags; each flag is set only the first
// time its transition occurs, never on replays.
type Result struct {
	NoOp bool

	Payment *models.Payment
	Invoice *models.Invoice
	Booking *models.Booking

	InvoicePaidInFull  bool
	InvoiceDepositPaid bool // first deposit payment on the invoice
	BookingScheduled   bool // booking moved pending -> scheduled
	PaymentFailed      bool
	PaymentCanceled    bool
	RefundApplied      bool
	FullyRefunded      bool
	Disputed           bool
	ConvertContact     bool // contact was a lead when the payment landed
	OverpaymentAnomaly bool
}

// noop returns the short-circuit result for an already-processed fact.
func noop(payment *models.Payment) *Result {
	return &Result{NoOp: true, Payment: payment}
}
