package reconcile

// FactKind is the closed set of normalized payment outcomes. Provider event
// strings are mapped onto it once, at the ingestion boundary; everything past
// that boundary switches exhaustively over these values.
type FactKind string

const (
	FactSucceeded FactKind = "succeeded"
	FactFailed    FactKind = "failed"
	FactRefunded  FactKind = "refunded"
	FactDisputed  FactKind = "disputed"
	FactCanceled  FactKind = "canceled"
)

// FactSource records which ingestion path produced the fact.
type FactSource string

const (
	SourceWebhook     FactSource = "webhook"
	SourceManualEntry FactSource = "manual_entry"
	SourceTerminal    FactSource = "terminal"
	SourceCheckout    FactSource = "checkout"
)

// Fact is the normalized "money arrived/failed/refunded" input to the engine.
// It is transient and never persisted as its own row.
type Fact struct {
	ExternalRef      string
	Kind             FactKind
	Amount           int64 // minor currency units
	Currency         string
	TenantID         string
	GatewayAccountID string
	InvoiceID        string
	BookingID        string
	ContactID        string
	IsDeposit        bool
	Source           FactSource

	// RefundTotal is the cumulative refunded amount reported by the gateway
	// for FactRefunded. Carrying the running total rather than a delta makes
	// redelivered refund events naturally idempotent.
	RefundTotal int64

	CardBrand     string
	CardLast4     string
	ReceiptURL    string
	FailureReason string
}
