package reconcile

import (
	"sort"

	"github.com/yourusername/clientflow/models"
)

// BookingPaymentStatus derives a booking's payment status from its price and
// the amounts already applied to it. Callers must pass amounts that already
// include the payment being processed; the function does no I/O and no
// clamping beyond the three-way branch. A zero-price booking stays unpaid
// until money actually arrives; it is never born paid.
func BookingPaymentStatus(totalPrice, depositAllocated, bookingAmountPaid int64) models.BookingPaymentStatus {
	if bookingAmountPaid >= totalPrice && totalPrice > 0 {
		return models.BookingPaid
	}
	if bookingAmountPaid > 0 || depositAllocated > 0 {
		return models.BookingDepositPaid
	}
	return models.BookingUnpaid
}

// InvoiceBalance returns the balance due after amountPaid is applied against
// total, clamped at zero. amountPaid > total is an overpayment anomaly; the
// engine logs it, this function only clamps.
func InvoiceBalance(total, amountPaid int64) int64 {
	if balance := total - amountPaid; balance > 0 {
		return balance
	}
	return 0
}

// BookingBalanceDue clamps a booking balance at zero the same way.
func BookingBalanceDue(totalPrice, bookingAmountPaid int64) int64 {
	if balance := totalPrice - bookingAmountPaid; balance > 0 {
		return balance
	}
	return 0
}

// Allocation is one booking's share of a payment applied to an invoice that
// carries several bookings.
type Allocation struct {
	BookingID string
	Amount    int64
}

// ProportionalAllocation splits a payment across bookings in proportion to
// their prices. Bookings are processed largest first and the final booking
// absorbs the rounding remainder, so the allocations always sum to amount.
func ProportionalAllocation(invoiceTotal int64, bookings []models.Booking, amount int64) []Allocation {
	if len(bookings) == 0 {
		return nil
	}

	allocations := make([]Allocation, 0, len(bookings))
	if invoiceTotal == 0 {
		for _, b := range bookings {
			allocations = append(allocations, Allocation{BookingID: b.ID})
		}
		return allocations
	}

	sorted := make([]models.Booking, len(bookings))
	copy(sorted, bookings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TotalPrice > sorted[j].TotalPrice
	})

	remaining := amount
	for i, b := range sorted {
		var share int64
		if i == len(sorted)-1 {
			share = remaining
		} else {
			share = (amount*b.TotalPrice + invoiceTotal/2) / invoiceTotal
		}
		remaining -= share
		allocations = append(allocations, Allocation{BookingID: b.ID, Amount: share})
	}

	return allocations
}
