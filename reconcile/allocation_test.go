package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yourusername/clientflow/models"
)

func TestBookingPaymentStatus(t *testing.T) {
	tests := []struct {
		name             string
		totalPrice       int64
		depositAllocated int64
		amountPaid       int64
		expected         models.BookingPaymentStatus
	}{
		{"Nothing Paid", 20000, 0, 0, models.BookingUnpaid},
		{"Deposit Paid", 20000, 5000, 5000, models.BookingDepositPaid},
		{"Partial Without Deposit", 20000, 0, 1, models.BookingDepositPaid},
		{"Deposit Allocated But Unsettled", 20000, 5000, 0, models.BookingDepositPaid},
		{"Exactly Paid", 20000, 5000, 20000, models.BookingPaid},
		{"Overpaid", 20000, 0, 25000, models.BookingPaid},
		{"Negative Amount", 20000, 0, -100, models.BookingUnpaid},
		{"Zero Price Nothing Paid", 0, 0, 0, models.BookingUnpaid},
		{"Zero Price With Payment", 0, 0, 100, models.BookingDepositPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BookingPaymentStatus(tt.totalPrice, tt.depositAllocated, tt.amountPaid)
			assert.Equal(t, tt.expected, got)

			// Pure function: repeated calls agree.
			assert.Equal(t, got, BookingPaymentStatus(tt.totalPrice, tt.depositAllocated, tt.amountPaid))
		})
	}
}

func TestInvoiceBalance(t *testing.T) {
	assert.Equal(t, int64(7000), InvoiceBalance(10000, 3000))
	assert.Equal(t, int64(0), InvoiceBalance(10000, 10000))
	// Overpayment clamps at zero; the engine logs the anomaly.
	assert.Equal(t, int64(0), InvoiceBalance(10000, 12000))
	assert.Equal(t, int64(10000), InvoiceBalance(10000, 0))
}

func TestBookingBalanceDue(t *testing.T) {
	assert.Equal(t, int64(15000), BookingBalanceDue(20000, 5000))
	assert.Equal(t, int64(0), BookingBalanceDue(20000, 20000))
	assert.Equal(t, int64(0), BookingBalanceDue(20000, 25000))
}

func TestProportionalAllocation(t *testing.T) {
	bookings := []models.Booking{
		{ID: "a", TotalPrice: 10000},
		{ID: "b", TotalPrice: 20000},
	}

	t.Run("Proportional Split", func(t *testing.T) {
		allocations := ProportionalAllocation(30000, bookings, 9000)
		assert.Len(t, allocations, 2)

		byID := map[string]int64{}
		var sum int64
		for _, alloc := range allocations {
			byID[alloc.BookingID] = alloc.Amount
			sum += alloc.Amount
		}
		assert.Equal(t, int64(9000), sum)
		assert.Equal(t, int64(6000), byID["b"])
		assert.Equal(t, int64(3000), byID["a"])
	})

	t.Run("Remainder Goes To Last", func(t *testing.T) {
		uneven := []models.Booking{
			{ID: "a", TotalPrice: 100},
			{ID: "b", TotalPrice: 100},
			{ID: "c", TotalPrice: 100},
		}
		allocations := ProportionalAllocation(300, uneven, 100)
		var sum int64
		for _, alloc := range allocations {
			sum += alloc.Amount
		}
		assert.Equal(t, int64(100), sum)
	})

	t.Run("Zero Invoice Total", func(t *testing.T) {
		allocations := ProportionalAllocation(0, bookings, 500)
		for _, alloc := range allocations {
			assert.Zero(t, alloc.Amount)
		}
	})

	t.Run("No Bookings", func(t *testing.T) {
		assert.Nil(t, ProportionalAllocation(30000, nil, 9000))
	})
}
