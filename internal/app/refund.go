package app

import (
	"time"

	"github.com/shopspring/decimal"

	"acomody/internal/domain"
)

// RefundFor applies the cancellation policy table to a booking cancelled at
// now. Only confirmed, paid bookings are refundable.
func RefundFor(b domain.Booking, now time.Time) decimal.Decimal {
	if b.Status != domain.BookingConfirmed || b.PaymentStatus != domain.PaymentPaid {
		return decimal.Zero
	}
	pct := RefundPercent(b.CancellationPolicy, domain.DaysBetween(now, b.CheckIn))
	if pct == 0 {
		return decimal.Zero
	}
	return domain.RoundMoney(b.Total.Mul(decimal.NewFromInt(int64(pct))).Div(hundred))
}

// RefundPercent is the share of the total returned when cancelling
// daysUntilCheckIn days ahead.
func RefundPercent(policy domain.CancellationPolicy, daysUntilCheckIn int) int {
	d := daysUntilCheckIn
	switch policy {
	case domain.PolicyFlexible:
		if d >= 1 {
			return 100
		}
	case domain.PolicyModerate:
		if d >= 5 {
			return 100
		}
		if d >= 0 {
			return 50
		}
	case domain.PolicyFirm:
		if d >= 30 {
			return 50
		}
	case domain.PolicyStrict:
		if d >= 60 {
			return 50
		}
	}
	return 0
}
