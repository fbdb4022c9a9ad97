package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"acomody/internal/app"
	"acomody/internal/domain"
)

func TestRefundPercent_PolicyTable(t *testing.T) {
	cases := []struct {
		policy domain.CancellationPolicy
		days   int
		want   int
	}{
		{domain.PolicyFlexible, 10, 100},
		{domain.PolicyFlexible, 1, 100},
		{domain.PolicyFlexible, 0, 0},
		{domain.PolicyModerate, 5, 100},
		{domain.PolicyModerate, 4, 50},
		{domain.PolicyModerate, 0, 50},
		{domain.PolicyModerate, -1, 0},
		{domain.PolicyFirm, 30, 50},
		{domain.PolicyFirm, 29, 0},
		{domain.PolicyStrict, 60, 50},
		{domain.PolicyStrict, 59, 0},
		{domain.PolicyNonRefundable, 365, 0},
		{"unknown", 100, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, app.RefundPercent(c.policy, c.days), "%s at %d days", c.policy, c.days)
	}
}

func TestRefundFor_OnlyConfirmedPaidBookings(t *testing.T) {
	now := time.Date(2030, 1, 1, 23, 0, 0, 0, time.UTC)
	b := domain.Booking{
		Status: domain.BookingConfirmed, PaymentStatus: domain.PaymentPaid,
		CancellationPolicy: domain.PolicyModerate, CheckIn: day("2030-01-03"), Total: dec("250.25"),
	}
	assert.True(t, dec("125.13").Equal(app.RefundFor(b, now)), app.RefundFor(b, now).String())

	unpaid := b
	unpaid.PaymentStatus = domain.PaymentUnpaid
	assert.True(t, app.RefundFor(unpaid, now).IsZero())

	pending := b
	pending.Status = domain.BookingPending
	assert.True(t, app.RefundFor(pending, now).IsZero())

	b.CancellationPolicy = domain.PolicyFlexible
	assert.True(t, dec("250.25").Equal(app.RefundFor(b, now)))
	assert.True(t, app.RefundFor(b, day("2030-01-03")).IsZero(), "same-day flexible cancellation")
}
