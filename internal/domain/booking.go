package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingDeclined  BookingStatus = "declined"
	BookingCompleted BookingStatus = "completed"
	BookingNoShow    BookingStatus = "no_show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingDeclined, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled, BookingNoShow},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type BookingType string

const (
	BookingInstant   BookingType = "instant"
	BookingOnRequest BookingType = "request"
)

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

type CancellationPolicy string

const (
	PolicyFlexible      CancellationPolicy = "flexible"
	PolicyModerate      CancellationPolicy = "moderate"
	PolicyFirm          CancellationPolicy = "firm"
	PolicyStrict        CancellationPolicy = "strict"
	PolicyNonRefundable CancellationPolicy = "non_refundable"
)

func (p CancellationPolicy) Valid() bool {
	switch p {
	case PolicyFlexible, PolicyModerate, PolicyFirm, PolicyStrict, PolicyNonRefundable:
		return true
	}
	return false
}

type Booking struct {
	ID                   string             `json:"id"`
	Entity               EntityRef          `json:"entity"`
	GuestID              string             `json:"guest_id"`
	HostID               string             `json:"host_id"`
	CheckIn              time.Time          `json:"check_in"`
	CheckOut             time.Time          `json:"check_out"`
	Nights               int                `json:"nights"`
	Guests               int                `json:"guests"`
	GuestAges            []int              `json:"guest_ages,omitempty"`
	SelectedFees         []string           `json:"selected_fees,omitempty"`
	Status               BookingStatus      `json:"status"`
	BookingType          BookingType        `json:"booking_type"`
	CancellationPolicy   CancellationPolicy `json:"cancellation_policy"`
	Subtotal             decimal.Decimal    `json:"subtotal"`
	FeesTotal            decimal.Decimal    `json:"fees_total"`
	TaxesTotal           decimal.Decimal    `json:"taxes_total"`
	Total                decimal.Decimal    `json:"total"`
	Currency             string             `json:"currency"`
	Breakdown            PriceBreakdown     `json:"breakdown"`
	PaymentStatus        PaymentStatus      `json:"payment_status"`
	PaidAt               *time.Time         `json:"paid_at,omitempty"`
	AvailabilityPeriodID string             `json:"availability_period_id,omitempty"`
	UsesCapacity         bool               `json:"uses_capacity,omitempty"`
	ConfirmedAt          *time.Time         `json:"confirmed_at,omitempty"`
	DeclinedAt           *time.Time         `json:"declined_at,omitempty"`
	DeclineReason        string             `json:"decline_reason,omitempty"`
	CancelledAt          *time.Time         `json:"cancelled_at,omitempty"`
	CancelledBy          string             `json:"cancelled_by,omitempty"`
	CancellationReason   string             `json:"cancellation_reason,omitempty"`
	RefundAmount         decimal.Decimal    `json:"refund_amount"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	DeletedAt            *time.Time         `json:"deleted_at,omitempty"`
}

// LastNight is the final occupied date of a stay. Check-out day itself is free
// for the next guest.
func (b Booking) LastNight() time.Time {
	last := DateOf(b.CheckOut).AddDate(0, 0, -1)
	if last.Before(DateOf(b.CheckIn)) {
		return DateOf(b.CheckIn)
	}
	return last
}

type BookingRequest struct {
	Entity       EntityRef `json:"entity"`
	GuestID      string    `json:"guest_id"`
	CheckIn      time.Time `json:"check_in"`
	CheckOut     time.Time `json:"check_out"`
	Guests       int       `json:"guests"`
	Quantity     int       `json:"quantity,omitempty"`
	OptionalFees []string  `json:"optional_fees,omitempty"`
	GuestAges    []int     `json:"guest_ages,omitempty"`
}

type BookingFilter struct {
	Entity         *EntityRef
	GuestID        string
	HostID         string
	Statuses       []BookingStatus
	CheckOutBefore *time.Time
	Limit          int
}

// BookingEvent names a notification emitted after a committed transition.
type BookingEvent string

const (
	EventBookingCreated   BookingEvent = "booking.created"
	EventBookingConfirmed BookingEvent = "booking.confirmed"
	EventBookingDeclined  BookingEvent = "booking.declined"
	EventBookingCancelled BookingEvent = "booking.cancelled"
	EventBookingCompleted BookingEvent = "booking.completed"
	EventBookingNoShow    BookingEvent = "booking.no_show"
	EventBookingPaid      BookingEvent = "booking.paid"
)

// BookingNotice is the payload published with a BookingEvent.
type BookingNotice struct {
	BookingID    string          `json:"booking_id"`
	Entity       EntityRef       `json:"entity"`
	GuestID      string          `json:"guest_id"`
	HostID       string          `json:"host_id"`
	Status       BookingStatus   `json:"status"`
	CheckIn      string          `json:"check_in"`
	CheckOut     string          `json:"check_out"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

func NoticeFor(b Booking, at time.Time) BookingNotice {
	return BookingNotice{
		BookingID: b.ID, Entity: b.Entity, GuestID: b.GuestID, HostID: b.HostID, Status: b.Status,
		CheckIn: b.CheckIn.Format(DateLayout), CheckOut: b.CheckOut.Format(DateLayout),
		Total: b.Total, Currency: b.Currency, RefundAmount: b.RefundAmount, OccurredAt: at,
	}
}
