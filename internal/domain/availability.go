package domain

import "time"

type AvailabilityStatus string

const (
	StatusAvailable   AvailabilityStatus = "available"
	StatusBlocked     AvailabilityStatus = "blocked"
	StatusBooked      AvailabilityStatus = "booked"
	StatusMaintenance AvailabilityStatus = "maintenance"
	StatusClosed      AvailabilityStatus = "closed"
	StatusSoldOut     AvailabilityStatus = "sold_out"
)

func (s AvailabilityStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBlocked, StatusBooked, StatusMaintenance, StatusClosed, StatusSoldOut:
		return true
	}
	return false
}

// AvailabilityPeriod is one interval of an entity's ledger. Dates are inclusive.
type AvailabilityPeriod struct {
	ID              string             `json:"id"`
	Entity          EntityRef          `json:"entity"`
	StartDate       time.Time          `json:"start_date"`
	EndDate         time.Time          `json:"end_date"`
	StartTime       string             `json:"start_time,omitempty"`
	EndTime         string             `json:"end_time,omitempty"`
	DaysOfWeek      []time.Weekday     `json:"days_of_week,omitempty"`
	Status          AvailabilityStatus `json:"status"`
	Reason          string             `json:"reason,omitempty"`
	MaxCapacity     *int               `json:"max_capacity,omitempty"`
	CurrentBookings int                `json:"current_bookings"`
	BookingID       string             `json:"booking_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (p AvailabilityPeriod) Intersects(start, end time.Time) bool {
	return Intersects(DateOf(p.StartDate), DateOf(p.EndDate), DateOf(start), DateOf(end))
}

// Blocks reports whether the period makes its dates unavailable.
func (p AvailabilityPeriod) Blocks() bool { return p.Status != StatusAvailable }

// Covers reports whether the period applies to a single day.
func (p AvailabilityPeriod) Covers(day time.Time) bool {
	return p.Intersects(day, day)
}

// HasCapacity reports a capacity-tracked period with room left.
func (p AvailabilityPeriod) HasCapacity() bool {
	return p.MaxCapacity == nil || p.CurrentBookings < *p.MaxCapacity
}

type AvailabilityResult struct {
	Available       bool                 `json:"available"`
	BlockingPeriods []AvailabilityPeriod `json:"blocking_periods"`
	Reasons         []string             `json:"reasons"`
}

type CalendarDay struct {
	Date      string             `json:"date"`
	Status    AvailabilityStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	PeriodID  string             `json:"period_id,omitempty"`
	Capacity  *int               `json:"capacity,omitempty"`
	Remaining *int               `json:"remaining,omitempty"`
}

type MonthlyCalendar struct {
	Entity EntityRef     `json:"entity"`
	Year   int           `json:"year"`
	Month  time.Month    `json:"month"`
	Days   []CalendarDay `json:"days"`
}

// ValidateRange rejects inverted or zero date ranges.
func ValidateRange(op string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return Validationf(op, "start and end dates are required")
	}
	if DateOf(end).Before(DateOf(start)) {
		return Validationf(op, "end date %s is before start date %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	return nil
}
