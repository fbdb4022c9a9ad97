package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type PricingType string

const (
	PricingNightly   PricingType = "nightly"
	PricingHourly    PricingType = "hourly"
	PricingDaily     PricingType = "daily"
	PricingPerItem   PricingType = "per_item"
	PricingPerPerson PricingType = "per_person"
	PricingPerTable  PricingType = "per_table"
	PricingFixed     PricingType = "fixed"
	PricingCustom    PricingType = "custom"
)

func (t PricingType) Valid() bool {
	switch t {
	case PricingNightly, PricingHourly, PricingDaily, PricingPerItem,
		PricingPerPerson, PricingPerTable, PricingFixed, PricingCustom:
		return true
	}
	return false
}

// TimeBased types are priced unit by unit over a date range.
func (t PricingType) TimeBased() bool {
	return t == PricingNightly || t == PricingHourly || t == PricingDaily
}

// DefaultWeekendDays applies when an item enables weekend pricing without a day set.
var DefaultWeekendDays = []time.Weekday{time.Saturday, time.Sunday}

// PriceableItem is the price configuration of one entity. At most one is active per entity.
type PriceableItem struct {
	ID                    string          `json:"id"`
	Entity                EntityRef       `json:"entity"`
	PricingType           PricingType     `json:"pricing_type"`
	BasePrice             decimal.Decimal `json:"base_price"`
	Currency              string          `json:"currency"`
	BaseAmountEUR         decimal.Decimal `json:"base_amount_eur"`
	HasWeekendPricing     bool            `json:"has_weekend_pricing"`
	WeekendPrice          decimal.Decimal `json:"weekend_price"`
	WeekendDays           []time.Weekday  `json:"weekend_days,omitempty"`
	BulkDiscountThreshold int             `json:"bulk_discount_threshold,omitempty"`
	BulkDiscountPercent   decimal.Decimal `json:"bulk_discount_percent"`
	MinQuantity           int             `json:"min_quantity,omitempty"`
	MaxQuantity           int             `json:"max_quantity,omitempty"`
	IsActive              bool            `json:"is_active"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (i PriceableItem) Validate() error {
	const op = "validate priceable item"
	if i.Entity.Kind.IsZero() || i.Entity.ID == "" {
		return Validationf(op, "entity is required")
	}
	if !i.PricingType.Valid() {
		return Validationf(op, "unsupported pricing type %q", i.PricingType)
	}
	if i.BasePrice.IsNegative() {
		return Validationf(op, "base price must not be negative")
	}
	if len(i.Currency) != 3 {
		return Validationf(op, "currency must be an ISO 4217 code")
	}
	if i.HasWeekendPricing && i.WeekendPrice.IsNegative() {
		return Validationf(op, "weekend price must not be negative")
	}
	if i.BulkDiscountPercent.IsNegative() || i.BulkDiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return Validationf(op, "bulk discount percent must be between 0 and 100")
	}
	if i.MinQuantity < 0 || i.MaxQuantity < 0 {
		return Validationf(op, "quantity bounds must not be negative")
	}
	if i.MaxQuantity > 0 && i.MinQuantity > i.MaxQuantity {
		return Validationf(op, "min quantity %d exceeds max quantity %d", i.MinQuantity, i.MaxQuantity)
	}
	return nil
}

// IsWeekend reports whether date falls on one of the item's weekend days.
func (i PriceableItem) IsWeekend(date time.Time) bool {
	days := i.WeekendDays
	if len(days) == 0 {
		days = DefaultWeekendDays
	}
	return slices.Contains(days, date.Weekday())
}

type RuleType string

const (
	RuleOverride   RuleType = "override"
	RuleMultiplier RuleType = "multiplier"
	RuleAdjustment RuleType = "adjustment"
)

// PricingPeriod adjusts the price over a date range and/or a set of weekdays.
type PricingPeriod struct {
	ID         string          `json:"id"`
	Entity     EntityRef       `json:"entity"`
	Name       string          `json:"name"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty"`
	DaysOfWeek []time.Weekday  `json:"days_of_week,omitempty"`
	RuleType   RuleType        `json:"rule_type"`
	Value      decimal.Decimal `json:"value"`
	Priority   int             `json:"priority"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (p PricingPeriod) Validate() error {
	const op = "validate pricing period"
	if p.Entity.Kind.IsZero() || p.Entity.ID == "" {
		return Validationf(op, "entity is required")
	}
	if (p.StartDate == nil) != (p.EndDate == nil) {
		return Validationf(op, "start and end date must be set together")
	}
	if p.StartDate == nil && len(p.DaysOfWeek) == 0 {
		return Validationf(op, "a date range or a set of weekdays is required")
	}
	if p.StartDate != nil && p.EndDate.Before(*p.StartDate) {
		return Validationf(op, "end date is before start date")
	}
	switch p.RuleType {
	case RuleOverride, RuleMultiplier:
		if p.Value.IsNegative() {
			return Validationf(op, "%s value must not be negative", p.RuleType)
		}
	case RuleAdjustment:
	default:
		return Validationf(op, "unsupported rule type %q", p.RuleType)
	}
	return nil
}

// Covers reports whether the period applies on date.
func (p PricingPeriod) Covers(date time.Time) bool {
	if !p.IsActive {
		return false
	}
	d := DateOf(date)
	if p.StartDate != nil && p.EndDate != nil {
		if d.Before(DateOf(*p.StartDate)) || d.After(DateOf(*p.EndDate)) {
			return false
		}
	}
	if len(p.DaysOfWeek) > 0 && !slices.Contains(p.DaysOfWeek, d.Weekday()) {
		return false
	}
	return true
}

// Apply runs the period's rule against base.
func (p PricingPeriod) Apply(base decimal.Decimal) (decimal.Decimal, error) {
	switch p.RuleType {
	case RuleOverride:
		return p.Value, nil
	case RuleMultiplier:
		return base.Mul(p.Value), nil
	case RuleAdjustment:
		return base.Add(p.Value), nil
	}
	return decimal.Zero, Configurationf("apply pricing period", "unsupported rule type %q on period %s", p.RuleType, p.ID)
}

// Outranks orders overlapping periods: higher priority, then most recently
// created, then the greater id.
func (p PricingPeriod) Outranks(o PricingPeriod) bool {
	if p.Priority != o.Priority {
		return p.Priority > o.Priority
	}
	if !p.CreatedAt.Equal(o.CreatedAt) {
		return p.CreatedAt.After(o.CreatedAt)
	}
	return p.ID > o.ID
}

type UnitPrice struct {
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// PriceCalculation is the subtotal part of a quote.
type PriceCalculation struct {
	PricingType            PricingType     `json:"pricing_type"`
	Currency               string          `json:"currency"`
	BasePrice              decimal.Decimal `json:"base_price"`
	Units                  int             `json:"units"`
	Quantity               int             `json:"quantity"`
	Persons                int             `json:"persons"`
	UnitPrices             []UnitPrice     `json:"unit_prices"`
	SubtotalBeforeDiscount decimal.Decimal `json:"subtotal_before_discount"`
	BulkDiscount           decimal.Decimal `json:"bulk_discount"`
	Subtotal               decimal.Decimal `json:"subtotal"`
}

// PriceBreakdown is the full quote document frozen onto a booking.
type PriceBreakdown struct {
	PriceCalculation

	Entity             EntityRef        `json:"entity"`
	Start              string           `json:"start"`
	End                string           `json:"end"`
	MandatoryFees      []FeeLine        `json:"mandatory_fees"`
	OptionalFees       []FeeLine        `json:"optional_fees"`
	FeesTotal          decimal.Decimal  `json:"fees_total"`
	SubtotalBeforeTax  decimal.Decimal  `json:"subtotal_before_tax"`
	Taxes              []TaxLine        `json:"taxes"`
	TaxesTotal         decimal.Decimal  `json:"taxes_total"`
	IncludedTaxesTotal decimal.Decimal  `json:"included_taxes_total"`
	Total              decimal.Decimal  `json:"total"`
	Formatted          FormattedAmounts `json:"formatted"`
	Display            *DisplayAmount   `json:"display,omitempty"`
	CalculatedAt       time.Time        `json:"calculated_at"`
}

type FormattedAmounts struct {
	Subtotal          string `json:"subtotal"`
	FeesTotal         string `json:"fees_total"`
	SubtotalBeforeTax string `json:"subtotal_before_tax"`
	TaxesTotal        string `json:"taxes_total"`
	Total             string `json:"total"`
}

// DisplayAmount is the total converted to the caller's display currency.
type DisplayAmount struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Formatted string          `json:"formatted"`
}

// FormatMoney renders an amount with two decimals and its currency code.
func FormatMoney(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}

// RoundMoney rounds half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
