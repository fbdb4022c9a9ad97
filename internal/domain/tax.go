package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaxType string

const (
	TaxVAT           TaxType = "vat"
	TaxSales         TaxType = "sales"
	TaxTourist       TaxType = "tourist"
	TaxCity          TaxType = "city"
	TaxService       TaxType = "service"
	TaxEnvironmental TaxType = "environmental"
	TaxLuxury        TaxType = "luxury"
	TaxOther         TaxType = "other"
)

func (t TaxType) Valid() bool {
	switch t {
	case TaxVAT, TaxSales, TaxTourist, TaxCity, TaxService, TaxEnvironmental, TaxLuxury, TaxOther:
		return true
	}
	return false
}

type RateType string

const (
	RatePercentage RateType = "percentage"
	RateFlat       RateType = "flat"
)

type TaxBasis string

const (
	TaxOnSubtotal        TaxBasis = "subtotal_only"
	TaxOnSubtotalAndFees TaxBasis = "subtotal_and_fees"
	TaxPerUnit           TaxBasis = "per_unit"
	TaxPerPersonPerUnit  TaxBasis = "per_person_per_unit"
)

func (b TaxBasis) Valid() bool {
	switch b {
	case TaxOnSubtotal, TaxOnSubtotalAndFees, TaxPerUnit, TaxPerPersonPerUnit:
		return true
	}
	return false
}

// TaxRate is a jurisdiction-scoped rate. Empty Country/Region/City are wildcards.
type TaxRate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Country         string          `json:"country"`
	Region          string          `json:"region,omitempty"`
	City            string          `json:"city,omitempty"`
	TaxType         TaxType         `json:"tax_type"`
	RateType        RateType        `json:"rate_type"`
	Rate            decimal.Decimal `json:"rate"`
	Basis           TaxBasis        `json:"calculation_basis"`
	IncludedInPrice bool            `json:"included_in_price"`
	MinAge          *int            `json:"min_age,omitempty"`
	MaxAge          *int            `json:"max_age,omitempty"`
	MaxUnits        *int            `json:"max_units,omitempty"`
	EffectiveFrom   time.Time       `json:"effective_from"`
	EffectiveUntil  *time.Time      `json:"effective_until,omitempty"`
	Priority        int             `json:"priority"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r TaxRate) Validate() error {
	const op = "validate tax rate"
	if r.Name == "" {
		return Validationf(op, "name is required")
	}
	if !r.TaxType.Valid() {
		return Validationf(op, "unsupported tax type %q", r.TaxType)
	}
	if r.RateType != RatePercentage && r.RateType != RateFlat {
		return Validationf(op, "unsupported rate type %q", r.RateType)
	}
	if !r.Basis.Valid() {
		return Validationf(op, "unsupported calculation basis %q", r.Basis)
	}
	if r.Rate.IsNegative() {
		return Validationf(op, "rate must not be negative")
	}
	if r.EffectiveUntil != nil && r.EffectiveUntil.Before(r.EffectiveFrom) {
		return Validationf(op, "effective until is before effective from")
	}
	return nil
}

// EffectiveOn reports whether the rate is active and inside its window on day.
func (r TaxRate) EffectiveOn(day time.Time) bool {
	if !r.IsActive {
		return false
	}
	d := DateOf(day)
	if d.Before(DateOf(r.EffectiveFrom)) {
		return false
	}
	return r.EffectiveUntil == nil || !d.After(DateOf(*r.EffectiveUntil))
}

// Specificity ranks city over region over country scoped rates.
func (r TaxRate) Specificity() int {
	switch {
	case r.City != "":
		return 3
	case r.Region != "":
		return 2
	case r.Country != "":
		return 1
	}
	return 0
}

// Matches reports whether the rate applies to a location.
func (r TaxRate) Matches(country, region, city string) bool {
	if r.Country != "" && r.Country != country {
		return false
	}
	if r.Region != "" && r.Region != region {
		return false
	}
	return r.City == "" || r.City == city
}

// AgeApplies reports whether a guest of the given age falls in the age band.
func (r TaxRate) AgeApplies(age int) bool {
	if r.MinAge != nil && age < *r.MinAge {
		return false
	}
	return r.MaxAge == nil || age <= *r.MaxAge
}

// EntityTax assigns a TaxRate to an entity, optionally overriding or exempting it.
type EntityTax struct {
	ID                   string              `json:"id"`
	Entity               EntityRef           `json:"entity"`
	TaxRateID            string              `json:"tax_rate_id"`
	UseOverride          bool                `json:"use_override"`
	OverrideRate         decimal.NullDecimal `json:"override_rate"`
	OverrideBasis        TaxBasis            `json:"override_basis,omitempty"`
	OverrideIncluded     *bool               `json:"override_included,omitempty"`
	IsExempt             bool                `json:"is_exempt"`
	ExemptionReason      string              `json:"exemption_reason,omitempty"`
	ExemptionCertificate string              `json:"exemption_certificate,omitempty"`
	ExemptionExpiresAt   *time.Time          `json:"exemption_expires_at,omitempty"`
	IsActive             bool                `json:"is_active"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func (e EntityTax) Validate() error {
	const op = "validate entity tax"
	if e.Entity.Kind.IsZero() || e.Entity.ID == "" {
		return Validationf(op, "entity is required")
	}
	if e.TaxRateID == "" {
		return Validationf(op, "tax rate is required")
	}
	if e.OverrideBasis != "" && !e.OverrideBasis.Valid() {
		return Validationf(op, "unsupported override basis %q", e.OverrideBasis)
	}
	if e.OverrideRate.Valid && e.OverrideRate.Decimal.IsNegative() {
		return Validationf(op, "override rate must not be negative")
	}
	return nil
}

// ExemptOn reports an exemption still in force on day.
func (e EntityTax) ExemptOn(day time.Time) bool {
	if !e.IsExempt {
		return false
	}
	return e.ExemptionExpiresAt == nil || !DateOf(day).After(DateOf(*e.ExemptionExpiresAt))
}

// Effective folds overrides into a copy of the rate.
func (e EntityTax) Effective(r TaxRate) TaxRate {
	if !e.UseOverride {
		return r
	}
	if e.OverrideRate.Valid {
		r.Rate = e.OverrideRate.Decimal
	}
	if e.OverrideBasis != "" {
		r.Basis = e.OverrideBasis
	}
	if e.OverrideIncluded != nil {
		r.IncludedInPrice = *e.OverrideIncluded
	}
	return r
}

// AssignedTax is an EntityTax joined with its TaxRate.
type AssignedTax struct {
	EntityTax
	Rate TaxRate `json:"rate"`
}

type TaxLine struct {
	TaxRateID       string          `json:"tax_rate_id"`
	Name            string          `json:"name"`
	Type            TaxType         `json:"type"`
	RateType        RateType        `json:"rate_type"`
	Rate            decimal.Decimal `json:"rate"`
	Basis           TaxBasis        `json:"calculation_basis"`
	Amount          decimal.Decimal `json:"amount"`
	IncludedInPrice bool            `json:"included_in_price"`
}

type TaxResult struct {
	Lines         []TaxLine       `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	IncludedTotal decimal.Decimal `json:"included_total"`
}

type TaxRateFilter struct {
	Country string
	Region  string
	City    string
	Active  bool
}
