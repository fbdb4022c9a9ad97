package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChargeType string

const (
	ChargePerUnit          ChargeType = "per_unit"
	ChargePerBooking       ChargeType = "per_booking"
	ChargePerPerson        ChargeType = "per_person"
	ChargePerPersonPerUnit ChargeType = "per_person_per_unit"
	ChargePercentage       ChargeType = "percentage"
)

func (c ChargeType) Valid() bool {
	switch c {
	case ChargePerUnit, ChargePerBooking, ChargePerPerson, ChargePerPersonPerUnit, ChargePercentage:
		return true
	}
	return false
}

type PercentageBasis string

const (
	BasisSubtotal          PercentageBasis = "subtotal"
	BasisSubtotalAndFees   PercentageBasis = "subtotal_and_fees"
	BasisSubtotalBeforeTax PercentageBasis = "subtotal_before_tax"
)

type Fee struct {
	ID                   string              `json:"id"`
	Entity               EntityRef           `json:"entity"`
	Name                 string              `json:"name"`
	FeeType              string              `json:"fee_type"`
	ChargeType           ChargeType          `json:"charge_type"`
	Amount               decimal.Decimal     `json:"amount"`
	PercentageRate       decimal.Decimal     `json:"percentage_rate"`
	PercentageBasis      PercentageBasis     `json:"percentage_basis,omitempty"`
	Currency             string              `json:"currency"`
	AppliesAfterQuantity *int                `json:"applies_after_quantity,omitempty"`
	AppliesAfterPersons  *int                `json:"applies_after_persons,omitempty"`
	AppliesAfterAmount   decimal.NullDecimal `json:"applies_after_amount"`
	IsMandatory          bool                `json:"is_mandatory"`
	IsRefundable         bool                `json:"is_refundable"`
	IsTaxable            bool                `json:"is_taxable"`
	DisplayOrder         int                 `json:"display_order"`
	IsActive             bool                `json:"is_active"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	DeletedAt            *time.Time          `json:"deleted_at,omitempty"`
}

func (f Fee) Validate() error {
	const op = "validate fee"
	if f.Entity.Kind.IsZero() || f.Entity.ID == "" {
		return Validationf(op, "entity is required")
	}
	if f.Name == "" {
		return Validationf(op, "name is required")
	}
	if !f.ChargeType.Valid() {
		return Validationf(op, "unsupported charge type %q", f.ChargeType)
	}
	if f.ChargeType == ChargePercentage {
		switch f.PercentageBasis {
		case BasisSubtotal, BasisSubtotalAndFees, BasisSubtotalBeforeTax:
		default:
			return Validationf(op, "unsupported percentage basis %q", f.PercentageBasis)
		}
		if f.PercentageRate.IsNegative() {
			return Validationf(op, "percentage rate must not be negative")
		}
	} else if f.Amount.IsNegative() {
		return Validationf(op, "amount must not be negative")
	}
	return nil
}

// Gated reports whether a threshold keeps the fee out. Thresholds apply only
// once the figure strictly exceeds them.
func (f Fee) Gated(quantity, persons int, subtotal decimal.Decimal) bool {
	if f.AppliesAfterQuantity != nil && quantity <= *f.AppliesAfterQuantity {
		return true
	}
	if f.AppliesAfterPersons != nil && persons <= *f.AppliesAfterPersons {
		return true
	}
	if f.AppliesAfterAmount.Valid && subtotal.LessThanOrEqual(f.AppliesAfterAmount.Decimal) {
		return true
	}
	return false
}

// Orders fees for calculation: display order, then creation, then id.
func (f Fee) Before(o Fee) bool {
	if f.DisplayOrder != o.DisplayOrder {
		return f.DisplayOrder < o.DisplayOrder
	}
	if !f.CreatedAt.Equal(o.CreatedAt) {
		return f.CreatedAt.Before(o.CreatedAt)
	}
	return f.ID < o.ID
}

type FeeLine struct {
	FeeID        string          `json:"fee_id"`
	Name         string          `json:"name"`
	FeeType      string          `json:"fee_type,omitempty"`
	ChargeType   ChargeType      `json:"charge_type"`
	Amount       decimal.Decimal `json:"amount"`
	IsMandatory  bool            `json:"is_mandatory"`
	IsRefundable bool            `json:"is_refundable"`
	IsTaxable    bool            `json:"is_taxable"`
}

type FeeResult struct {
	Mandatory []FeeLine       `json:"mandatory"`
	Optional  []FeeLine       `json:"optional"`
	Total     decimal.Decimal `json:"total"`
}
