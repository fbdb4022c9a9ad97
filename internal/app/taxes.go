package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"acomody/internal/domain"
)

type TaxInput struct {
	Subtotal  decimal.Decimal
	FeesTotal decimal.Decimal
	Quantity  int
	Persons   int
	GuestAges []int
}

type TaxCalculator struct {
	catalog domain.CatalogRepository
	now     func() time.Time
}

func NewTaxCalculator(c domain.CatalogRepository) *TaxCalculator {
	return &TaxCalculator{catalog: c, now: utcNow}
}

func (c *TaxCalculator) WithClock(now func() time.Time) *TaxCalculator {
	c.now = now
	return c
}

func (c *TaxCalculator) CalculateAll(ctx context.Context, ref domain.EntityRef, in TaxInput) (domain.TaxResult, error) {
	assigned, err := c.catalog.ListEntityTaxes(ctx, ref)
	if err != nil {
		return domain.TaxResult{}, domain.Persistence("list entity taxes", err)
	}
	return calculateTaxes(assigned, in, c.now())
}

// calculateTaxes applies each assigned, effective, non-exempt rate. Zero
// amounts are left out. Taxes included in the price are extracted from their
// basis and reported apart from the payable total.
func calculateTaxes(assigned []domain.AssignedTax, in TaxInput, today time.Time) (domain.TaxResult, error) {
	res := domain.TaxResult{Lines: []domain.TaxLine{}, Total: decimal.Zero, IncludedTotal: decimal.Zero}
	for _, a := range assigned {
		if !a.EntityTax.IsActive || !a.Rate.EffectiveOn(today) || a.ExemptOn(today) {
			continue
		}
		rate := a.Effective(a.Rate)
		amount, err := taxAmount(rate, in)
		if err != nil {
			return res, err
		}
		if amount.IsZero() {
			continue
		}
		res.Lines = append(res.Lines, domain.TaxLine{
			TaxRateID: rate.ID, Name: rate.Name, Type: rate.TaxType, RateType: rate.RateType,
			Rate: rate.Rate, Basis: rate.Basis, Amount: amount, IncludedInPrice: rate.IncludedInPrice,
		})
		if rate.IncludedInPrice {
			res.IncludedTotal = res.IncludedTotal.Add(amount)
		} else {
			res.Total = res.Total.Add(amount)
		}
	}
	return res, nil
}

func taxAmount(r domain.TaxRate, in TaxInput) (decimal.Decimal, error) {
	switch r.Basis {
	case domain.TaxOnSubtotal, domain.TaxOnSubtotalAndFees:
		basis := in.Subtotal
		if r.Basis == domain.TaxOnSubtotalAndFees {
			basis = basis.Add(in.FeesTotal)
		}
		if r.RateType == domain.RateFlat {
			return domain.RoundMoney(r.Rate), nil
		}
		if r.IncludedInPrice {
			// basis already contains the tax
			return domain.RoundMoney(basis.Mul(r.Rate).Div(hundred.Add(r.Rate))), nil
		}
		return domain.RoundMoney(basis.Mul(r.Rate).Div(hundred)), nil
	case domain.TaxPerUnit:
		return domain.RoundMoney(r.Rate.Mul(decimal.NewFromInt(int64(cappedUnits(r, in.Quantity))))), nil
	case domain.TaxPerPersonPerUnit:
		persons := decimal.NewFromInt(int64(applicablePersons(r, in)))
		return domain.RoundMoney(r.Rate.Mul(persons).Mul(decimal.NewFromInt(int64(cappedUnits(r, in.Quantity))))), nil
	}
	return decimal.Zero, domain.Configurationf("tax amount", "tax rate %s has unsupported calculation basis %q", r.ID, r.Basis)
}

func cappedUnits(r domain.TaxRate, quantity int) int {
	if r.MaxUnits != nil && *r.MaxUnits < quantity {
		return *r.MaxUnits
	}
	return quantity
}

// applicablePersons counts guests inside the rate's age band. Without ages
// every person counts.
func applicablePersons(r domain.TaxRate, in TaxInput) int {
	if len(in.GuestAges) == 0 || (r.MinAge == nil && r.MaxAge == nil) {
		return in.Persons
	}
	n := 0
	for _, age := range in.GuestAges {
		if r.AgeApplies(age) {
			n++
		}
	}
	return n
}
