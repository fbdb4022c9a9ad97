package app

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"acomody/internal/domain"
)

type FeeCalculator struct {
	catalog domain.CatalogRepository
}

func NewFeeCalculator(c domain.CatalogRepository) *FeeCalculator {
	return &FeeCalculator{catalog: c}
}

func (c *FeeCalculator) CalculateAll(ctx context.Context, ref domain.EntityRef, subtotal decimal.Decimal, quantity, persons int, selected []string) (domain.FeeResult, error) {
	fees, err := c.catalog.ListFees(ctx, ref)
	if err != nil {
		return domain.FeeResult{}, domain.Persistence("list fees", err)
	}
	return calculateFees(fees, subtotal, quantity, persons, selected)
}

// calculateFees walks active fees in display order keeping a running total.
// Percentage fees on subtotal_and_fees see only the fees before them, so row
// order changes their amounts.
func calculateFees(fees []domain.Fee, subtotal decimal.Decimal, quantity, persons int, selected []string) (domain.FeeResult, error) {
	res := domain.FeeResult{Mandatory: []domain.FeeLine{}, Optional: []domain.FeeLine{}, Total: decimal.Zero}

	active := make([]domain.Fee, 0, len(fees))
	known := map[string]bool{}
	for _, f := range fees {
		if f.IsActive && f.DeletedAt == nil {
			active = append(active, f)
			known[f.ID] = true
		}
	}
	for _, id := range selected {
		if !known[id] {
			return res, domain.Validationf("calculate fees", "unknown optional fee %q", id)
		}
	}
	slices.SortStableFunc(active, func(a, b domain.Fee) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})

	running := decimal.Zero
	for _, f := range active {
		if !f.IsMandatory && !slices.Contains(selected, f.ID) {
			continue
		}
		if f.Gated(quantity, persons, subtotal) {
			continue
		}
		amount, err := feeAmount(f, subtotal, running, quantity, persons)
		if err != nil {
			return res, err
		}
		running = running.Add(amount)
		line := domain.FeeLine{
			FeeID: f.ID, Name: f.Name, FeeType: f.FeeType, ChargeType: f.ChargeType, Amount: amount,
			IsMandatory: f.IsMandatory, IsRefundable: f.IsRefundable, IsTaxable: f.IsTaxable,
		}
		if f.IsMandatory {
			res.Mandatory = append(res.Mandatory, line)
		} else {
			res.Optional = append(res.Optional, line)
		}
	}
	res.Total = running
	return res, nil
}

func feeAmount(f domain.Fee, subtotal, running decimal.Decimal, quantity, persons int) (decimal.Decimal, error) {
	q := decimal.NewFromInt(int64(quantity))
	p := decimal.NewFromInt(int64(persons))
	var v decimal.Decimal
	switch f.ChargeType {
	case domain.ChargePerUnit:
		v = f.Amount.Mul(q)
	case domain.ChargePerBooking:
		v = f.Amount
	case domain.ChargePerPerson:
		v = f.Amount.Mul(p)
	case domain.ChargePerPersonPerUnit:
		v = f.Amount.Mul(p).Mul(q)
	case domain.ChargePercentage:
		basis := subtotal
		switch f.PercentageBasis {
		case domain.BasisSubtotal:
		case domain.BasisSubtotalAndFees, domain.BasisSubtotalBeforeTax:
			basis = subtotal.Add(running)
		default:
			return decimal.Zero, domain.Configurationf("fee amount", "fee %s has unsupported percentage basis %q", f.ID, f.PercentageBasis)
		}
		v = basis.Mul(f.PercentageRate).Div(hundred)
	default:
		return decimal.Zero, domain.Configurationf("fee amount", "fee %s has unsupported charge type %q", f.ID, f.ChargeType)
	}
	return domain.RoundMoney(v), nil
}
