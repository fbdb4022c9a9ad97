package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"acomody/internal/domain"
)

const (
	maxStayDays  = 731
	maxStayHours = 24 * 31
)

// PriceResolver turns an entity's price configuration into unit prices and a subtotal.
type PriceResolver struct {
	catalog domain.CatalogRepository
}

func NewPriceResolver(c domain.CatalogRepository) *PriceResolver {
	return &PriceResolver{catalog: c}
}

func (r *PriceResolver) PriceForDate(ctx context.Context, ref domain.EntityRef, date time.Time) (decimal.Decimal, error) {
	item, periods, err := loadPricing(ctx, r.catalog, ref)
	if err != nil {
		return decimal.Zero, err
	}
	return PriceForDate(item, periods, date)
}

func (r *PriceResolver) Calculate(ctx context.Context, ref domain.EntityRef, start, end time.Time, quantity, persons int) (domain.PriceCalculation, error) {
	item, periods, err := loadPricing(ctx, r.catalog, ref)
	if err != nil {
		return domain.PriceCalculation{}, err
	}
	return calculatePrice(item, periods, start, end, quantity, persons)
}

func loadPricing(ctx context.Context, c domain.CatalogRepository, ref domain.EntityRef) (domain.PriceableItem, []domain.PricingPeriod, error) {
	item, err := c.GetActivePriceableItem(ctx, ref)
	if isNotFound(err) {
		return domain.PriceableItem{}, nil, domain.Configurationf("load pricing", "no active priceable item for %s", ref)
	}
	if err != nil {
		return domain.PriceableItem{}, nil, domain.Persistence("load pricing", err)
	}
	periods, err := c.ListPricingPeriods(ctx, ref)
	if err != nil {
		return domain.PriceableItem{}, nil, domain.Persistence("load pricing periods", err)
	}
	return item, periods, nil
}

// PriceForDate resolves the unit price on date: the top-ranked active period
// covering it, else the weekend price, else the base price.
func PriceForDate(item domain.PriceableItem, periods []domain.PricingPeriod, date time.Time) (decimal.Decimal, error) {
	var best *domain.PricingPeriod
	for i := range periods {
		if !periods[i].Covers(date) {
			continue
		}
		if best == nil || periods[i].Outranks(*best) {
			best = &periods[i]
		}
	}
	if best != nil {
		v, err := best.Apply(item.BasePrice)
		if err != nil {
			return decimal.Zero, err
		}
		if v.IsNegative() {
			v = decimal.Zero
		}
		return domain.RoundMoney(v), nil
	}
	if item.HasWeekendPricing && item.IsWeekend(date) {
		return item.WeekendPrice, nil
	}
	return item.BasePrice, nil
}

func calculatePrice(item domain.PriceableItem, periods []domain.PricingPeriod, start, end time.Time, quantity, persons int) (domain.PriceCalculation, error) {
	const op = "calculate price"
	if quantity <= 0 {
		quantity = 1
	}
	if persons <= 0 {
		persons = 1
	}
	calc := domain.PriceCalculation{
		PricingType: item.PricingType,
		Currency:    item.Currency,
		BasePrice:   item.BasePrice,
		Persons:     persons,
	}

	var units []time.Time
	switch item.PricingType {
	case domain.PricingNightly, domain.PricingDaily:
		if err := domain.ValidateRange(op, start, end); err != nil {
			return calc, err
		}
		first, last := domain.DateOf(start), domain.DateOf(end)
		if item.PricingType == domain.PricingNightly {
			if !last.After(first) {
				return calc, domain.Validationf(op, "a nightly stay needs at least one night")
			}
			last = last.AddDate(0, 0, -1)
		}
		if domain.DaysBetween(first, last) >= maxStayDays {
			return calc, domain.Validationf(op, "stay longer than %d days", maxStayDays)
		}
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			units = append(units, d)
		}
	case domain.PricingHourly:
		if !end.After(start) {
			return calc, domain.Validationf(op, "end must be after start for hourly pricing")
		}
		hours := int(end.Sub(start).Hours())
		if hours < 1 {
			return calc, domain.Validationf(op, "hourly pricing needs at least one hour")
		}
		if hours > maxStayHours {
			return calc, domain.Validationf(op, "booking longer than %d hours", maxStayHours)
		}
		for h := 0; h < hours; h++ {
			units = append(units, start.Add(time.Duration(h)*time.Hour))
		}
	case domain.PricingPerItem, domain.PricingPerPerson, domain.PricingPerTable, domain.PricingFixed:
	default:
		return calc, domain.Configurationf(op, "unsupported pricing type %q for %s", item.PricingType, item.Entity)
	}

	sum := decimal.Zero
	if item.PricingType.TimeBased() {
		for _, u := range units {
			price, err := PriceForDate(item, periods, u)
			if err != nil {
				return calc, err
			}
			label := u.Format(domain.DateLayout)
			if item.PricingType == domain.PricingHourly {
				label = u.UTC().Format(time.RFC3339)
			}
			calc.UnitPrices = append(calc.UnitPrices, domain.UnitPrice{Date: label, Price: price})
			sum = sum.Add(price)
		}
		calc.Units = len(units)
		calc.Quantity = len(units)
	} else {
		base := item.BasePrice
		switch item.PricingType {
		case domain.PricingPerItem:
			sum = base.Mul(decimal.NewFromInt(int64(quantity)))
		case domain.PricingPerPerson:
			sum = base.Mul(decimal.NewFromInt(int64(persons)))
		default:
			sum = base
		}
		calc.Units = 1
		calc.Quantity = quantity
		calc.UnitPrices = []domain.UnitPrice{{Date: domain.DateOf(start).Format(domain.DateLayout), Price: base}}
	}

	calc.SubtotalBeforeDiscount = domain.RoundMoney(sum)
	calc.BulkDiscount = decimal.Zero
	if item.BulkDiscountThreshold > 0 && calc.Quantity >= item.BulkDiscountThreshold && item.BulkDiscountPercent.IsPositive() {
		calc.BulkDiscount = domain.RoundMoney(calc.SubtotalBeforeDiscount.Mul(item.BulkDiscountPercent).Div(hundred))
	}
	calc.Subtotal = calc.SubtotalBeforeDiscount.Sub(calc.BulkDiscount)
	return calc, nil
}

var hundred = decimal.NewFromInt(100)

func validateQuantity(item domain.PriceableItem, qty int) error {
	if item.MinQuantity > 0 && qty < item.MinQuantity {
		return domain.Validationf("validate quantity", "quantity %d is below the minimum of %d", qty, item.MinQuantity)
	}
	if item.MaxQuantity > 0 && qty > item.MaxQuantity {
		return domain.Validationf("validate quantity", "quantity %d exceeds the maximum of %d", qty, item.MaxQuantity)
	}
	return nil
}
