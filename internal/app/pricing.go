package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"acomody/internal/adapters/observability"
	"acomody/internal/domain"
)

type QuoteRequest struct {
	Entity          domain.EntityRef
	Start           time.Time
	End             time.Time
	Quantity        int
	Persons         int
	OptionalFees    []string
	GuestAges       []int
	DisplayCurrency string
}

// PricingService composes price resolution, fees and taxes into one breakdown.
type PricingService struct {
	store domain.Store
	fx    domain.CurrencyConverter
	now   func() time.Time
	log   zerolog.Logger
}

func NewPricingService(store domain.Store, fx domain.CurrencyConverter) *PricingService {
	return &PricingService{
		store: store,
		fx:    fx,
		now:   utcNow,
		log:   log.With().Str("component", "pricing").Logger(),
	}
}

func (s *PricingService) WithClock(now func() time.Time) *PricingService {
	s.now = now
	return s
}

// CalculatePrice quotes a stay. A display currency only adds a converted
// total; conversion failures leave it out.
func (s *PricingService) CalculatePrice(ctx context.Context, q QuoteRequest) (domain.PriceBreakdown, error) {
	b, err := s.calculate(ctx, s.store, q)
	observability.ObserveQuote(err)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrPersistence) {
			s.log.Error().Err(err).Str("entity", q.Entity.String()).Msg("price calculation failed")
		}
		return domain.PriceBreakdown{}, err
	}
	if q.DisplayCurrency != "" && q.DisplayCurrency != b.Currency && s.fx != nil {
		v, err := s.fx.Convert(ctx, b.Total, b.Currency, q.DisplayCurrency, s.now())
		if err != nil {
			s.log.Warn().Err(err).Str("from", b.Currency).Str("to", q.DisplayCurrency).Msg("display conversion failed")
		} else {
			v = domain.RoundMoney(v)
			b.Display = &domain.DisplayAmount{Currency: q.DisplayCurrency, Total: v, Formatted: domain.FormatMoney(v, q.DisplayCurrency)}
		}
	}
	return b, nil
}

// calculate reads every catalog row through repo, so inside a transaction the
// breakdown reflects one consistent snapshot.
func (s *PricingService) calculate(ctx context.Context, repo domain.CatalogRepository, q QuoteRequest) (domain.PriceBreakdown, error) {
	item, periods, err := loadPricing(ctx, repo, q.Entity)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	calc, err := calculatePrice(item, periods, q.Start, q.End, q.Quantity, q.Persons)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	if err := validateQuantity(item, calc.Quantity); err != nil {
		return domain.PriceBreakdown{}, err
	}

	fees, err := repo.ListFees(ctx, q.Entity)
	if err != nil {
		return domain.PriceBreakdown{}, domain.Persistence("list fees", err)
	}
	feeRes, err := calculateFees(fees, calc.Subtotal, calc.Quantity, calc.Persons, q.OptionalFees)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	assigned, err := repo.ListEntityTaxes(ctx, q.Entity)
	if err != nil {
		return domain.PriceBreakdown{}, domain.Persistence("list entity taxes", err)
	}
	now := s.now()
	taxRes, err := calculateTaxes(assigned, TaxInput{
		Subtotal: calc.Subtotal, FeesTotal: feeRes.Total,
		Quantity: calc.Quantity, Persons: calc.Persons, GuestAges: q.GuestAges,
	}, now)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	beforeTax := calc.Subtotal.Add(feeRes.Total)
	total := beforeTax.Add(taxRes.Total)
	cur := calc.Currency
	return domain.PriceBreakdown{
		PriceCalculation:   calc,
		Entity:             q.Entity,
		Start:              q.Start.Format(domain.DateLayout),
		End:                q.End.Format(domain.DateLayout),
		MandatoryFees:      feeRes.Mandatory,
		OptionalFees:       feeRes.Optional,
		FeesTotal:          feeRes.Total,
		SubtotalBeforeTax:  beforeTax,
		Taxes:              taxRes.Lines,
		TaxesTotal:         taxRes.Total,
		IncludedTaxesTotal: taxRes.IncludedTotal,
		Total:              total,
		Formatted: domain.FormattedAmounts{
			Subtotal:          domain.FormatMoney(calc.Subtotal, cur),
			FeesTotal:         domain.FormatMoney(feeRes.Total, cur),
			SubtotalBeforeTax: domain.FormatMoney(beforeTax, cur),
			TaxesTotal:        domain.FormatMoney(taxRes.Total, cur),
			Total:             domain.FormatMoney(total, cur),
		},
		CalculatedAt: now,
	}, nil
}
