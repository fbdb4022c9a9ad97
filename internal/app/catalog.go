package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"acomody/internal/domain"
)

// CatalogService maintains price configuration: priceable items, pricing
// periods, fees and tax assignments. Every change writes a rollback-eligible
// history entry in the same transaction.
type CatalogService struct {
	store domain.Store
	fx    domain.CurrencyConverter
	now   func() time.Time
	log   zerolog.Logger
}

func NewCatalogService(store domain.Store, fx domain.CurrencyConverter) *CatalogService {
	return &CatalogService{
		store: store,
		fx:    fx,
		now:   utcNow,
		log:   log.With().Str("component", "catalog").Logger(),
	}
}

func (s *CatalogService) WithClock(now func() time.Time) *CatalogService {
	s.now = now
	return s
}

// SavePriceableItem creates or replaces an item. The EUR base amount is
// refreshed from the FX port when the item is priced in another currency.
func (s *CatalogService) SavePriceableItem(ctx context.Context, it domain.PriceableItem, actor domain.Actor) (domain.PriceableItem, error) {
	const op = "save priceable item"
	if err := it.Validate(); err != nil {
		return domain.PriceableItem{}, err
	}
	now := s.now()
	it.BaseAmountEUR = s.toEUR(ctx, it.BasePrice, it.Currency, now)

	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, it.Entity); err != nil {
			return err
		}
		old, err := existing(ctx, tx.GetPriceableItem, &it.ID)
		if err != nil {
			return err
		}
		if old != nil {
			if old.Entity != it.Entity {
				return domain.Validationf(op, "priceable item %s belongs to %s", it.ID, old.Entity)
			}
			it.CreatedAt = old.CreatedAt
		} else {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
		if err := ensureSingleActive(ctx, tx, it); err != nil {
			return err
		}
		if err := tx.SavePriceableItem(ctx, it); err != nil {
			return err
		}
		return s.record(ctx, tx, it.Entity, domain.RecordPriceableItem, it.ID, old, it, actor)
	})
	if err != nil {
		return domain.PriceableItem{}, s.fail(op, err)
	}
	return it, nil
}

func (s *CatalogService) DeletePriceableItem(ctx context.Context, id string, actor domain.Actor) error {
	return s.delete(ctx, "delete priceable item", domain.RecordPriceableItem, id, actor,
		func(ctx context.Context, tx domain.Repos) (domain.EntityRef, any, error) {
			it, err := tx.GetPriceableItem(ctx, id)
			return it.Entity, it, err
		},
		func(ctx context.Context, tx domain.Repos) error { return tx.DeletePriceableItem(ctx, id) })
}

func (s *CatalogService) SavePricingPeriod(ctx context.Context, p domain.PricingPeriod, actor domain.Actor) (domain.PricingPeriod, error) {
	const op = "save pricing period"
	if err := p.Validate(); err != nil {
		return domain.PricingPeriod{}, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, p.Entity); err != nil {
			return err
		}
		old, err := existing(ctx, tx.GetPricingPeriod, &p.ID)
		if err != nil {
			return err
		}
		now := s.now()
		p.CreatedAt, p.UpdatedAt = now, now
		if old != nil {
			if old.Entity != p.Entity {
				return domain.Validationf(op, "pricing period %s belongs to %s", p.ID, old.Entity)
			}
			p.CreatedAt = old.CreatedAt
		}
		if err := tx.SavePricingPeriod(ctx, p); err != nil {
			return err
		}
		return s.record(ctx, tx, p.Entity, domain.RecordPricingPeriod, p.ID, old, p, actor)
	})
	if err != nil {
		return domain.PricingPeriod{}, s.fail(op, err)
	}
	return p, nil
}

func (s *CatalogService) DeletePricingPeriod(ctx context.Context, id string, actor domain.Actor) error {
	return s.delete(ctx, "delete pricing period", domain.RecordPricingPeriod, id, actor,
		func(ctx context.Context, tx domain.Repos) (domain.EntityRef, any, error) {
			p, err := tx.GetPricingPeriod(ctx, id)
			return p.Entity, p, err
		},
		func(ctx context.Context, tx domain.Repos) error { return tx.DeletePricingPeriod(ctx, id) })
}

func (s *CatalogService) SaveFee(ctx context.Context, f domain.Fee, actor domain.Actor) (domain.Fee, error) {
	const op = "save fee"
	if err := f.Validate(); err != nil {
		return domain.Fee{}, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, f.Entity); err != nil {
			return err
		}
		old, err := existing(ctx, tx.GetFee, &f.ID)
		if err != nil {
			return err
		}
		now := s.now()
		f.CreatedAt, f.UpdatedAt, f.DeletedAt = now, now, nil
		if old != nil {
			if old.Entity != f.Entity {
				return domain.Validationf(op, "fee %s belongs to %s", f.ID, old.Entity)
			}
			if old.DeletedAt != nil {
				return domain.NotFoundf(op, "fee %s was deleted", f.ID)
			}
			f.CreatedAt = old.CreatedAt
		}
		if err := tx.SaveFee(ctx, f); err != nil {
			return err
		}
		return s.record(ctx, tx, f.Entity, domain.RecordFee, f.ID, old, f, actor)
	})
	if err != nil {
		return domain.Fee{}, s.fail(op, err)
	}
	return f, nil
}

// DeleteFee soft-deletes: the row stays with DeletedAt set so frozen
// breakdowns can still be traced to it.
func (s *CatalogService) DeleteFee(ctx context.Context, id string, actor domain.Actor) error {
	const op = "delete fee"
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		f, err := tx.GetFee(ctx, id)
		if err != nil {
			return err
		}
		if f.DeletedAt != nil {
			return domain.NotFoundf(op, "fee %s was deleted", id)
		}
		if err := tx.LockEntity(ctx, f.Entity); err != nil {
			return err
		}
		now := s.now()
		deleted := f
		deleted.DeletedAt, deleted.IsActive, deleted.UpdatedAt = &now, false, now
		if err := tx.SaveFee(ctx, deleted); err != nil {
			return err
		}
		return s.record(ctx, tx, f.Entity, domain.RecordFee, f.ID, f, deleted, actor)
	})
	return s.fail(op, err)
}

// SaveTaxRate maintains the shared jurisdiction catalog. Rates are not
// entity-scoped and carry no history.
func (s *CatalogService) SaveTaxRate(ctx context.Context, r domain.TaxRate) (domain.TaxRate, error) {
	const op = "save tax rate"
	if err := r.Validate(); err != nil {
		return domain.TaxRate{}, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		old, err := existing(ctx, tx.GetTaxRate, &r.ID)
		if err != nil {
			return err
		}
		now := s.now()
		r.CreatedAt, r.UpdatedAt = now, now
		if old != nil {
			r.CreatedAt = old.CreatedAt
		}
		return tx.SaveTaxRate(ctx, r)
	})
	if err != nil {
		return domain.TaxRate{}, s.fail(op, err)
	}
	return r, nil
}

func (s *CatalogService) ListTaxRates(ctx context.Context, f domain.TaxRateFilter) ([]domain.TaxRate, error) {
	out, err := s.store.ListTaxRates(ctx, f)
	if err != nil {
		return nil, s.fail("list tax rates", err)
	}
	return out, nil
}

// AssignTax attaches a rate to an entity, or updates an existing assignment's
// override and exemption settings.
func (s *CatalogService) AssignTax(ctx context.Context, t domain.EntityTax, actor domain.Actor) (domain.EntityTax, error) {
	const op = "assign tax"
	if err := t.Validate(); err != nil {
		return domain.EntityTax{}, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, t.Entity); err != nil {
			return err
		}
		if _, err := tx.GetTaxRate(ctx, t.TaxRateID); err != nil {
			if isNotFound(err) {
				return domain.Validationf(op, "tax rate %s does not exist", t.TaxRateID)
			}
			return err
		}
		old, err := existing(ctx, tx.GetEntityTax, &t.ID)
		if err != nil {
			return err
		}
		now := s.now()
		t.CreatedAt, t.UpdatedAt = now, now
		if old != nil {
			if old.Entity != t.Entity {
				return domain.Validationf(op, "tax assignment %s belongs to %s", t.ID, old.Entity)
			}
			t.CreatedAt = old.CreatedAt
		}
		if err := tx.SaveEntityTax(ctx, t); err != nil {
			return err
		}
		return s.record(ctx, tx, t.Entity, domain.RecordEntityTax, t.ID, old, t, actor)
	})
	if err != nil {
		return domain.EntityTax{}, s.fail(op, err)
	}
	return t, nil
}

func (s *CatalogService) UnassignTax(ctx context.Context, id string, actor domain.Actor) error {
	return s.delete(ctx, "unassign tax", domain.RecordEntityTax, id, actor,
		func(ctx context.Context, tx domain.Repos) (domain.EntityRef, any, error) {
			t, err := tx.GetEntityTax(ctx, id)
			return t.Entity, t, err
		},
		func(ctx context.Context, tx domain.Repos) error { return tx.DeleteEntityTax(ctx, id) })
}

// AssignJurisdictionTaxes attaches, for each tax type, the most specific
// active rate matching the listing's location. Rates already assigned are
// skipped. It returns the new assignments.
func (s *CatalogService) AssignJurisdictionTaxes(ctx context.Context, ref domain.EntityRef, actor domain.Actor) ([]domain.EntityTax, error) {
	const op = "assign jurisdiction taxes"
	var added []domain.EntityTax
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		l, err := tx.GetListing(ctx, ref)
		if err != nil {
			return err
		}
		if l.Country == "" {
			return domain.Validationf(op, "listing %s has no country", ref)
		}
		if err := tx.LockEntity(ctx, ref); err != nil {
			return err
		}
		rates, err := tx.ListTaxRates(ctx, domain.TaxRateFilter{Country: l.Country, Region: l.Region, City: l.City, Active: true})
		if err != nil {
			return err
		}
		assigned, err := tx.ListEntityTaxes(ctx, ref)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(assigned))
		for _, a := range assigned {
			have[a.TaxRateID] = true
		}

		now := s.now()
		for _, r := range mostSpecific(rates, l, now) {
			if have[r.ID] {
				continue
			}
			t := domain.EntityTax{
				ID: domain.NewID(), Entity: ref, TaxRateID: r.ID, IsActive: true,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := tx.SaveEntityTax(ctx, t); err != nil {
				return err
			}
			if err := s.record(ctx, tx, ref, domain.RecordEntityTax, t.ID, nil, t, actor); err != nil {
				return err
			}
			added = append(added, t)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	s.log.Info().Str("entity", ref.String()).Int("assigned", len(added)).Msg("jurisdiction taxes assigned")
	return added, nil
}

// mostSpecific picks one rate per tax type: city over region over country,
// then higher priority. rates arrive ordered by priority.
func mostSpecific(rates []domain.TaxRate, l domain.Listing, today time.Time) []domain.TaxRate {
	best := map[domain.TaxType]domain.TaxRate{}
	var order []domain.TaxType
	for _, r := range rates {
		if !r.EffectiveOn(today) || !r.Matches(l.Country, l.Region, l.City) {
			continue
		}
		cur, ok := best[r.TaxType]
		if !ok {
			order = append(order, r.TaxType)
		}
		if !ok || r.Specificity() > cur.Specificity() ||
			(r.Specificity() == cur.Specificity() && r.Priority > cur.Priority) {
			best[r.TaxType] = r
		}
	}
	out := make([]domain.TaxRate, 0, len(order))
	for _, t := range order {
		out = append(out, best[t])
	}
	return out
}

// ensureSingleActive rejects activating a second priceable item for an entity.
func ensureSingleActive(ctx context.Context, repo domain.CatalogRepository, it domain.PriceableItem) error {
	if !it.IsActive {
		return nil
	}
	cur, err := repo.GetActivePriceableItem(ctx, it.Entity)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.ID != it.ID {
		return domain.Conflictf("save priceable item", "entity %s already has active priceable item %s", it.Entity, cur.ID)
	}
	return nil
}

// existing loads the current row for an update. An empty id is assigned a new
// one and reports no previous row.
func existing[T any](ctx context.Context, get func(context.Context, string) (T, error), id *string) (*T, error) {
	if *id == "" {
		*id = domain.NewID()
		return nil, nil
	}
	v, err := get(ctx, *id)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *CatalogService) delete(ctx context.Context, op string, rt domain.RecordType, id string, actor domain.Actor,
	load func(context.Context, domain.Repos) (domain.EntityRef, any, error),
	del func(context.Context, domain.Repos) error) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		ref, old, err := load(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.LockEntity(ctx, ref); err != nil {
			return err
		}
		if err := del(ctx, tx); err != nil {
			return err
		}
		return s.record(ctx, tx, ref, rt, id, old, nil, actor)
	})
	return s.fail(op, err)
}

func (s *CatalogService) record(ctx context.Context, tx domain.Repos, ref domain.EntityRef, rt domain.RecordType,
	id string, old, cur any, actor domain.Actor) error {
	change := domain.ChangeUpdated
	switch {
	case isNilValue(old):
		old, change = nil, domain.ChangeCreated
	case cur == nil:
		change = domain.ChangeDeleted
	}
	return appendHistory(ctx, tx, s.now(), historyRecord{
		ref: ref, recordType: rt, recordID: id, change: change,
		old: old, new: cur, actor: actor, source: domain.SourceAPI, canRollback: true,
	})
}

// isNilValue catches typed nil pointers passed through an any.
func isNilValue(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *domain.PriceableItem:
		return p == nil
	case *domain.PricingPeriod:
		return p == nil
	case *domain.Fee:
		return p == nil
	case *domain.EntityTax:
		return p == nil
	}
	return false
}

func (s *CatalogService) toEUR(ctx context.Context, amount decimal.Decimal, currency string, at time.Time) decimal.Decimal {
	if currency == "EUR" {
		return amount
	}
	if s.fx == nil {
		return decimal.Zero
	}
	v, err := s.fx.Convert(ctx, amount, currency, "EUR", at)
	if err != nil {
		s.log.Warn().Err(err).Str("currency", currency).Msg("EUR conversion failed")
		return decimal.Zero
	}
	return domain.RoundMoney(v)
}

func (s *CatalogService) fail(op string, err error) error {
	err = domain.Persistence(op, err)
	if err != nil && !domain.IsClientError(err) {
		s.log.Error().Err(err).Str("op", op).Msg("catalog operation failed")
	}
	return err
}
