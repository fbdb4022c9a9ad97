package mysql

import (
	"context"
	"database/sql"
	"time"

	"acomody/internal/domain"
)

// ---------- priceable items ----------

func scanItem(s scanner) (domain.PriceableItem, error) {
	var (
		it      domain.PriceableItem
		weekend []byte
	)
	err := s.Scan(
		&it.ID, &it.Entity.Kind, &it.Entity.ID, &it.PricingType, &it.BasePrice, &it.Currency, &it.BaseAmountEUR,
		&it.HasWeekendPricing, &it.WeekendPrice, &weekend, &it.BulkDiscountThreshold, &it.BulkDiscountPercent,
		&it.MinQuantity, &it.MaxQuantity, &it.IsActive, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return domain.PriceableItem{}, err
	}
	it.WeekendDays, err = decodeJSON[time.Weekday]("scan priceable item", weekend)
	return it, err
}

func (r *Repo) GetActivePriceableItem(ctx context.Context, ref domain.EntityRef) (domain.PriceableItem, error) {
	it, err := scanItem(r.q.QueryRowContext(ctx, getActiveItemSQL, ref.Kind, ref.ID))
	if err != nil {
		return domain.PriceableItem{}, rowErr("get active priceable item", "priceable item for", ref.String(), err)
	}
	return it, nil
}

func (r *Repo) GetPriceableItem(ctx context.Context, id string) (domain.PriceableItem, error) {
	it, err := scanItem(r.q.QueryRowContext(ctx, getItemSQL, id))
	if err != nil {
		return domain.PriceableItem{}, rowErr("get priceable item", "priceable item", id, err)
	}
	return it, nil
}

func (r *Repo) SavePriceableItem(ctx context.Context, it domain.PriceableItem) error {
	const op = "save priceable item"
	weekend, err := valJSON(it.WeekendDays)
	if err != nil {
		return domain.Persistence(op, err)
	}
	_, err = r.q.ExecContext(ctx, upsertItemSQL,
		it.ID, it.Entity.Kind, it.Entity.ID, it.PricingType, it.BasePrice, it.Currency, it.BaseAmountEUR,
		it.HasWeekendPricing, it.WeekendPrice, weekend, it.BulkDiscountThreshold, it.BulkDiscountPercent,
		it.MinQuantity, it.MaxQuantity, it.IsActive, it.CreatedAt.UTC(), it.UpdatedAt.UTC(),
	)
	return dbErr(op, err)
}

func (r *Repo) DeletePriceableItem(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, deleteItemSQL, id)
	return dbErr("delete priceable item", err)
}

// ---------- pricing periods ----------

func scanPricingPeriod(s scanner) (domain.PricingPeriod, error) {
	var (
		p          domain.PricingPeriod
		start, end sql.NullTime
		days       []byte
	)
	err := s.Scan(
		&p.ID, &p.Entity.Kind, &p.Entity.ID, &p.Name, &start, &end, &days, &p.RuleType,
		&p.Value, &p.Priority, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.PricingPeriod{}, err
	}
	p.StartDate, p.EndDate = ptrTime(start), ptrTime(end)
	p.DaysOfWeek, err = decodeJSON[time.Weekday]("scan pricing period", days)
	return p, err
}

func (r *Repo) ListPricingPeriods(ctx context.Context, ref domain.EntityRef) ([]domain.PricingPeriod, error) {
	const op = "list pricing periods"
	rows, err := r.q.QueryContext(ctx, listPricingPeriodsSQL, ref.Kind, ref.ID)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.PricingPeriod
	for rows.Next() {
		p, err := scanPricingPeriod(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, p)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) GetPricingPeriod(ctx context.Context, id string) (domain.PricingPeriod, error) {
	p, err := scanPricingPeriod(r.q.QueryRowContext(ctx, getPricingPeriodSQL, id))
	if err != nil {
		return domain.PricingPeriod{}, rowErr("get pricing period", "pricing period", id, err)
	}
	return p, nil
}

func (r *Repo) SavePricingPeriod(ctx context.Context, p domain.PricingPeriod) error {
	const op = "save pricing period"
	days, err := valJSON(p.DaysOfWeek)
	if err != nil {
		return domain.Persistence(op, err)
	}
	_, err = r.q.ExecContext(ctx, upsertPricingPeriodSQL,
		p.ID, p.Entity.Kind, p.Entity.ID, p.Name, valTime(p.StartDate), valTime(p.EndDate), days, p.RuleType,
		p.Value, p.Priority, p.IsActive, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return dbErr(op, err)
}

func (r *Repo) DeletePricingPeriod(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, deletePricingPeriodSQL, id)
	return dbErr("delete pricing period", err)
}

// ---------- fees ----------

func scanFee(s scanner) (domain.Fee, error) {
	var (
		f                 domain.Fee
		afterQty, afterPp sql.NullInt64
		deleted           sql.NullTime
	)
	err := s.Scan(
		&f.ID, &f.Entity.Kind, &f.Entity.ID, &f.Name, &f.FeeType, &f.ChargeType, &f.Amount, &f.PercentageRate,
		&f.PercentageBasis, &f.Currency, &afterQty, &afterPp, &f.AppliesAfterAmount,
		&f.IsMandatory, &f.IsRefundable, &f.IsTaxable, &f.DisplayOrder, &f.IsActive, &f.CreatedAt, &f.UpdatedAt, &deleted,
	)
	if err != nil {
		return domain.Fee{}, err
	}
	f.AppliesAfterQuantity, f.AppliesAfterPersons = ptrInt(afterQty), ptrInt(afterPp)
	f.DeletedAt = ptrTime(deleted)
	return f, nil
}

func (r *Repo) ListFees(ctx context.Context, ref domain.EntityRef) ([]domain.Fee, error) {
	const op = "list fees"
	rows, err := r.q.QueryContext(ctx, listFeesSQL, ref.Kind, ref.ID)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.Fee
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, f)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) GetFee(ctx context.Context, id string) (domain.Fee, error) {
	f, err := scanFee(r.q.QueryRowContext(ctx, getFeeSQL, id))
	if err != nil {
		return domain.Fee{}, rowErr("get fee", "fee", id, err)
	}
	return f, nil
}

func (r *Repo) SaveFee(ctx context.Context, f domain.Fee) error {
	_, err := r.q.ExecContext(ctx, upsertFeeSQL,
		f.ID, f.Entity.Kind, f.Entity.ID, f.Name, f.FeeType, f.ChargeType, f.Amount, f.PercentageRate,
		f.PercentageBasis, f.Currency, valInt(f.AppliesAfterQuantity), valInt(f.AppliesAfterPersons), f.AppliesAfterAmount,
		f.IsMandatory, f.IsRefundable, f.IsTaxable, f.DisplayOrder, f.IsActive, f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
		valTime(f.DeletedAt),
	)
	return dbErr("save fee", err)
}

func (r *Repo) DeleteFee(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, deleteFeeSQL, id)
	return dbErr("delete fee", err)
}

// ---------- taxes ----------

func taxRateDest(t *domain.TaxRate, minAge, maxAge, maxUnits *sql.NullInt64, until *sql.NullTime) []any {
	return []any{
		&t.ID, &t.Name, &t.Country, &t.Region, &t.City, &t.TaxType, &t.RateType, &t.Rate, &t.Basis,
		&t.IncludedInPrice, minAge, maxAge, maxUnits, &t.EffectiveFrom, until, &t.Priority, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt,
	}
}

func scanTaxRate(s scanner) (domain.TaxRate, error) {
	var (
		t                        domain.TaxRate
		minAge, maxAge, maxUnits sql.NullInt64
		until                    sql.NullTime
	)
	if err := s.Scan(taxRateDest(&t, &minAge, &maxAge, &maxUnits, &until)...); err != nil {
		return domain.TaxRate{}, err
	}
	t.MinAge, t.MaxAge, t.MaxUnits = ptrInt(minAge), ptrInt(maxAge), ptrInt(maxUnits)
	t.EffectiveUntil = ptrTime(until)
	return t, nil
}

func (r *Repo) ListTaxRates(ctx context.Context, f domain.TaxRateFilter) ([]domain.TaxRate, error) {
	const op = "list tax rates"
	rows, err := r.q.QueryContext(ctx, listTaxRatesSQL, f.Country, f.Country, f.Active)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.TaxRate
	for rows.Next() {
		t, err := scanTaxRate(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		if f.Country != "" && !t.Matches(f.Country, f.Region, f.City) {
			continue
		}
		out = append(out, t)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) GetTaxRate(ctx context.Context, id string) (domain.TaxRate, error) {
	t, err := scanTaxRate(r.q.QueryRowContext(ctx, getTaxRateSQL, id))
	if err != nil {
		return domain.TaxRate{}, rowErr("get tax rate", "tax rate", id, err)
	}
	return t, nil
}

func (r *Repo) SaveTaxRate(ctx context.Context, t domain.TaxRate) error {
	_, err := r.q.ExecContext(ctx, upsertTaxRateSQL,
		t.ID, t.Name, t.Country, t.Region, t.City, t.TaxType, t.RateType, t.Rate, t.Basis,
		t.IncludedInPrice, valInt(t.MinAge), valInt(t.MaxAge), valInt(t.MaxUnits), t.EffectiveFrom.UTC(),
		valTime(t.EffectiveUntil), t.Priority, t.IsActive, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return dbErr("save tax rate", err)
}

func entityTaxDest(e *domain.EntityTax, included *sql.NullBool, expires *sql.NullTime) []any {
	return []any{
		&e.ID, &e.Entity.Kind, &e.Entity.ID, &e.TaxRateID, &e.UseOverride, &e.OverrideRate, &e.OverrideBasis,
		included, &e.IsExempt, &e.ExemptionReason, &e.ExemptionCertificate, expires, &e.IsActive,
		&e.CreatedAt, &e.UpdatedAt,
	}
}

func (r *Repo) ListEntityTaxes(ctx context.Context, ref domain.EntityRef) ([]domain.AssignedTax, error) {
	const op = "list entity taxes"
	rows, err := r.q.QueryContext(ctx, listEntityTaxesSQL, ref.Kind, ref.ID)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.AssignedTax
	for rows.Next() {
		var (
			a                        domain.AssignedTax
			included                 sql.NullBool
			expires, until           sql.NullTime
			minAge, maxAge, maxUnits sql.NullInt64
		)
		dest := append(entityTaxDest(&a.EntityTax, &included, &expires),
			taxRateDest(&a.Rate, &minAge, &maxAge, &maxUnits, &until)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, dbErr(op, err)
		}
		a.OverrideIncluded, a.ExemptionExpiresAt = ptrBool(included), ptrTime(expires)
		a.Rate.MinAge, a.Rate.MaxAge, a.Rate.MaxUnits = ptrInt(minAge), ptrInt(maxAge), ptrInt(maxUnits)
		a.Rate.EffectiveUntil = ptrTime(until)
		out = append(out, a)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) GetEntityTax(ctx context.Context, id string) (domain.EntityTax, error) {
	var (
		e        domain.EntityTax
		included sql.NullBool
		expires  sql.NullTime
	)
	if err := r.q.QueryRowContext(ctx, getEntityTaxSQL, id).Scan(entityTaxDest(&e, &included, &expires)...); err != nil {
		return domain.EntityTax{}, rowErr("get entity tax", "entity tax", id, err)
	}
	e.OverrideIncluded, e.ExemptionExpiresAt = ptrBool(included), ptrTime(expires)
	return e, nil
}

func (r *Repo) SaveEntityTax(ctx context.Context, e domain.EntityTax) error {
	const op = "save entity tax"
	var dup int
	if err := r.q.QueryRowContext(ctx, entityTaxConflictSQL, e.Entity.Kind, e.Entity.ID, e.TaxRateID, e.ID).Scan(&dup); err != nil {
		return dbErr(op, err)
	}
	if dup > 0 {
		return domain.Conflictf(op, "tax rate %s already assigned to %s", e.TaxRateID, e.Entity)
	}
	_, err := r.q.ExecContext(ctx, upsertEntityTaxSQL,
		e.ID, e.Entity.Kind, e.Entity.ID, e.TaxRateID, e.UseOverride, e.OverrideRate, e.OverrideBasis,
		valBool(e.OverrideIncluded), e.IsExempt, e.ExemptionReason, e.ExemptionCertificate,
		valTime(e.ExemptionExpiresAt), e.IsActive, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	return dbErr(op, err)
}

func (r *Repo) DeleteEntityTax(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, deleteEntityTaxSQL, id)
	return dbErr("delete entity tax", err)
}
