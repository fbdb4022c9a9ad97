package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acomody/internal/app"
	"acomody/internal/domain"
)

func TestSavePriceableItem_OneActivePerEntity(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	first := e.nightly(t, nil)

	_, err := e.catalog.SavePriceableItem(ctx, domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: dec("90"), Currency: "EUR", IsActive: true,
	}, host)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	inactive, err := e.catalog.SavePriceableItem(ctx, domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: dec("90"), Currency: "EUR",
	}, host)
	require.NoError(t, err)

	first.BasePrice = dec("110")
	updated, err := e.catalog.SavePriceableItem(ctx, first, host)
	require.NoError(t, err, "updating the active item itself is fine")
	assert.Equal(t, first.CreatedAt, updated.CreatedAt)

	active, err := e.store.GetActivePriceableItem(ctx, villa)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.NotEqual(t, inactive.ID, active.ID)
}

func TestSavePriceableItem_ConvertsToEUR(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	it, err := e.catalog.SavePriceableItem(ctx, domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: dec("200"), Currency: "USD", IsActive: true,
	}, host)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(it.BaseAmountEUR), it.BaseAmountEUR.String())

	down := app.NewCatalogService(e.store, fixedFX{err: errFXDown})
	other := domain.EntityRef{Kind: domain.KindVehicle, ID: "van-1"}
	it, err = down.SavePriceableItem(ctx, domain.PriceableItem{
		Entity: other, PricingType: domain.PricingDaily, BasePrice: dec("50"), Currency: "USD", IsActive: true,
	}, host)
	require.NoError(t, err, "conversion failure does not block the save")
	assert.True(t, it.BaseAmountEUR.IsZero())
}

func TestSavePriceableItem_Validation(t *testing.T) {
	e := newEngine(t)
	_, err := e.catalog.SavePriceableItem(context.Background(), domain.PriceableItem{
		Entity: villa, PricingType: "per_minute", BasePrice: dec("1"), Currency: "EUR",
	}, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.catalog.SavePriceableItem(context.Background(), domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: dec("-1"), Currency: "EUR",
	}, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSave_RejectsMovingRowsBetweenEntities(t *testing.T) {
	e := newEngine(t)
	f := e.fee(t, domain.Fee{Name: "cleaning", ChargeType: domain.ChargePerBooking, Amount: dec("20"), IsMandatory: true})

	f.Entity = domain.EntityRef{Kind: domain.KindAccommodation, ID: "villa-2"}
	_, err := e.catalog.SaveFee(context.Background(), f, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDeleteFee_IsSoft(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	f := e.fee(t, domain.Fee{Name: "cleaning", ChargeType: domain.ChargePerBooking, Amount: dec("20"), IsMandatory: true})

	require.NoError(t, e.catalog.DeleteFee(ctx, f.ID, host))
	got, err := e.store.GetFee(ctx, f.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)
	assert.False(t, got.IsActive)

	err = e.catalog.DeleteFee(ctx, f.ID, host)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = e.catalog.SaveFee(ctx, f, host)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "deleted fees cannot be edited")
}

func TestAssignTax_DuplicateAndUnknownRate(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	et := e.tax(t, vat("20"), nil)

	_, err := e.catalog.AssignTax(ctx, domain.EntityTax{Entity: villa, TaxRateID: et.TaxRateID, IsActive: true}, host)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = e.catalog.AssignTax(ctx, domain.EntityTax{Entity: villa, TaxRateID: "nope", IsActive: true}, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	require.NoError(t, e.catalog.UnassignTax(ctx, et.ID, host))
	assigned, err := e.store.ListEntityTaxes(ctx, villa)
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestAssignJurisdictionTaxes_PicksMostSpecificPerType(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.listing(t, nil)

	save := func(r domain.TaxRate) domain.TaxRate {
		r.IsActive, r.EffectiveFrom = true, day("2020-01-01")
		out, err := e.catalog.SaveTaxRate(ctx, r)
		require.NoError(t, err)
		return out
	}
	national := save(domain.TaxRate{Name: "IVA", Country: "PT", TaxType: domain.TaxVAT, RateType: domain.RatePercentage,
		Rate: dec("23"), Basis: domain.TaxOnSubtotalAndFees})
	save(domain.TaxRate{Name: "Tourist PT", Country: "PT", TaxType: domain.TaxTourist, RateType: domain.RateFlat,
		Rate: dec("1"), Basis: domain.TaxPerPersonPerUnit})
	city := save(domain.TaxRate{Name: "Tourist Lisbon", Country: "PT", City: "Lisbon", TaxType: domain.TaxTourist,
		RateType: domain.RateFlat, Rate: dec("2"), Basis: domain.TaxPerPersonPerUnit, MaxUnits: intp(7)})
	save(domain.TaxRate{Name: "Tourist Porto", Country: "PT", City: "Porto", TaxType: domain.TaxTourist,
		RateType: domain.RateFlat, Rate: dec("3"), Basis: domain.TaxPerPersonPerUnit})
	save(domain.TaxRate{Name: "VAT ES", Country: "ES", TaxType: domain.TaxVAT, RateType: domain.RatePercentage,
		Rate: dec("21"), Basis: domain.TaxOnSubtotal})

	added, err := e.catalog.AssignJurisdictionTaxes(ctx, villa, host)
	require.NoError(t, err)
	require.Len(t, added, 2)
	ids := []string{added[0].TaxRateID, added[1].TaxRateID}
	assert.ElementsMatch(t, []string{national.ID, city.ID}, ids)

	again, err := e.catalog.AssignJurisdictionTaxes(ctx, villa, host)
	require.NoError(t, err)
	assert.Empty(t, again, "existing assignments are kept")

	entries, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordEntityTax})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAssignJurisdictionTaxes_NeedsCountry(t *testing.T) {
	e := newEngine(t)
	e.listing(t, func(l *domain.Listing) { l.Country = "" })
	_, err := e.catalog.AssignJurisdictionTaxes(context.Background(), villa, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
