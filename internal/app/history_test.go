package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acomody/internal/domain"
)

func onlyEntry(t *testing.T, e *engine, rt domain.RecordType, recordID string) domain.HistoryEntry {
	t.Helper()
	entries, err := e.history.EntityHistory(context.Background(), villa, domain.HistoryFilter{RecordType: rt, RecordID: recordID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestRollback_PricingPeriodCreation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	before, err := e.store.ListPricingPeriods(ctx, villa)
	require.NoError(t, err)

	p, err := e.catalog.SavePricingPeriod(ctx, period("summer", "2030-07-01", "2030-08-31", domain.RuleMultiplier, "1.5", 1), host)
	require.NoError(t, err)
	entry := onlyEntry(t, e, domain.RecordPricingPeriod, p.ID)
	assert.Equal(t, domain.ChangeCreated, entry.ChangeType)
	assert.Nil(t, entry.OldValues)
	assert.True(t, entry.CanRollback)

	rolled, err := e.history.Rollback(ctx, entry.ID, host)
	require.NoError(t, err)
	require.NotNil(t, rolled.RolledBackAt)
	assert.Equal(t, host.UserID, rolled.RolledBackBy)

	after, err := e.store.ListPricingPeriods(ctx, villa)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := e.history.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RolledBackAt)

	_, err = e.history.Rollback(ctx, entry.ID, host)
	assert.True(t, errors.Is(err, domain.ErrConflict), "already rolled back")

	all, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "rollback writes no entry of its own")
}

func TestRollback_FeeUpdateAndDelete(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	f := e.fee(t, domain.Fee{Name: "cleaning", ChargeType: domain.ChargePerBooking, Amount: dec("20"), IsMandatory: true})

	f.Amount = dec("35")
	_, err := e.catalog.SaveFee(ctx, f, host)
	require.NoError(t, err)

	entries, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordFee})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var update domain.HistoryEntry
	for _, en := range entries {
		if en.ChangeType == domain.ChangeUpdated {
			update = en
		}
	}
	require.NotEmpty(t, update.ID)

	_, err = e.history.Rollback(ctx, update.ID, host)
	require.NoError(t, err)
	got, err := e.store.GetFee(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(got.Amount))

	e.clock.Set(today.Add(time.Minute))
	require.NoError(t, e.catalog.DeleteFee(ctx, f.ID, host))
	fees, err := e.store.ListFees(ctx, villa)
	require.NoError(t, err)
	assert.Empty(t, fees)

	entries, err = e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordFee})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	del := entries[0]
	var snap domain.Fee
	require.NoError(t, json.Unmarshal(del.NewValues, &snap))
	require.NotNil(t, snap.DeletedAt)

	_, err = e.history.Rollback(ctx, del.ID, host)
	require.NoError(t, err)
	fees, err = e.store.ListFees(ctx, villa)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.True(t, fees[0].IsActive)
}

func TestRollback_PriceableItemDeletion(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	it := e.nightly(t, nil)

	require.NoError(t, e.catalog.DeletePriceableItem(ctx, it.ID, host))
	_, err := e.store.GetActivePriceableItem(ctx, villa)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	entries, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordPriceableItem})
	require.NoError(t, err)
	var del domain.HistoryEntry
	for _, en := range entries {
		if en.ChangeType == domain.ChangeDeleted {
			del = en
		}
	}
	require.NotEmpty(t, del.ID)
	assert.Nil(t, del.NewValues)

	_, err = e.history.Rollback(ctx, del.ID, host)
	require.NoError(t, err)
	restored, err := e.store.GetActivePriceableItem(ctx, villa)
	require.NoError(t, err)
	assert.Equal(t, it.ID, restored.ID)
	assert.True(t, it.BasePrice.Equal(restored.BasePrice))
}

func TestRollback_PriceableItemRespectsSingleActive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	first := e.nightly(t, nil)
	require.NoError(t, e.catalog.DeletePriceableItem(ctx, first.ID, host))
	e.nightly(t, func(it *domain.PriceableItem) { it.BasePrice = dec("140") })

	entries, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordPriceableItem, RecordID: first.ID})
	require.NoError(t, err)
	var del domain.HistoryEntry
	for _, en := range entries {
		if en.ChangeType == domain.ChangeDeleted {
			del = en
		}
	}
	_, err = e.history.Rollback(ctx, del.ID, host)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	fresh, err := e.history.Get(ctx, del.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.RolledBackAt, "failed rollback leaves the entry untouched")
}

func TestRollback_AvailabilityBlock(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	first, err := e.avail.BlockDates(ctx, villa, day("2030-05-01"), day("2030-05-03"), "first", host)
	require.NoError(t, err)
	second, err := e.avail.BlockDates(ctx, villa, day("2030-05-02"), day("2030-05-06"), "second", host)
	require.NoError(t, err)

	entry := onlyEntry(t, e, domain.RecordAvailability, second.ID)
	_, err = e.history.Rollback(ctx, entry.ID, host)
	require.NoError(t, err)

	periods, err := e.store.ListPeriods(ctx, villa, day("2030-05-01"), day("2030-05-31"))
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, first.ID, periods[0].ID)
	assert.Equal(t, "first", periods[0].Reason)
}

func TestRollback_AvailabilityConflictsWithLaterChanges(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	blocked, err := e.avail.BlockDates(ctx, villa, day("2030-05-01"), day("2030-05-03"), "", host)
	require.NoError(t, err)
	_, err = e.avail.BlockDates(ctx, villa, day("2030-05-03"), day("2030-05-04"), "", host)
	require.NoError(t, err)

	entry := onlyEntry(t, e, domain.RecordAvailability, blocked.ID)
	_, err = e.history.Rollback(ctx, entry.ID, host)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestRollback_BookingEntriesAreNotEligible(t *testing.T) {
	e := bookable(t, instant)
	ctx := context.Background()
	b, err := e.bookings.Create(ctx, request("2030-02-04", "2030-02-07", 2))
	require.NoError(t, err)

	entry := onlyEntry(t, e, domain.RecordAvailability, b.AvailabilityPeriodID)
	assert.Equal(t, domain.SourceBooking, entry.Source)
	_, err = e.history.Rollback(ctx, entry.ID, host)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestRecord_AppendsStandaloneEntry(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	err := e.history.Record(ctx, villa, domain.RecordPriceableItem, "item-9", domain.ChangeUpdated,
		map[string]string{"base_price": "90"}, map[string]string{"base_price": "95"}, host, domain.SourceSystem)
	require.NoError(t, err)

	entry := onlyEntry(t, e, domain.RecordPriceableItem, "item-9")
	assert.JSONEq(t, `{"base_price":"90"}`, string(entry.OldValues))
	assert.Equal(t, domain.SourceSystem, entry.Source)

	_, err = e.history.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
