package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acomody/internal/domain"
)

func TestCheckAvailability_ClosedIntervalOverlap(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.BlockDates(ctx, villa, day("2030-02-10"), day("2030-02-12"), "painting", host)
	require.NoError(t, err)

	cases := []struct {
		start, end string
		available  bool
	}{
		{"2030-02-01", "2030-02-09", true},
		{"2030-02-01", "2030-02-10", false}, // touches first blocked day
		{"2030-02-12", "2030-02-20", false}, // touches last blocked day
		{"2030-02-13", "2030-02-20", true},
		{"2030-02-11", "2030-02-11", false},
	}
	for _, c := range cases {
		res, err := e.avail.CheckAvailability(ctx, villa, day(c.start), day(c.end))
		require.NoError(t, err)
		assert.Equal(t, c.available, res.Available, "%s..%s", c.start, c.end)
		if !c.available {
			require.Len(t, res.BlockingPeriods, 1)
			assert.Contains(t, res.Reasons[0], "painting")
		}
	}
}

func TestCheckAvailability_AvailablePeriodsNeverBlock(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.MarkAsAvailable(ctx, villa, day("2030-02-01"), day("2030-02-28"), "open season", host)
	require.NoError(t, err)

	res, err := e.avail.CheckAvailability(ctx, villa, day("2030-02-05"), day("2030-02-07"))
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Empty(t, res.BlockingPeriods)
}

func TestCheckAvailability_RejectsInvertedRange(t *testing.T) {
	e := newEngine(t)
	_, err := e.avail.CheckAvailability(context.Background(), villa, day("2030-02-05"), day("2030-02-01"))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestLedgerMutations_LeaveNoOverlaps(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.BlockDates(ctx, villa, day("2030-03-01"), day("2030-03-10"), "", host)
	require.NoError(t, err)
	_, err = e.avail.BlockDates(ctx, villa, day("2030-03-20"), day("2030-03-25"), "", host)
	require.NoError(t, err)
	booked, err := e.avail.MarkAsBooked(ctx, villa, day("2030-03-08"), day("2030-03-21"), "phone booking", host)
	require.NoError(t, err)

	periods, err := e.store.ListPeriods(ctx, villa, day("2030-01-01"), day("2030-12-31"))
	require.NoError(t, err)
	require.Len(t, periods, 1, "both intersecting blocks are replaced")
	assert.Equal(t, booked.ID, periods[0].ID)
	assert.Equal(t, domain.StatusBooked, periods[0].Status)

	for i := range periods {
		for j := i + 1; j < len(periods); j++ {
			assert.False(t, periods[i].Intersects(periods[j].StartDate, periods[j].EndDate))
		}
	}
}

func TestUnblockDates_LeavesBookedPeriods(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.BlockDates(ctx, villa, day("2030-04-01"), day("2030-04-03"), "", host)
	require.NoError(t, err)
	booked, err := e.avail.MarkAsBooked(ctx, villa, day("2030-04-05"), day("2030-04-06"), "", host)
	require.NoError(t, err)

	removed, err := e.avail.UnblockDates(ctx, villa, day("2030-04-01"), day("2030-04-30"), host)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, domain.StatusBlocked, removed[0].Status)

	periods, err := e.store.ListPeriods(ctx, villa, day("2030-04-01"), day("2030-04-30"))
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, booked.ID, periods[0].ID)
}

func TestLedgerMutations_WriteHistory(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.BlockDates(ctx, villa, day("2030-05-01"), day("2030-05-02"), "", host)
	require.NoError(t, err)
	_, err = e.avail.UnblockDates(ctx, villa, day("2030-05-01"), day("2030-05-02"), host)
	require.NoError(t, err)

	entries, err := e.history.EntityHistory(ctx, villa, domain.HistoryFilter{RecordType: domain.RecordAvailability})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	changes := []domain.ChangeType{entries[0].ChangeType, entries[1].ChangeType}
	assert.ElementsMatch(t, []domain.ChangeType{domain.ChangeBlocked, domain.ChangeUnblocked}, changes)
	for _, en := range entries {
		assert.Equal(t, host, en.Actor)
		assert.True(t, en.CanRollback)
	}
}

func TestCapacity_IncrementStopsAtMax(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	show := domain.EntityRef{Kind: domain.KindEvent, ID: "show-1"}
	date := day("2030-06-15")

	rows, err := e.avail.SetCapacity(ctx, show, date, date, 2, host)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	for i := 0; i < 2; i++ {
		ok, err := e.avail.IncrementBookings(ctx, show, date, host)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := e.avail.IncrementBookings(ctx, show, date, host)
	require.NoError(t, err)
	assert.False(t, ok, "third booking exceeds capacity")

	has, err := e.avail.HasCapacity(ctx, show, date)
	require.NoError(t, err)
	assert.False(t, has)

	p, err := e.store.GetPeriod(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentBookings)
	assert.Equal(t, domain.StatusSoldOut, p.Status)

	ok, err = e.avail.DecrementBookings(ctx, show, date, host)
	require.NoError(t, err)
	require.True(t, ok)
	p, err = e.store.GetPeriod(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, p.Status)
}

func TestCapacity_DatesWithoutRowsAreUnlimited(t *testing.T) {
	e := newEngine(t)
	ok, err := e.avail.IncrementBookings(context.Background(), villa, day("2030-06-01"), host)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.avail.HasCapacity(context.Background(), villa, day("2030-06-01"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetCapacity_Validation(t *testing.T) {
	e := newEngine(t)
	_, err := e.avail.SetCapacity(context.Background(), villa, day("2030-06-01"), day("2030-06-02"), 0, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = e.avail.SetCapacity(context.Background(), villa, day("2030-01-01"), day("2031-06-01"), 3, host)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestMonthlyCalendar_CacheMissThenHitThenEvict(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.avail.BlockDates(ctx, villa, day("2030-07-30"), day("2030-08-02"), "renovation", host)
	require.NoError(t, err)

	cal, err := e.avail.MonthlyCalendar(ctx, villa, 2030, time.July)
	require.NoError(t, err)
	require.Len(t, cal.Days, 31)
	assert.Equal(t, domain.StatusAvailable, cal.Days[0].Status)
	assert.Equal(t, domain.StatusBlocked, cal.Days[29].Status)
	assert.Equal(t, "renovation", cal.Days[30].Reason)
	assert.Equal(t, 0, e.cache.hits)

	_, err = e.avail.MonthlyCalendar(ctx, villa, 2030, time.July)
	require.NoError(t, err)
	assert.Equal(t, 1, e.cache.hits)

	e.cache.deleted = nil
	_, err = e.avail.UnblockDates(ctx, villa, day("2030-07-30"), day("2030-08-02"), host)
	require.NoError(t, err)
	assert.Contains(t, e.cache.deleted, "calendar:accommodation:villa-1:2030-07")
	assert.Contains(t, e.cache.deleted, "calendar:accommodation:villa-1:2030-08")

	cal, err = e.avail.MonthlyCalendar(ctx, villa, 2030, time.July)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, cal.Days[29].Status)
}

func TestMonthlyCalendar_SkipsCacheWhenLedgerChangesDuringRead(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	const key = "calendar:accommodation:villa-1:2030-07"

	// a block commits after the periods were read but before the result is cached
	versionReads := 0
	e.cache.onGet = func(k string) {
		if !strings.HasPrefix(k, "calendar-version:") {
			return
		}
		if versionReads++; versionReads == 2 {
			e.cache.onGet = nil
			_, err := e.avail.BlockDates(ctx, villa, day("2030-07-10"), day("2030-07-11"), "late write", host)
			require.NoError(t, err)
		}
	}

	cal, err := e.avail.MonthlyCalendar(ctx, villa, 2030, time.July)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, cal.Days[9].Status, "read before the block")
	assert.False(t, e.cache.has(key), "a read that raced a write is not cached")

	cal, err = e.avail.MonthlyCalendar(ctx, villa, 2030, time.July)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, cal.Days[9].Status)
	assert.True(t, e.cache.has(key))
}

func TestMonthlyCalendar_ReportsCapacity(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	date := day("2030-09-03")

	_, err := e.avail.SetCapacity(ctx, villa, date, date, 3, host)
	require.NoError(t, err)
	_, err = e.avail.IncrementBookings(ctx, villa, date, host)
	require.NoError(t, err)

	cal, err := e.avail.MonthlyCalendar(ctx, villa, 2030, time.September)
	require.NoError(t, err)
	d := cal.Days[2]
	require.NotNil(t, d.Capacity)
	assert.Equal(t, 3, *d.Capacity)
	assert.Equal(t, 2, *d.Remaining)
}

func TestMonthlyCalendar_RejectsBadMonth(t *testing.T) {
	e := newEngine(t)
	_, err := e.avail.MonthlyCalendar(context.Background(), villa, 2030, 13)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
