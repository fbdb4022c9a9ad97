package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"acomody/internal/adapters/observability"
	"acomody/internal/domain"
)

// AvailabilityService owns the per-entity interval ledger. Every write first
// deletes the periods intersecting the target range, then inserts one period,
// under the entity lock.
type AvailabilityService struct {
	store    domain.Store
	cache    domain.Cache
	cacheTTL time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewAvailabilityService(store domain.Store, cache domain.Cache, ttl time.Duration) *AvailabilityService {
	return &AvailabilityService{
		store:    store,
		cache:    cache,
		cacheTTL: ttl,
		now:      utcNow,
		log:      log.With().Str("component", "availability").Logger(),
	}
}

func (s *AvailabilityService) WithClock(now func() time.Time) *AvailabilityService {
	s.now = now
	return s
}

// utcNow is truncated to the precision MySQL DATETIME(6) keeps.
func utcNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func (s *AvailabilityService) CheckAvailability(ctx context.Context, ref domain.EntityRef, start, end time.Time) (domain.AvailabilityResult, error) {
	if err := domain.ValidateRange("check availability", start, end); err != nil {
		return domain.AvailabilityResult{}, err
	}
	return checkAvailability(ctx, s.store, ref, start, end)
}

// checkAvailability reports every non-available period intersecting [start,end].
func checkAvailability(ctx context.Context, repo domain.AvailabilityRepository, ref domain.EntityRef, start, end time.Time) (domain.AvailabilityResult, error) {
	periods, err := repo.ListPeriods(ctx, ref, domain.DateOf(start), domain.DateOf(end))
	if err != nil {
		return domain.AvailabilityResult{}, domain.Persistence("check availability", err)
	}
	res := domain.AvailabilityResult{Available: true, BlockingPeriods: []domain.AvailabilityPeriod{}, Reasons: []string{}}
	for _, p := range periods {
		if !p.Blocks() {
			continue
		}
		res.Available = false
		res.BlockingPeriods = append(res.BlockingPeriods, p)
		reason := fmt.Sprintf("%s from %s to %s", p.Status, p.StartDate.Format(domain.DateLayout), p.EndDate.Format(domain.DateLayout))
		if p.Reason != "" {
			reason += ": " + p.Reason
		}
		res.Reasons = append(res.Reasons, reason)
	}
	return res, nil
}

type mutation struct {
	ref         domain.EntityRef
	start, end  time.Time
	status      domain.AvailabilityStatus
	reason      string
	bookingID   string
	maxCapacity *int
	change      domain.ChangeType
	actor       domain.Actor
	source      domain.Source
}

func (s *AvailabilityService) BlockDates(ctx context.Context, ref domain.EntityRef, start, end time.Time, reason string, actor domain.Actor) (domain.AvailabilityPeriod, error) {
	return s.mutate(ctx, mutation{ref: ref, start: start, end: end, status: domain.StatusBlocked,
		reason: reason, change: domain.ChangeBlocked, actor: actor, source: domain.SourceAPI})
}

func (s *AvailabilityService) MarkAsBooked(ctx context.Context, ref domain.EntityRef, start, end time.Time, reason string, actor domain.Actor) (domain.AvailabilityPeriod, error) {
	return s.mutate(ctx, mutation{ref: ref, start: start, end: end, status: domain.StatusBooked,
		reason: reason, change: domain.ChangeBooked, actor: actor, source: domain.SourceAPI})
}

func (s *AvailabilityService) MarkAsAvailable(ctx context.Context, ref domain.EntityRef, start, end time.Time, reason string, actor domain.Actor) (domain.AvailabilityPeriod, error) {
	return s.mutate(ctx, mutation{ref: ref, start: start, end: end, status: domain.StatusAvailable,
		reason: reason, change: domain.ChangeReleased, actor: actor, source: domain.SourceAPI})
}

func (s *AvailabilityService) mutate(ctx context.Context, m mutation) (domain.AvailabilityPeriod, error) {
	if err := domain.ValidateRange("mutate availability", m.start, m.end); err != nil {
		return domain.AvailabilityPeriod{}, err
	}
	var p domain.AvailabilityPeriod
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, m.ref); err != nil {
			return err
		}
		var err error
		p, err = s.replaceRange(ctx, tx, m)
		return err
	})
	if err != nil {
		return domain.AvailabilityPeriod{}, domain.Persistence("mutate availability", err)
	}
	s.invalidate(ctx, m.ref, m.start, m.end)
	return p, nil
}

// replaceRange must run inside a transaction holding the entity lock.
func (s *AvailabilityService) replaceRange(ctx context.Context, tx domain.Repos, m mutation) (domain.AvailabilityPeriod, error) {
	start, end := domain.DateOf(m.start), domain.DateOf(m.end)
	existing, err := tx.ListPeriods(ctx, m.ref, start, end)
	if err != nil {
		return domain.AvailabilityPeriod{}, err
	}
	if m.source != domain.SourceBooking {
		if err := guardBookings("mutate availability", existing); err != nil {
			return domain.AvailabilityPeriod{}, err
		}
	}
	if len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, p := range existing {
			ids[i] = p.ID
		}
		if err := tx.DeletePeriods(ctx, ids...); err != nil {
			return domain.AvailabilityPeriod{}, err
		}
	}

	now := s.now()
	p := domain.AvailabilityPeriod{
		ID:          domain.NewID(),
		Entity:      m.ref,
		StartDate:   start,
		EndDate:     end,
		Status:      m.status,
		Reason:      m.reason,
		MaxCapacity: m.maxCapacity,
		BookingID:   m.bookingID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertPeriod(ctx, p); err != nil {
		return domain.AvailabilityPeriod{}, err
	}

	var old any
	if len(existing) > 0 {
		old = domain.AvailabilityChange{Periods: existing}
	}
	if err := appendHistory(ctx, tx, now, historyRecord{
		ref: m.ref, recordType: domain.RecordAvailability, recordID: p.ID, change: m.change,
		old: old, new: domain.AvailabilityChange{Periods: []domain.AvailabilityPeriod{p}},
		actor: m.actor, source: m.source, canRollback: m.source != domain.SourceBooking,
	}); err != nil {
		return domain.AvailabilityPeriod{}, err
	}
	observability.ObserveAvailability(string(m.change))
	return p, nil
}

// guardBookings refuses to supersede periods that hold live bookings: a booked
// period tied to a booking, or a capacity row with counted bookings. Only the
// booking lifecycle may replace or release those.
func guardBookings(op string, periods []domain.AvailabilityPeriod) error {
	for _, p := range periods {
		switch {
		case p.Status == domain.StatusBooked && p.BookingID != "":
			return domain.Conflictf(op, "%s to %s is held by booking %s",
				p.StartDate.Format(domain.DateLayout), p.EndDate.Format(domain.DateLayout), p.BookingID)
		case isCapacityRow(p) && p.CurrentBookings > 0:
			return domain.Conflictf(op, "%s has %d counted bookings",
				p.StartDate.Format(domain.DateLayout), p.CurrentBookings)
		}
	}
	return nil
}

// UnblockDates removes blocked periods intersecting the range. Booked and
// closed periods are left alone.
func (s *AvailabilityService) UnblockDates(ctx context.Context, ref domain.EntityRef, start, end time.Time, actor domain.Actor) ([]domain.AvailabilityPeriod, error) {
	if err := domain.ValidateRange("unblock dates", start, end); err != nil {
		return nil, err
	}
	var removed []domain.AvailabilityPeriod
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, ref); err != nil {
			return err
		}
		periods, err := tx.ListPeriods(ctx, ref, domain.DateOf(start), domain.DateOf(end))
		if err != nil {
			return err
		}
		ids := []string{}
		for _, p := range periods {
			if p.Status == domain.StatusBlocked {
				removed = append(removed, p)
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.DeletePeriods(ctx, ids...); err != nil {
			return err
		}
		observability.ObserveAvailability(string(domain.ChangeUnblocked))
		return appendHistory(ctx, tx, s.now(), historyRecord{
			ref: ref, recordType: domain.RecordAvailability, recordID: ids[0], change: domain.ChangeUnblocked,
			old: domain.AvailabilityChange{Periods: removed}, actor: actor, source: domain.SourceAPI, canRollback: true,
		})
	})
	if err != nil {
		return nil, domain.Persistence("unblock dates", err)
	}
	if len(removed) > 0 {
		s.invalidate(ctx, ref, start, end)
	}
	return removed, nil
}

// releaseBooking deletes the period a booking occupies. A period already gone is not an error.
func (s *AvailabilityService) releaseBooking(ctx context.Context, tx domain.Repos, b domain.Booking, actor domain.Actor) error {
	if b.AvailabilityPeriodID == "" {
		return nil
	}
	p, err := tx.GetPeriod(ctx, b.AvailabilityPeriodID)
	if err != nil {
		if isNotFound(err) {
			s.log.Warn().Str("booking_id", b.ID).Str("period_id", b.AvailabilityPeriodID).Msg("booked period already removed")
			return nil
		}
		return err
	}
	if err := tx.DeletePeriods(ctx, p.ID); err != nil {
		return err
	}
	observability.ObserveAvailability(string(domain.ChangeReleased))
	return appendHistory(ctx, tx, s.now(), historyRecord{
		ref: b.Entity, recordType: domain.RecordAvailability, recordID: p.ID, change: domain.ChangeReleased,
		old: domain.AvailabilityChange{Periods: []domain.AvailabilityPeriod{p}}, actor: actor, source: domain.SourceBooking,
	})
}

// SetCapacity puts a per-day capacity row on every date of the range. Existing
// capacity rows keep their counters.
func (s *AvailabilityService) SetCapacity(ctx context.Context, ref domain.EntityRef, start, end time.Time, maxCapacity int, actor domain.Actor) ([]domain.AvailabilityPeriod, error) {
	if err := domain.ValidateRange("set capacity", start, end); err != nil {
		return nil, err
	}
	if maxCapacity < 1 {
		return nil, domain.Validationf("set capacity", "max capacity must be at least 1")
	}
	if domain.DaysBetween(start, end) > 366 {
		return nil, domain.Validationf("set capacity", "range longer than a year")
	}
	var rows []domain.AvailabilityPeriod
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, ref); err != nil {
			return err
		}
		now := s.now()
		var old []domain.AvailabilityPeriod
		for day := domain.DateOf(start); !day.After(domain.DateOf(end)); day = day.AddDate(0, 0, 1) {
			existing, err := tx.ListPeriods(ctx, ref, day, day)
			if err != nil {
				return err
			}
			if len(existing) == 1 && isCapacityRow(existing[0]) {
				p := existing[0]
				old = append(old, p)
				p.MaxCapacity = intPtr(maxCapacity)
				p.Status = capacityStatus(p)
				p.UpdatedAt = now
				if err := tx.UpdatePeriod(ctx, p); err != nil {
					return err
				}
				rows = append(rows, p)
				continue
			}
			if err := guardBookings("set capacity", existing); err != nil {
				return err
			}
			ids := make([]string, 0, len(existing))
			for _, p := range existing {
				ids = append(ids, p.ID)
				old = append(old, p)
			}
			if len(ids) > 0 {
				if err := tx.DeletePeriods(ctx, ids...); err != nil {
					return err
				}
			}
			p := domain.AvailabilityPeriod{
				ID: domain.NewID(), Entity: ref, StartDate: day, EndDate: day,
				Status: domain.StatusAvailable, MaxCapacity: intPtr(maxCapacity),
				CreatedAt: now, UpdatedAt: now,
			}
			if err := tx.InsertPeriod(ctx, p); err != nil {
				return err
			}
			rows = append(rows, p)
		}
		var oldV any
		if len(old) > 0 {
			oldV = domain.AvailabilityChange{Periods: old}
		}
		observability.ObserveAvailability(string(domain.ChangeCapacity))
		return appendHistory(ctx, tx, now, historyRecord{
			ref: ref, recordType: domain.RecordAvailability, recordID: rows[0].ID, change: domain.ChangeCapacity,
			old: oldV, new: domain.AvailabilityChange{Periods: rows}, actor: actor, source: domain.SourceAPI, canRollback: true,
		})
	})
	if err != nil {
		return nil, domain.Persistence("set capacity", err)
	}
	s.invalidate(ctx, ref, start, end)
	return rows, nil
}

func (s *AvailabilityService) HasCapacity(ctx context.Context, ref domain.EntityRef, date time.Time) (bool, error) {
	p, ok, err := capacityRow(ctx, s.store, ref, date)
	if err != nil {
		return false, domain.Persistence("has capacity", err)
	}
	return !ok || p.HasCapacity(), nil
}

// IncrementBookings takes one unit of capacity on date. It reports false,
// without writing, when the date is full.
func (s *AvailabilityService) IncrementBookings(ctx context.Context, ref domain.EntityRef, date time.Time, actor domain.Actor) (bool, error) {
	return s.adjustCapacity(ctx, ref, date, +1, actor)
}

// DecrementBookings returns one unit of capacity. It reports false when no
// booking is counted on date.
func (s *AvailabilityService) DecrementBookings(ctx context.Context, ref domain.EntityRef, date time.Time, actor domain.Actor) (bool, error) {
	return s.adjustCapacity(ctx, ref, date, -1, actor)
}

func (s *AvailabilityService) adjustCapacity(ctx context.Context, ref domain.EntityRef, date time.Time, delta int, actor domain.Actor) (bool, error) {
	var ok bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, ref); err != nil {
			return err
		}
		var err error
		ok, err = s.adjustCapacityTx(ctx, tx, ref, date, delta, actor, domain.SourceAPI)
		return err
	})
	if err != nil {
		return false, domain.Persistence("adjust capacity", err)
	}
	if ok {
		s.invalidate(ctx, ref, date, date)
	}
	return ok, nil
}

func (s *AvailabilityService) adjustCapacityTx(ctx context.Context, tx domain.Repos, ref domain.EntityRef, date time.Time, delta int, actor domain.Actor, src domain.Source) (bool, error) {
	p, found, err := capacityRow(ctx, tx, ref, date)
	if err != nil || !found {
		// dates without a capacity row are unlimited
		return err == nil, err
	}
	switch {
	case delta > 0 && !p.HasCapacity():
		return false, nil
	case delta < 0 && p.CurrentBookings == 0:
		return false, nil
	}
	before := p
	p.CurrentBookings += delta
	p.Status = capacityStatus(p)
	p.UpdatedAt = s.now()
	if err := tx.UpdatePeriod(ctx, p); err != nil {
		return false, err
	}
	observability.ObserveAvailability(string(domain.ChangeCapacity))
	return true, appendHistory(ctx, tx, p.UpdatedAt, historyRecord{
		ref: ref, recordType: domain.RecordAvailability, recordID: p.ID, change: domain.ChangeCapacity,
		old:   domain.AvailabilityChange{Periods: []domain.AvailabilityPeriod{before}},
		new:   domain.AvailabilityChange{Periods: []domain.AvailabilityPeriod{p}},
		actor: actor, source: src,
	})
}

func capacityRow(ctx context.Context, repo domain.AvailabilityRepository, ref domain.EntityRef, date time.Time) (domain.AvailabilityPeriod, bool, error) {
	day := domain.DateOf(date)
	periods, err := repo.ListPeriods(ctx, ref, day, day)
	if err != nil {
		return domain.AvailabilityPeriod{}, false, err
	}
	for _, p := range periods {
		if isCapacityRow(p) {
			return p, true, nil
		}
	}
	return domain.AvailabilityPeriod{}, false, nil
}

func isCapacityRow(p domain.AvailabilityPeriod) bool {
	return p.MaxCapacity != nil && (p.Status == domain.StatusAvailable || p.Status == domain.StatusSoldOut)
}

func capacityStatus(p domain.AvailabilityPeriod) domain.AvailabilityStatus {
	if p.MaxCapacity != nil && p.CurrentBookings >= *p.MaxCapacity {
		return domain.StatusSoldOut
	}
	return domain.StatusAvailable
}

func intPtr(n int) *int { return &n }

// MonthlyCalendar resolves one status per day of the month. Days default to
// available; the first period covering a day wins.
func (s *AvailabilityService) MonthlyCalendar(ctx context.Context, ref domain.EntityRef, year int, month time.Month) (domain.MonthlyCalendar, error) {
	if month < time.January || month > time.December {
		return domain.MonthlyCalendar{}, domain.Validationf("monthly calendar", "month %d out of range", month)
	}
	key := calendarKey(ref, year, month)
	var (
		cal     domain.MonthlyCalendar
		version string
		cacheOK = s.cache != nil
	)
	if cacheOK {
		if ok, _ := s.cache.Get(ctx, key, &cal); ok {
			return cal, nil
		}
		if _, err := s.cache.Get(ctx, versionKey(ref), &version); err != nil {
			cacheOK = false
		}
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	periods, err := s.store.ListPeriods(ctx, ref, first, last)
	if err != nil {
		return domain.MonthlyCalendar{}, domain.Persistence("monthly calendar", err)
	}

	cal = domain.MonthlyCalendar{Entity: ref, Year: year, Month: month, Days: make([]domain.CalendarDay, 0, last.Day())}
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		day := domain.CalendarDay{Date: d.Format(domain.DateLayout), Status: domain.StatusAvailable}
		for _, p := range periods {
			if !p.Covers(d) {
				continue
			}
			day.Status, day.Reason, day.PeriodID = p.Status, p.Reason, p.ID
			if p.MaxCapacity != nil {
				day.Capacity = intPtr(*p.MaxCapacity)
				day.Remaining = intPtr(max(*p.MaxCapacity-p.CurrentBookings, 0))
			}
			break
		}
		cal.Days = append(cal.Days, day)
	}

	if cacheOK && s.versionUnchanged(ctx, ref, version) {
		_ = s.cache.Set(ctx, key, cal, int(s.cacheTTL.Seconds()))
	}
	return cal, nil
}

// versionUnchanged reports whether no ledger write was invalidated since the
// version was read. A calendar read across such a write must not be cached.
func (s *AvailabilityService) versionUnchanged(ctx context.Context, ref domain.EntityRef, before string) bool {
	var now string
	if _, err := s.cache.Get(ctx, versionKey(ref), &now); err != nil {
		return false
	}
	if now != before {
		s.log.Debug().Str("entity", ref.String()).Msg("ledger changed during calendar read; not caching")
		return false
	}
	return true
}

func versionKey(ref domain.EntityRef) string {
	return fmt.Sprintf("calendar-version:%s:%s", ref.Kind, ref.ID)
}

func calendarKey(ref domain.EntityRef, year int, month time.Month) string {
	return fmt.Sprintf("calendar:%s:%s:%04d-%02d", ref.Kind, ref.ID, year, int(month))
}

// invalidate evicts every cached month touched by [start,end]. Call after commit.
func (s *AvailabilityService) invalidate(ctx context.Context, ref domain.EntityRef, start, end time.Time) {
	if s.cache == nil {
		return
	}
	// bump the version before evicting so readers that started earlier skip their Set
	if err := s.cache.Set(ctx, versionKey(ref), domain.NewID(), int(s.cacheTTL.Seconds())); err != nil {
		s.log.Warn().Err(err).Str("entity", ref.String()).Msg("calendar version bump failed")
	}
	start, end = domain.DateOf(start), domain.DateOf(end)
	for m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		if err := s.cache.Del(ctx, calendarKey(ref, m.Year(), m.Month())); err != nil {
			s.log.Warn().Err(err).Str("entity", ref.String()).Msg("calendar cache eviction failed")
		}
	}
}
