// Package memory is a map-backed Store with serializable transactions.
// Each transaction runs against a private copy of the data that replaces the
// shared maps on commit and is dropped on error.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"acomody/internal/domain"
)

type state struct {
	// nil inside a transaction: the copy is private to one goroutine.
	mu *sync.RWMutex
	tx *sync.Mutex

	items       map[string]domain.PriceableItem
	periods     map[string]domain.PricingPeriod
	fees        map[string]domain.Fee
	rates       map[string]domain.TaxRate
	entityTaxes map[string]domain.EntityTax
	avail       map[string]domain.AvailabilityPeriod
	bookings    map[string]domain.Booking
	history     map[string]domain.HistoryEntry
	listings    map[domain.EntityRef]domain.Listing
}

type Store struct {
	txMu sync.Mutex
	*state
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.state = &state{
		mu:          &sync.RWMutex{},
		tx:          &s.txMu,
		items:       map[string]domain.PriceableItem{},
		periods:     map[string]domain.PricingPeriod{},
		fees:        map[string]domain.Fee{},
		rates:       map[string]domain.TaxRate{},
		entityTaxes: map[string]domain.EntityTax{},
		avail:       map[string]domain.AvailabilityPeriod{},
		bookings:    map[string]domain.Booking{},
		history:     map[string]domain.HistoryEntry{},
		listings:    map[domain.EntityRef]domain.Listing{},
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.Persistence("commit", err)
	}

	s.mu.Lock()
	s.items, s.periods, s.fees, s.rates = work.items, work.periods, work.fees, work.rates
	s.entityTaxes, s.avail, s.bookings = work.entityTaxes, work.avail, work.bookings
	s.history, s.listings = work.history, work.listings
	s.mu.Unlock()
	return nil
}

// PutListing registers listing metadata.
func (s *Store) PutListing(l domain.Listing) {
	s.write(func() { s.listings[l.Ref] = l })
}

func (s *Store) UpsertListing(_ context.Context, l domain.Listing) error {
	s.PutListing(l)
	return nil
}

func (st *state) clone() *state {
	return &state{
		items:       maps.Clone(st.items),
		periods:     maps.Clone(st.periods),
		fees:        maps.Clone(st.fees),
		rates:       maps.Clone(st.rates),
		entityTaxes: maps.Clone(st.entityTaxes),
		avail:       maps.Clone(st.avail),
		bookings:    maps.Clone(st.bookings),
		history:     maps.Clone(st.history),
		listings:    maps.Clone(st.listings),
	}
}

func (st *state) read(fn func()) {
	if st.mu != nil {
		st.mu.RLock()
		defer st.mu.RUnlock()
	}
	fn()
}

// write outside a transaction still waits for running transactions so their
// commit cannot overwrite it.
func (st *state) write(fn func()) {
	if st.tx != nil {
		st.tx.Lock()
		defer st.tx.Unlock()
	}
	if st.mu != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
	}
	fn()
}

// LockEntity is a no-op: transactions are already serialized.
func (st *state) LockEntity(context.Context, domain.EntityRef) error { return nil }

func notFound(op, what, id string) error {
	return domain.NotFoundf(op, "%s %s not found", what, id)
}

// ---- catalog ----

func (st *state) GetActivePriceableItem(_ context.Context, ref domain.EntityRef) (out domain.PriceableItem, err error) {
	err = notFound("get active priceable item", "priceable item for", ref.String())
	st.read(func() {
		for _, it := range st.items {
			if it.Entity == ref && it.IsActive {
				out, err = it, nil
				return
			}
		}
	})
	return out, err
}

func (st *state) GetPriceableItem(_ context.Context, id string) (out domain.PriceableItem, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.items[id]; !ok {
			err = notFound("get priceable item", "priceable item", id)
		}
	})
	return out, err
}

func (st *state) SavePriceableItem(_ context.Context, it domain.PriceableItem) error {
	st.write(func() { st.items[it.ID] = it })
	return nil
}

func (st *state) DeletePriceableItem(_ context.Context, id string) error {
	st.write(func() { delete(st.items, id) })
	return nil
}

func (st *state) ListPricingPeriods(_ context.Context, ref domain.EntityRef) (out []domain.PricingPeriod, _ error) {
	st.read(func() {
		for _, p := range st.periods {
			if p.Entity == ref {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.PricingPeriod) int {
		if a.Outranks(b) {
			return -1
		}
		return 1
	})
	return out, nil
}

func (st *state) GetPricingPeriod(_ context.Context, id string) (out domain.PricingPeriod, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.periods[id]; !ok {
			err = notFound("get pricing period", "pricing period", id)
		}
	})
	return out, err
}

func (st *state) SavePricingPeriod(_ context.Context, p domain.PricingPeriod) error {
	st.write(func() { st.periods[p.ID] = p })
	return nil
}

func (st *state) DeletePricingPeriod(_ context.Context, id string) error {
	st.write(func() { delete(st.periods, id) })
	return nil
}

func (st *state) ListFees(_ context.Context, ref domain.EntityRef) (out []domain.Fee, _ error) {
	st.read(func() {
		for _, f := range st.fees {
			if f.Entity == ref && f.DeletedAt == nil {
				out = append(out, f)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.Fee) int {
		if a.Before(b) {
			return -1
		}
		return 1
	})
	return out, nil
}

func (st *state) GetFee(_ context.Context, id string) (out domain.Fee, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.fees[id]; !ok {
			err = notFound("get fee", "fee", id)
		}
	})
	return out, err
}

func (st *state) SaveFee(_ context.Context, f domain.Fee) error {
	st.write(func() { st.fees[f.ID] = f })
	return nil
}

func (st *state) DeleteFee(_ context.Context, id string) error {
	st.write(func() { delete(st.fees, id) })
	return nil
}

func (st *state) ListTaxRates(_ context.Context, f domain.TaxRateFilter) (out []domain.TaxRate, _ error) {
	st.read(func() {
		for _, r := range st.rates {
			if f.Active && !r.IsActive {
				continue
			}
			if f.Country != "" && !r.Matches(f.Country, f.Region, f.City) {
				continue
			}
			out = append(out, r)
		}
	})
	slices.SortFunc(out, func(a, b domain.TaxRate) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (st *state) GetTaxRate(_ context.Context, id string) (out domain.TaxRate, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.rates[id]; !ok {
			err = notFound("get tax rate", "tax rate", id)
		}
	})
	return out, err
}

func (st *state) SaveTaxRate(_ context.Context, r domain.TaxRate) error {
	st.write(func() { st.rates[r.ID] = r })
	return nil
}

func (st *state) ListEntityTaxes(_ context.Context, ref domain.EntityRef) (out []domain.AssignedTax, _ error) {
	st.read(func() {
		for _, et := range st.entityTaxes {
			if et.Entity != ref {
				continue
			}
			r, ok := st.rates[et.TaxRateID]
			if !ok {
				continue
			}
			out = append(out, domain.AssignedTax{EntityTax: et, Rate: r})
		}
	})
	slices.SortFunc(out, func(a, b domain.AssignedTax) int {
		if a.Rate.Priority != b.Rate.Priority {
			return b.Rate.Priority - a.Rate.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (st *state) GetEntityTax(_ context.Context, id string) (out domain.EntityTax, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.entityTaxes[id]; !ok {
			err = notFound("get entity tax", "entity tax", id)
		}
	})
	return out, err
}

func (st *state) SaveEntityTax(_ context.Context, t domain.EntityTax) (err error) {
	st.write(func() {
		for id, other := range st.entityTaxes {
			if id != t.ID && other.Entity == t.Entity && other.TaxRateID == t.TaxRateID {
				err = domain.Conflictf("save entity tax", "tax rate %s already assigned to %s", t.TaxRateID, t.Entity)
				return
			}
		}
		st.entityTaxes[t.ID] = t
	})
	return err
}

func (st *state) DeleteEntityTax(_ context.Context, id string) error {
	st.write(func() { delete(st.entityTaxes, id) })
	return nil
}

// ---- availability ----

func (st *state) ListPeriods(_ context.Context, ref domain.EntityRef, start, end time.Time) (out []domain.AvailabilityPeriod, _ error) {
	st.read(func() {
		for _, p := range st.avail {
			if p.Entity == ref && p.Intersects(start, end) {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.AvailabilityPeriod) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (st *state) GetPeriod(_ context.Context, id string) (out domain.AvailabilityPeriod, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.avail[id]; !ok {
			err = notFound("get availability period", "availability period", id)
		}
	})
	return out, err
}

func (st *state) InsertPeriod(_ context.Context, p domain.AvailabilityPeriod) (err error) {
	st.write(func() {
		if _, ok := st.avail[p.ID]; ok {
			err = domain.Persistence("insert availability period", errDuplicate(p.ID))
			return
		}
		st.avail[p.ID] = p
	})
	return err
}

func (st *state) UpdatePeriod(_ context.Context, p domain.AvailabilityPeriod) (err error) {
	st.write(func() {
		if _, ok := st.avail[p.ID]; !ok {
			err = notFound("update availability period", "availability period", p.ID)
			return
		}
		st.avail[p.ID] = p
	})
	return err
}

func (st *state) DeletePeriods(_ context.Context, ids ...string) error {
	st.write(func() {
		for _, id := range ids {
			delete(st.avail, id)
		}
	})
	return nil
}

// ---- bookings ----

func (st *state) CreateBooking(_ context.Context, b domain.Booking) (err error) {
	st.write(func() {
		if _, ok := st.bookings[b.ID]; ok {
			err = domain.Persistence("create booking", errDuplicate(b.ID))
			return
		}
		st.bookings[b.ID] = b
	})
	return err
}

func (st *state) GetBooking(_ context.Context, id string) (out domain.Booking, err error) {
	st.read(func() {
		var ok bool
		out, ok = st.bookings[id]
		if !ok || out.DeletedAt != nil {
			err = notFound("get booking", "booking", id)
		}
	})
	return out, err
}

func (st *state) GetBookingForUpdate(ctx context.Context, id string) (domain.Booking, error) {
	return st.GetBooking(ctx, id)
}

func (st *state) UpdateBooking(_ context.Context, b domain.Booking) (err error) {
	st.write(func() {
		if _, ok := st.bookings[b.ID]; !ok {
			err = notFound("update booking", "booking", b.ID)
			return
		}
		st.bookings[b.ID] = b
	})
	return err
}

func (st *state) ListBookings(_ context.Context, f domain.BookingFilter) (out []domain.Booking, _ error) {
	st.read(func() {
		for _, b := range st.bookings {
			if b.DeletedAt != nil {
				continue
			}
			if f.Entity != nil && b.Entity != *f.Entity {
				continue
			}
			if f.GuestID != "" && b.GuestID != f.GuestID {
				continue
			}
			if f.HostID != "" && b.HostID != f.HostID {
				continue
			}
			if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
				continue
			}
			if f.CheckOutBefore != nil && !b.CheckOut.Before(*f.CheckOutBefore) {
				continue
			}
			out = append(out, b)
		}
	})
	slices.SortFunc(out, func(a, b domain.Booking) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ---- history ----

func (st *state) AppendHistory(_ context.Context, e domain.HistoryEntry) error {
	st.write(func() { st.history[e.ID] = e })
	return nil
}

func (st *state) GetHistory(_ context.Context, id string) (out domain.HistoryEntry, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.history[id]; !ok {
			err = notFound("get history", "history entry", id)
		}
	})
	return out, err
}

func (st *state) GetHistoryForUpdate(ctx context.Context, id string) (domain.HistoryEntry, error) {
	return st.GetHistory(ctx, id)
}

func (st *state) ListHistory(_ context.Context, ref domain.EntityRef, f domain.HistoryFilter) (out []domain.HistoryEntry, _ error) {
	st.read(func() {
		for _, e := range st.history {
			if e.Entity != ref {
				continue
			}
			if f.RecordType != "" && e.RecordType != f.RecordType {
				continue
			}
			if f.RecordID != "" && e.RecordID != f.RecordID {
				continue
			}
			out = append(out, e)
		}
	})
	// newest first
	slices.SortFunc(out, func(a, b domain.HistoryEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (st *state) MarkRolledBack(_ context.Context, id string, at time.Time, by string) (err error) {
	st.write(func() {
		e, ok := st.history[id]
		if !ok {
			err = notFound("mark rolled back", "history entry", id)
			return
		}
		e.RolledBackAt, e.RolledBackBy = &at, by
		st.history[id] = e
	})
	return err
}

// ---- listings ----

func (st *state) GetListing(_ context.Context, ref domain.EntityRef) (out domain.Listing, err error) {
	st.read(func() {
		var ok bool
		if out, ok = st.listings[ref]; !ok {
			err = notFound("get listing", "listing", ref.String())
		}
	})
	return out, err
}
