package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"acomody/internal/app"
	"acomody/internal/domain"
	"acomody/internal/storage/memory"
)

var (
	villa = domain.EntityRef{Kind: domain.KindAccommodation, ID: "villa-1"}
	host  = domain.Actor{UserID: "host-1", IP: "10.0.0.1"}
	guest = domain.Actor{UserID: "guest-1", IP: "10.0.0.2"}
)

// 2030-01-10 is a Thursday.
var today = time.Date(2030, 1, 10, 9, 30, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ---- fakes ----

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentNotice struct {
	event  domain.BookingEvent
	notice domain.BookingNotice
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, event domain.BookingEvent, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	notice, _ := payload.(domain.BookingNotice)
	n.sent = append(n.sent, sentNotice{event: event, notice: notice})
	return n.err
}

func (n *recordingNotifier) events() []domain.BookingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.BookingEvent, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.event
	}
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	store   map[string][]byte
	hits    int // calendar hits only
	deleted []string
	onGet   func(key string)
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	hook := c.onGet
	c.mu.Unlock()
	if hook != nil {
		hook(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if strings.HasPrefix(key, "calendar:") {
		c.hits++
	}
	return true, json.Unmarshal(v, dst)
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.store[key]
	return ok
}

type fixedFX struct {
	rate decimal.Decimal
	err  error
}

func (f fixedFX) Convert(_ context.Context, amount decimal.Decimal, _, _ string, _ time.Time) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.Mul(f.rate), nil
}

var errFXDown = errors.New("fx down")

// ---- wiring ----

type engine struct {
	store    *memory.Store
	clock    *testClock
	cache    *fakeCache
	notifier *recordingNotifier
	avail    *app.AvailabilityService
	pricing  *app.PricingService
	catalog  *app.CatalogService
	history  *app.HistoryService
	bookings *app.BookingService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{
		store:    memory.New(),
		clock:    &testClock{t: today},
		cache:    &fakeCache{},
		notifier: &recordingNotifier{},
	}
	fx := fixedFX{rate: dec("0.5")}
	e.avail = app.NewAvailabilityService(e.store, e.cache, time.Minute).WithClock(e.clock.Now)
	e.pricing = app.NewPricingService(e.store, fx).WithClock(e.clock.Now)
	e.catalog = app.NewCatalogService(e.store, fx).WithClock(e.clock.Now)
	e.history = app.NewHistoryService(e.store, e.avail).WithClock(e.clock.Now)
	e.bookings = app.NewBookingService(e.store, e.avail, e.pricing, e.notifier).WithClock(e.clock.Now)
	t.Cleanup(e.bookings.Wait)
	return e
}

func (e *engine) listing(t *testing.T, mod func(*domain.Listing)) domain.Listing {
	t.Helper()
	l := domain.Listing{
		Ref: villa, HostID: host.UserID, MaxGuests: 4,
		BookingType: domain.BookingOnRequest, CancellationPolicy: domain.PolicyFlexible,
		Country: "PT", Region: "Lisboa", City: "Lisbon",
	}
	if mod != nil {
		mod(&l)
	}
	e.store.PutListing(l)
	return l
}

// nightly seeds a 100 EUR/night item for villa.
func (e *engine) nightly(t *testing.T, mod func(*domain.PriceableItem)) domain.PriceableItem {
	t.Helper()
	it := domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: dec("100"),
		Currency: "EUR", IsActive: true,
	}
	if mod != nil {
		mod(&it)
	}
	saved, err := e.catalog.SavePriceableItem(context.Background(), it, host)
	require.NoError(t, err)
	return saved
}

func (e *engine) fee(t *testing.T, f domain.Fee) domain.Fee {
	t.Helper()
	if f.Entity.ID == "" {
		f.Entity = villa
	}
	f.Currency, f.IsActive = "EUR", true
	saved, err := e.catalog.SaveFee(context.Background(), f, host)
	require.NoError(t, err)
	return saved
}

func (e *engine) tax(t *testing.T, r domain.TaxRate, mod func(*domain.EntityTax)) domain.EntityTax {
	t.Helper()
	r.IsActive = true
	if r.EffectiveFrom.IsZero() {
		r.EffectiveFrom = day("2020-01-01")
	}
	rate, err := e.catalog.SaveTaxRate(context.Background(), r)
	require.NoError(t, err)
	et := domain.EntityTax{Entity: villa, TaxRateID: rate.ID, IsActive: true}
	if mod != nil {
		mod(&et)
	}
	saved, err := e.catalog.AssignTax(context.Background(), et, host)
	require.NoError(t, err)
	return saved
}

func vat(pct string) domain.TaxRate {
	return domain.TaxRate{
		Name: "VAT", Country: "PT", TaxType: domain.TaxVAT, RateType: domain.RatePercentage,
		Rate: dec(pct), Basis: domain.TaxOnSubtotalAndFees,
	}
}

func request(checkIn, checkOut string, guests int) domain.BookingRequest {
	return domain.BookingRequest{
		Entity: villa, GuestID: guest.UserID,
		CheckIn: day(checkIn), CheckOut: day(checkOut), Guests: guests,
	}
}

func intp(n int) *int { return &n }
