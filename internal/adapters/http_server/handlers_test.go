package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "acomody/internal/adapters/http_server"
	"acomody/internal/app"
	"acomody/internal/domain"
	"acomody/internal/storage/memory"
)

var villa = domain.EntityRef{Kind: domain.KindAccommodation, ID: "villa-1"}

type fixture struct {
	srv      http.Handler
	bookings *app.BookingService
	itemID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := func() time.Time { return time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC) }
	store := memory.New()
	store.PutListing(domain.Listing{
		Ref: villa, HostID: "host-1", MaxGuests: 4, BookingType: domain.BookingOnRequest,
		CancellationPolicy: domain.PolicyFlexible, Country: "PT",
	})

	avail := app.NewAvailabilityService(store, nil, time.Minute).WithClock(now)
	pricing := app.NewPricingService(store, nil).WithClock(now)
	catalog := app.NewCatalogService(store, nil).WithClock(now)
	history := app.NewHistoryService(store, avail).WithClock(now)
	bookings := app.NewBookingService(store, avail, pricing, nil).WithClock(now)
	t.Cleanup(bookings.Wait)

	item, err := catalog.SavePriceableItem(context.Background(), domain.PriceableItem{
		Entity: villa, PricingType: domain.PricingNightly, BasePrice: decimal.NewFromInt(100),
		Currency: "EUR", IsActive: true,
	}, domain.Actor{UserID: "host-1"})
	require.NoError(t, err)

	s := httpserver.New()
	s.MountHandlers(&httpserver.Handlers{
		Availability: avail, Pricing: pricing, Bookings: bookings, History: history,
		Catalog: catalog, Listings: store,
	})
	return &fixture{srv: s.Mux(), bookings: bookings, itemID: item.ID}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type problemBody struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/quote", "",
		map[string]any{"start": "2030-02-04", "end": "2030-02-07", "persons": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b := decodeInto[domain.PriceBreakdown](t, rec)
	assert.True(t, decimal.NewFromInt(300).Equal(b.Total), b.Total.String())
	assert.Equal(t, "300.00 EUR", b.Formatted.Total)
}

func TestQuote_ValidationProblems(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/entities/spaceship/x/quote", "", map[string]any{"start": "2030-02-04", "end": "2030-02-07"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/quote", "", map[string]any{"start": "04/02/2030"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeInto[problemBody](t, rec)
	assert.Contains(t, p.Detail, "end: is required")
	assert.Contains(t, p.Detail, "start: must be a date formatted YYYY-MM-DD")

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/quote", "", map[string]any{"start": "2030-02-04", "end": "2030-02-05", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-2/quote", "", map[string]any{"start": "2030-02-04", "end": "2030-02-05"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "no active priceable item is a configuration error")
	assert.Empty(t, decodeInto[problemBody](t, rec).Detail)
}

func TestBookingFlow(t *testing.T) {
	f := newFixture(t)
	create := map[string]any{
		"entity_kind": "accommodation", "entity_id": "villa-1",
		"check_in": "2030-02-04", "check_out": "2030-02-07", "guests": 2,
	}

	rec := f.do(t, http.MethodPost, "/v1/bookings", "", create)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/bookings", "guest-1", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decodeInto[domain.Booking](t, rec)
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, "guest-1", b.GuestID)
	assert.Equal(t, "/v1/bookings/"+b.ID, rec.Header().Get("Location"))

	rec = f.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/confirm", "guest-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/confirm", "host-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.BookingConfirmed, decodeInto[domain.Booking](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/confirm", "host-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/bookings", "guest-2", create)
	assert.Equal(t, http.StatusConflict, rec.Code, "dates are taken")

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/availability?start=2030-02-05&end=2030-02-05", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeInto[domain.AvailabilityResult](t, rec).Available)

	rec = f.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/cancel", "guest-1", map[string]any{"reason": "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeInto[domain.Booking](t, rec)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.Equal(t, "plans changed", got.CancellationReason)
}

func TestGetBooking_ETagAndVisibility(t *testing.T) {
	f := newFixture(t)
	b, err := f.bookings.Create(context.Background(), domain.BookingRequest{
		Entity: villa, GuestID: "guest-1", CheckIn: time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2030, 3, 3, 0, 0, 0, 0, time.UTC), Guests: 1,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/bookings/"+b.ID, "guest-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/v1/bookings/"+b.ID, nil)
	req.Header.Set("X-User-ID", "host-1")
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/bookings/"+b.ID, "stranger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/bookings?role=host", "host-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeInto[struct {
		Items []domain.Booking `json:"items"`
	}](t, rec)
	assert.Len(t, list.Items, 1)
}

func TestBlockHistoryAndRollback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/availability/block", "host-1",
		map[string]any{"start": "2030-04-01", "end": "2030-04-03", "reason": "maintenance"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeInto[domain.AvailabilityPeriod](t, rec)
	assert.Equal(t, domain.StatusBlocked, p.Status)

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/calendar?year=2030&month=4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cal := decodeInto[domain.MonthlyCalendar](t, rec)
	require.Len(t, cal.Days, 30)
	assert.Equal(t, domain.StatusBlocked, cal.Days[1].Status)

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/calendar?month=13", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/history?record_type=availability", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/history?record_type=availability", "guest-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/history?record_type=availability", "host-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeInto[struct {
		Items []domain.HistoryEntry `json:"items"`
	}](t, rec)
	require.Len(t, hist.Items, 1)

	rec = f.do(t, http.MethodPost, "/v1/history/"+hist.Items[0].ID+"/rollback", "stranger-99", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/availability?start=2030-04-01&end=2030-04-03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeInto[domain.AvailabilityResult](t, rec).Available, "a refused rollback leaves the block in place")

	rec = f.do(t, http.MethodPost, "/v1/history/missing/rollback", "host-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/history/"+hist.Items[0].ID+"/rollback", "host-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/history/"+hist.Items[0].ID+"/rollback", "host-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/entities/accommodation/villa-1/availability?start=2030-04-01&end=2030-04-03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeInto[domain.AvailabilityResult](t, rec).Available)
}

func TestCatalogRoutes_HostOnly(t *testing.T) {
	f := newFixture(t)
	item := map[string]any{"pricing_type": "nightly", "base_price": "150", "currency": "EUR", "is_active": true}

	rec := f.do(t, http.MethodPut, "/v1/entities/accommodation/villa-1/priceable-item", "guest-1", item)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/entities/accommodation/villa-2/priceable-item", "host-1", item)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown listing")

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/availability/block", "guest-1",
		map[string]any{"start": "2030-04-01", "end": "2030-04-03"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/entities/accommodation/villa-1/priceable-item", "host-1", item)
	assert.Equal(t, http.StatusConflict, rec.Code, "a second active item is rejected")

	item["id"] = f.itemID
	rec = f.do(t, http.MethodPut, "/v1/entities/accommodation/villa-1/priceable-item", "host-1", item)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decodeInto[domain.PriceableItem](t, rec)
	assert.Equal(t, villa, saved.Entity)
	assert.Equal(t, f.itemID, saved.ID)

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/fees", "host-1",
		map[string]any{"name": "Cleaning", "charge_type": "per_booking", "amount": "40", "currency": "EUR", "is_mandatory": true, "is_active": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/entities/accommodation/villa-1/quote", "",
		map[string]any{"start": "2030-02-04", "end": "2030-02-05"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decodeInto[domain.PriceBreakdown](t, rec)
	assert.Equal(t, "190.00 EUR", b.Formatted.Total, "new active item plus the cleaning fee")
}
