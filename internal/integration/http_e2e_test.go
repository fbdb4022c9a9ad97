package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acomody/internal/adapters/fx"
	server "acomody/internal/adapters/http_server"
	"acomody/internal/adapters/notify"
	redisad "acomody/internal/adapters/redis"
	"acomody/internal/app"
	"acomody/internal/domain"
	"acomody/internal/storage/memory"
)

var villa = domain.EntityRef{Kind: domain.KindAccommodation, ID: "villa-1"}

type stack struct {
	api      *httptest.Server
	redis    *miniredis.Miniredis
	bookings *app.BookingService
	fxHits   *atomic.Int32
}

// newStack wires every adapter around the in-memory store: Redis through
// miniredis, Kafka through the sarama mock producer and FX through a stub server.
func newStack(t *testing.T, producer *mocks.SyncProducer) *stack {
	t.Helper()
	now := func() time.Time { return time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC) }

	var hits atomic.Int32
	fxSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		_, _ = fmt.Fprintf(w, `{"from":%q,"to":%q,"date":%q,"rate":"1.1"}`, q.Get("from"), q.Get("to"), q.Get("date"))
	}))
	t.Cleanup(fxSrv.Close)
	converter, err := fx.New(fxSrv.URL, "test-key", 50)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cache := redisad.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	store := memory.New()
	store.PutListing(domain.Listing{
		Ref: villa, HostID: "host-1", MaxGuests: 4, BookingType: domain.BookingOnRequest,
		CancellationPolicy: domain.PolicyModerate, Country: "PT",
	})

	avail := app.NewAvailabilityService(store, cache, time.Hour).WithClock(now)
	pricing := app.NewPricingService(store, converter).WithClock(now)
	catalog := app.NewCatalogService(store, converter).WithClock(now)
	history := app.NewHistoryService(store, avail).WithClock(now)
	bookings := app.NewBookingService(store, avail, pricing, notify.NewKafkaWithProducer(producer, "booking-events")).WithClock(now)

	srv := server.New()
	srv.MountHandlers(&server.Handlers{
		Availability: avail, Pricing: pricing, Bookings: bookings, History: history,
		Catalog: catalog, Listings: store,
	})
	api := httptest.NewServer(srv.Mux())
	t.Cleanup(api.Close)

	return &stack{api: api, redis: mr, bookings: bookings, fxHits: &hits}
}

func (s *stack) call(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.api.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	res, err := s.api.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, out.Bytes()
}

func TestHTTP_EndToEnd_QuoteBookAndNotify(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	events := make(chan string, 2)
	record := func(msg *sarama.ProducerMessage) error {
		for _, h := range msg.Headers {
			if string(h.Key) == "event" {
				events <- string(h.Value)
			}
		}
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(record)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(record)

	s := newStack(t, producer)

	res, body := s.call(t, http.MethodPut, "/v1/entities/accommodation/villa-1/priceable-item", "host-1",
		map[string]any{"pricing_type": "nightly", "base_price": "100", "currency": "EUR", "is_active": true})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	// quote converted for display through the FX stub
	res, body = s.call(t, http.MethodPost, "/v1/entities/accommodation/villa-1/quote", "",
		map[string]any{"start": "2030-02-04", "end": "2030-02-07", "display_currency": "USD"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var quote domain.PriceBreakdown
	require.NoError(t, json.Unmarshal(body, &quote))
	assert.Equal(t, "300.00 EUR", quote.Formatted.Total)
	require.NotNil(t, quote.Display)
	assert.True(t, decimal.NewFromInt(330).Equal(quote.Display.Total), quote.Display.Total.String())
	assert.EqualValues(t, 1, s.fxHits.Load())

	// book and confirm; each transition publishes one event
	res, body = s.call(t, http.MethodPost, "/v1/bookings", "guest-1", map[string]any{
		"entity_kind": "accommodation", "entity_id": "villa-1",
		"check_in": "2030-02-04", "check_out": "2030-02-07", "guests": 2,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var b domain.Booking
	require.NoError(t, json.Unmarshal(body, &b))
	s.bookings.Wait()

	res, body = s.call(t, http.MethodPost, "/v1/bookings/"+b.ID+"/confirm", "host-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	s.bookings.Wait()

	assert.Equal(t, string(domain.EventBookingCreated), <-events)
	assert.Equal(t, string(domain.EventBookingConfirmed), <-events)
	require.NoError(t, producer.Close())
}

func TestHTTP_EndToEnd_CalendarCache(t *testing.T) {
	s := newStack(t, mocks.NewSyncProducer(t, nil))
	const key = "calendar:accommodation:villa-1:2030-04"

	res, body := s.call(t, http.MethodGet, "/v1/entities/accommodation/villa-1/calendar?year=2030&month=4", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.True(t, s.redis.Exists(key), "first read fills the cache")
	etag := res.Header.Get("ETag")

	res, body = s.call(t, http.MethodPost, "/v1/entities/accommodation/villa-1/availability/block", "host-1",
		map[string]any{"start": "2030-04-10", "end": "2030-04-12", "reason": "painting"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.False(t, s.redis.Exists(key), "ledger mutation invalidates the month")

	res, body = s.call(t, http.MethodGet, "/v1/entities/accommodation/villa-1/calendar?year=2030&month=4", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, etag, res.Header.Get("ETag"))
	var cal domain.MonthlyCalendar
	require.NoError(t, json.Unmarshal(body, &cal))
	assert.Equal(t, domain.StatusBlocked, cal.Days[9].Status)
	assert.Equal(t, "painting", cal.Days[9].Reason)
	assert.Equal(t, domain.StatusAvailable, cal.Days[12].Status)
}
