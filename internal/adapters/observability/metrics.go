package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acomody", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acomody", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)

	BookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "booking_transitions_total", Help: "Booking lifecycle transitions."},
		[]string{"transition", "result"},
	)
	PriceQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "price_quotes_total", Help: "Price calculations."},
		[]string{"result"},
	)
	AvailabilityMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "availability_mutations_total", Help: "Availability ledger writes."},
		[]string{"op"},
	)
	HistoryRollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "acomody", Name: "history_rollbacks_total", Help: "History rollbacks."},
		[]string{"result"},
	)
)

// Serve exposes reg on its own listener. An empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		BookingTransitions, PriceQuotes, AvailabilityMutations, HistoryRollbacks)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveTransition(transition string, err error) {
	BookingTransitions.WithLabelValues(transition, Result(err)).Inc()
}

func ObserveQuote(err error) { PriceQuotes.WithLabelValues(Result(err)).Inc() }

func ObserveAvailability(op string) { AvailabilityMutations.WithLabelValues(op).Inc() }

func ObserveRollback(err error) { HistoryRollbacks.WithLabelValues(Result(err)).Inc() }

// Result collapses an error into a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
