package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"acomody/internal/app"
	"acomody/internal/domain"
)

type Handlers struct {
	Availability *app.AvailabilityService
	Pricing      *app.PricingService
	Bookings     *app.BookingService
	History      *app.HistoryService
	Catalog      *app.CatalogService
	Listings     domain.ListingDirectory
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1/entities/{kind}/{id}", func(r chi.Router) {
		r.Get("/availability", h.checkAvailability)
		r.Get("/calendar", h.calendar)
		r.Post("/availability/block", h.blockDates)
		r.Post("/availability/unblock", h.unblockDates)
		r.Post("/quote", h.quote)
		r.Get("/history", h.entityHistory)

		r.Put("/priceable-item", h.savePriceableItem)
		r.Post("/pricing-periods", h.savePricingPeriod)
		r.Post("/fees", h.saveFee)
		r.Post("/taxes", h.assignTax)
		r.Post("/taxes/jurisdiction", h.assignJurisdictionTaxes)
	})

	s.mux.Route("/v1/tax-rates", func(r chi.Router) {
		r.Get("/", h.listTaxRates)
		r.Post("/", h.saveTaxRate)
	})

	s.mux.Route("/v1/bookings", func(r chi.Router) {
		r.Post("/", h.createBooking)
		r.Get("/", h.listBookings)
		r.Get("/{id}", h.getBooking)
		r.Post("/{id}/confirm", h.transition(h.Bookings.Confirm))
		r.Post("/{id}/payment", h.transition(h.Bookings.RecordPayment))
		r.Post("/{id}/no-show", h.transition(h.Bookings.MarkNoShow))
		r.Post("/{id}/decline", h.transitionWithReason(h.Bookings.Decline))
		r.Post("/{id}/cancel", h.transitionWithReason(h.Bookings.Cancel))
	})

	s.mux.Post("/v1/history/{id}/rollback", h.rollback)
}

// ---- responses ----

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps an engine error kind onto an HTTP status. Server faults
// never leak their detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		writeProblem(w, http.StatusInternalServerError, "Configuration Error", "")
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

// writeCacheable serves v with a weak ETag and honors If-None-Match.
func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

// ---- request helpers ----

func entityRef(r *http.Request) (domain.EntityRef, error) {
	return domain.NewEntityRef(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
}

func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := actorFrom(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "X-User-ID header is required")
	}
	return a, ok
}

// requireHost admits only the host of the entity named in the path.
func (h *Handlers) requireHost(w http.ResponseWriter, r *http.Request) (domain.EntityRef, domain.Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return domain.EntityRef{}, actor, false
	}
	ref, err := entityRef(r)
	if err != nil {
		writeError(w, err)
		return ref, actor, false
	}
	if err := h.authorizeHost(r.Context(), ref, actor); err != nil {
		writeError(w, err)
		return ref, actor, false
	}
	return ref, actor, true
}

func (h *Handlers) authorizeHost(ctx context.Context, ref domain.EntityRef, actor domain.Actor) error {
	l, err := h.Listings.GetListing(ctx, ref)
	if err != nil {
		return err
	}
	if l.HostID != actor.UserID {
		return domain.Forbiddenf("authorize", "only the host of %s may manage it", ref)
	}
	return nil
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, domain.Validationf("query", "%s must be an integer between %d and %d", key, min, max)
	}
	return n, nil
}

// ---- availability ----

func (h *Handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := rangeRequest{Start: r.URL.Query().Get("start"), End: r.URL.Query().Get("end")}
	if err := validateStruct(q); err != nil {
		writeError(w, err)
		return
	}
	start, end, err := parseRange(q.Start, q.End)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Availability.CheckAvailability(r.Context(), ref, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) calendar(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now().UTC()
	year, err := queryInt(r, "year", now.Year(), 1970, 9999)
	if err != nil {
		writeError(w, err)
		return
	}
	month, err := queryInt(r, "month", int(now.Month()), 1, 12)
	if err != nil {
		writeError(w, err)
		return
	}
	cal, err := h.Availability.MonthlyCalendar(r.Context(), ref, year, time.Month(month))
	if err != nil {
		writeError(w, err)
		return
	}
	writeCacheable(w, r, cal)
}

func (h *Handlers) blockDates(w http.ResponseWriter, r *http.Request) {
	ref, actor, req, ok := h.rangeMutation(w, r)
	if !ok {
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Availability.BlockDates(r.Context(), ref, start, end, req.Reason, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) unblockDates(w http.ResponseWriter, r *http.Request) {
	ref, actor, req, ok := h.rangeMutation(w, r)
	if !ok {
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	removed, err := h.Availability.UnblockDates(r.Context(), ref, start, end, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handlers) rangeMutation(w http.ResponseWriter, r *http.Request) (domain.EntityRef, domain.Actor, rangeRequest, bool) {
	var req rangeRequest
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return ref, actor, req, false
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return ref, actor, req, false
	}
	return ref, actor, req, true
}

// ---- pricing ----

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	persons := req.Persons
	if persons == 0 {
		persons = 1
	}
	b, err := h.Pricing.CalculatePrice(r.Context(), app.QuoteRequest{
		Entity: ref, Start: start, End: end, Quantity: req.Quantity, Persons: persons,
		OptionalFees: req.OptionalFees, GuestAges: req.GuestAges, DisplayCurrency: req.DisplayCurrency,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ---- bookings ----

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ref, err := domain.NewEntityRef(req.EntityKind, req.EntityID)
	if err != nil {
		writeError(w, err)
		return
	}
	checkIn, checkOut, err := parseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := h.Bookings.Create(r.Context(), domain.BookingRequest{
		Entity: ref, GuestID: actor.UserID, CheckIn: checkIn, CheckOut: checkOut, Guests: req.Guests,
		Quantity: req.Quantity, OptionalFees: req.OptionalFees, GuestAges: req.GuestAges,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

// getBooking is visible to the booking's guest and host only.
func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.UserID != b.GuestID && actor.UserID != b.HostID {
		writeError(w, domain.NotFoundf("get booking", "booking %s not found", b.ID))
		return
	}
	writeCacheable(w, r, b)
}

func (h *Handlers) listBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 100, 1, 500)
	if err != nil {
		writeError(w, err)
		return
	}
	f := domain.BookingFilter{Limit: limit}
	switch role := r.URL.Query().Get("role"); role {
	case "", "guest":
		f.GuestID = actor.UserID
	case "host":
		f.HostID = actor.UserID
	default:
		writeError(w, domain.Validationf("list bookings", "role must be guest or host"))
		return
	}
	for _, s := range r.URL.Query()["status"] {
		f.Statuses = append(f.Statuses, domain.BookingStatus(s))
	}
	out, err := h.Bookings.ListBookings(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type transitionFunc func(ctx context.Context, id string, actor domain.Actor) (domain.Booking, error)
type reasonTransitionFunc func(ctx context.Context, id string, actor domain.Actor, reason string) (domain.Booking, error)

func (h *Handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		b, err := fn(r.Context(), chi.URLParam(r, "id"), actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handlers) transitionWithReason(fn reasonTransitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var req reasonRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		b, err := fn(r.Context(), chi.URLParam(r, "id"), actor, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

// ---- history ----

// Entries carry actor IPs, so the log is visible to the host only.
func (h *Handlers) entityHistory(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	out, err := h.History.EntityHistory(r.Context(), ref, domain.HistoryFilter{
		RecordType: domain.RecordType(q.Get("record_type")), RecordID: q.Get("record_id"), Limit: limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handlers) rollback(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	e, err := h.History.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.authorizeHost(r.Context(), e.Entity, actor); err != nil {
		writeError(w, err)
		return
	}
	e, err = h.History.Rollback(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
