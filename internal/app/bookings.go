package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"acomody/internal/adapters/observability"
	"acomody/internal/domain"
)

const defaultNotifyTimeout = 5 * time.Second

// BookingService drives bookings through pending -> confirmed -> completed,
// with decline and cancel branches. Each transition locks the booking row,
// then the entity, and commits the booking and ledger writes together.
type BookingService struct {
	store    domain.Store
	avail    *AvailabilityService
	pricing  *PricingService
	notifier domain.Notifier
	now      func() time.Time
	log      zerolog.Logger

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

func NewBookingService(store domain.Store, avail *AvailabilityService, pricing *PricingService, n domain.Notifier) *BookingService {
	return &BookingService{
		store:         store,
		avail:         avail,
		pricing:       pricing,
		notifier:      n,
		now:           utcNow,
		log:           log.With().Str("component", "bookings").Logger(),
		notifyTimeout: defaultNotifyTimeout,
	}
}

func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

// Create validates the request, checks the dates and freezes a price
// breakdown onto a new pending booking. Instant listings are confirmed and
// booked in the same transaction.
func (s *BookingService) Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	const op = "create booking"
	b, err := s.create(ctx, req)
	observability.ObserveTransition("create", err)
	if err != nil {
		return domain.Booking{}, s.fail(op, err)
	}
	if b.Status == domain.BookingConfirmed {
		s.avail.invalidate(ctx, b.Entity, b.CheckIn, b.LastNight())
	}
	s.log.Info().Str("booking_id", b.ID).Str("entity", b.Entity.String()).Str("status", string(b.Status)).Msg("booking created")
	s.notify(ctx, domain.EventBookingCreated, b)
	if b.Status == domain.BookingConfirmed {
		s.notify(ctx, domain.EventBookingConfirmed, b)
	}
	return b, nil
}

func (s *BookingService) create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	const op = "create booking"
	if req.Entity.Kind.IsZero() || req.Entity.ID == "" {
		return domain.Booking{}, domain.Validationf(op, "entity is required")
	}
	if req.GuestID == "" {
		return domain.Booking{}, domain.Validationf(op, "guest is required")
	}
	if req.Guests < 1 {
		return domain.Booking{}, domain.Validationf(op, "at least one guest is required")
	}
	if len(req.GuestAges) > 0 && len(req.GuestAges) != req.Guests {
		return domain.Booking{}, domain.Validationf(op, "got %d guest ages for %d guests", len(req.GuestAges), req.Guests)
	}
	if err := domain.ValidateRange(op, req.CheckIn, req.CheckOut); err != nil {
		return domain.Booking{}, err
	}
	now := s.now()
	if domain.DateOf(req.CheckIn).Before(domain.DateOf(now)) {
		return domain.Booking{}, domain.Validationf(op, "check-in %s is in the past", req.CheckIn.Format(domain.DateLayout))
	}

	listing, err := s.store.GetListing(ctx, req.Entity)
	if err != nil {
		return domain.Booking{}, err
	}
	if listing.MaxGuests > 0 && req.Guests > listing.MaxGuests {
		return domain.Booking{}, domain.Validationf(op, "%d guests exceeds the maximum of %d", req.Guests, listing.MaxGuests)
	}
	if listing.HostID == req.GuestID {
		return domain.Booking{}, domain.Forbiddenf(op, "hosts cannot book their own listing")
	}

	b := domain.Booking{
		ID:                 domain.NewID(),
		Entity:             req.Entity,
		GuestID:            req.GuestID,
		HostID:             listing.HostID,
		CheckIn:            domain.DateOf(req.CheckIn),
		CheckOut:           domain.DateOf(req.CheckOut),
		Nights:             domain.DaysBetween(req.CheckIn, req.CheckOut),
		Guests:             req.Guests,
		GuestAges:          req.GuestAges,
		SelectedFees:       req.OptionalFees,
		Status:             domain.BookingPending,
		BookingType:        listing.BookingType,
		CancellationPolicy: listing.CancellationPolicy,
		PaymentStatus:      domain.PaymentUnpaid,
		UsesCapacity:       listing.UsesCapacity,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if b.BookingType == "" {
		b.BookingType = domain.BookingOnRequest
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		if err := tx.LockEntity(ctx, b.Entity); err != nil {
			return err
		}
		if err := rejectHourly(ctx, tx, b.Entity); err != nil {
			return err
		}
		if err := s.ensureAvailable(ctx, tx, b); err != nil {
			return err
		}
		breakdown, err := s.pricing.calculate(ctx, tx, QuoteRequest{
			Entity: b.Entity, Start: b.CheckIn, End: b.CheckOut, Quantity: req.Quantity,
			Persons: b.Guests, OptionalFees: req.OptionalFees, GuestAges: req.GuestAges,
		})
		if err != nil {
			return err
		}
		b.Breakdown = breakdown
		b.Subtotal, b.FeesTotal, b.TaxesTotal = breakdown.Subtotal, breakdown.FeesTotal, breakdown.TaxesTotal
		b.Total, b.Currency = breakdown.Total, breakdown.Currency
		b.RefundAmount = decimal.Zero

		if err := tx.CreateBooking(ctx, b); err != nil {
			return err
		}
		if b.BookingType != domain.BookingInstant {
			return nil
		}
		if err := s.occupy(ctx, tx, &b, domain.Actor{UserID: b.GuestID}); err != nil {
			return err
		}
		b.Status, b.ConfirmedAt = domain.BookingConfirmed, &now
		return tx.UpdateBooking(ctx, b)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

// Confirm accepts a pending request. The dates are checked again because a
// concurrent booking may have taken them while this one waited.
func (s *BookingService) Confirm(ctx context.Context, id string, host domain.Actor) (domain.Booking, error) {
	b, err := s.transition(ctx, id, domain.BookingConfirmed, func(ctx context.Context, tx domain.Repos, b *domain.Booking, now time.Time) error {
		if b.HostID != host.UserID {
			return domain.Forbiddenf("confirm booking", "only the host can confirm")
		}
		if err := tx.LockEntity(ctx, b.Entity); err != nil {
			return err
		}
		if err := s.ensureAvailable(ctx, tx, *b); err != nil {
			return err
		}
		if err := s.occupy(ctx, tx, b, host); err != nil {
			return err
		}
		b.ConfirmedAt = &now
		return nil
	})
	observability.ObserveTransition("confirm", err)
	if err != nil {
		return domain.Booking{}, s.fail("confirm booking", err)
	}
	s.avail.invalidate(ctx, b.Entity, b.CheckIn, b.LastNight())
	s.notify(ctx, domain.EventBookingConfirmed, b)
	return b, nil
}

// Decline rejects a pending request. Nothing was ever blocked for it.
func (s *BookingService) Decline(ctx context.Context, id string, host domain.Actor, reason string) (domain.Booking, error) {
	b, err := s.transition(ctx, id, domain.BookingDeclined, func(_ context.Context, _ domain.Repos, b *domain.Booking, now time.Time) error {
		if b.HostID != host.UserID {
			return domain.Forbiddenf("decline booking", "only the host can decline")
		}
		b.DeclinedAt, b.DeclineReason = &now, reason
		return nil
	})
	observability.ObserveTransition("decline", err)
	if err != nil {
		return domain.Booking{}, s.fail("decline booking", err)
	}
	s.notify(ctx, domain.EventBookingDeclined, b)
	return b, nil
}

// Cancel is open to the guest and the host. A confirmed booking frees its
// dates and gets a refund from the cancellation policy.
func (s *BookingService) Cancel(ctx context.Context, id string, actor domain.Actor, reason string) (domain.Booking, error) {
	var released bool
	b, err := s.transition(ctx, id, domain.BookingCancelled, func(ctx context.Context, tx domain.Repos, b *domain.Booking, now time.Time) error {
		if actor.UserID != b.GuestID && actor.UserID != b.HostID {
			return domain.Forbiddenf("cancel booking", "only the guest or the host can cancel")
		}
		if b.Status == domain.BookingConfirmed {
			if err := tx.LockEntity(ctx, b.Entity); err != nil {
				return err
			}
			if err := s.release(ctx, tx, *b, actor); err != nil {
				return err
			}
			released = true
		}
		b.RefundAmount = RefundFor(*b, now)
		if b.RefundAmount.IsPositive() {
			b.PaymentStatus = domain.PaymentPartiallyRefunded
			if b.RefundAmount.Equal(b.Total) {
				b.PaymentStatus = domain.PaymentRefunded
			}
		}
		b.CancelledAt, b.CancelledBy, b.CancellationReason = &now, actor.UserID, reason
		return nil
	})
	observability.ObserveTransition("cancel", err)
	if err != nil {
		return domain.Booking{}, s.fail("cancel booking", err)
	}
	if released {
		s.avail.invalidate(ctx, b.Entity, b.CheckIn, b.LastNight())
	}
	s.notify(ctx, domain.EventBookingCancelled, b)
	return b, nil
}

// Complete closes a confirmed stay once its check-out date has arrived.
func (s *BookingService) Complete(ctx context.Context, id string, actor domain.Actor) (domain.Booking, error) {
	b, err := s.transition(ctx, id, domain.BookingCompleted, func(_ context.Context, _ domain.Repos, b *domain.Booking, now time.Time) error {
		if actor != domain.System && actor.UserID != b.HostID {
			return domain.Forbiddenf("complete booking", "only the host can complete")
		}
		if domain.DateOf(now).Before(b.CheckOut) {
			return domain.Conflictf("complete booking", "stay ends %s", b.CheckOut.Format(domain.DateLayout))
		}
		b.CompletedAt = &now
		return nil
	})
	observability.ObserveTransition("complete", err)
	if err != nil {
		return domain.Booking{}, s.fail("complete booking", err)
	}
	s.notify(ctx, domain.EventBookingCompleted, b)
	return b, nil
}

// MarkNoShow records a guest who never arrived. Allowed from check-in day on.
func (s *BookingService) MarkNoShow(ctx context.Context, id string, host domain.Actor) (domain.Booking, error) {
	b, err := s.transition(ctx, id, domain.BookingNoShow, func(_ context.Context, _ domain.Repos, b *domain.Booking, now time.Time) error {
		if b.HostID != host.UserID {
			return domain.Forbiddenf("mark no-show", "only the host can mark a no-show")
		}
		if domain.DateOf(now).Before(b.CheckIn) {
			return domain.Conflictf("mark no-show", "check-in is %s", b.CheckIn.Format(domain.DateLayout))
		}
		return nil
	})
	observability.ObserveTransition("no_show", err)
	if err != nil {
		return domain.Booking{}, s.fail("mark no-show", err)
	}
	s.notify(ctx, domain.EventBookingNoShow, b)
	return b, nil
}

// RecordPayment marks an open booking as paid.
func (s *BookingService) RecordPayment(ctx context.Context, id string, actor domain.Actor) (domain.Booking, error) {
	var b domain.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		var err error
		b, err = tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor != domain.System && actor.UserID != b.GuestID {
			return domain.Forbiddenf("record payment", "only the guest can pay")
		}
		if b.Status != domain.BookingPending && b.Status != domain.BookingConfirmed {
			return domain.Conflictf("record payment", "booking %s is %s", b.ID, b.Status)
		}
		if b.PaymentStatus != domain.PaymentUnpaid {
			return domain.Conflictf("record payment", "booking %s is already %s", b.ID, b.PaymentStatus)
		}
		now := s.now()
		b.PaymentStatus, b.PaidAt, b.UpdatedAt = domain.PaymentPaid, &now, now
		return tx.UpdateBooking(ctx, b)
	})
	observability.ObserveTransition("payment", err)
	if err != nil {
		return domain.Booking{}, s.fail("record payment", err)
	}
	s.notify(ctx, domain.EventBookingPaid, b)
	return b, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, domain.Persistence("get booking", err)
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	out, err := s.store.ListBookings(ctx, f)
	if err != nil {
		return nil, domain.Persistence("list bookings", err)
	}
	return out, nil
}

// DueForCompletion lists confirmed bookings whose check-out date has arrived.
func (s *BookingService) DueForCompletion(ctx context.Context, limit int) ([]domain.Booking, error) {
	cutoff := domain.DateOf(s.now()).AddDate(0, 0, 1)
	return s.ListBookings(ctx, domain.BookingFilter{
		Statuses:       []domain.BookingStatus{domain.BookingConfirmed},
		CheckOutBefore: &cutoff,
		Limit:          limit,
	})
}

type transitionFunc func(ctx context.Context, tx domain.Repos, b *domain.Booking, now time.Time) error

// transition locks the booking row, checks the state machine, runs fn and
// saves the result in one transaction.
func (s *BookingService) transition(ctx context.Context, id string, to domain.BookingStatus, fn transitionFunc) (domain.Booking, error) {
	var b domain.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		var err error
		b, err = tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(b.Status, to) {
			return domain.Conflictf("booking transition", "booking %s is %s and cannot become %s", b.ID, b.Status, to)
		}
		now := s.now()
		if err := fn(ctx, tx, &b, now); err != nil {
			return err
		}
		b.Status, b.UpdatedAt = to, now
		return tx.UpdateBooking(ctx, b)
	})
	return b, err
}

// rejectHourly refuses hourly items: bookings carry whole dates, so an hourly
// slot cannot be expressed. A missing item is left to pricing to report.
func rejectHourly(ctx context.Context, tx domain.Repos, ref domain.EntityRef) error {
	item, err := tx.GetActivePriceableItem(ctx, ref)
	switch {
	case isNotFound(err):
		return nil
	case err != nil:
		return err
	case item.PricingType == domain.PricingHourly:
		return domain.Validationf("create booking", "%s is priced hourly and cannot be booked by date", ref)
	}
	return nil
}

func (s *BookingService) ensureAvailable(ctx context.Context, tx domain.Repos, b domain.Booking) error {
	res, err := checkAvailability(ctx, tx, b.Entity, b.CheckIn, b.LastNight())
	if err != nil {
		return err
	}
	if !res.Available {
		return domain.Conflictf("check availability", "dates unavailable: %s", strings.Join(res.Reasons, "; "))
	}
	return nil
}

// occupy claims the stay on the ledger: one booked period, or a capacity unit
// per night for capacity-tracked listings.
func (s *BookingService) occupy(ctx context.Context, tx domain.Repos, b *domain.Booking, actor domain.Actor) error {
	if b.UsesCapacity {
		for day := b.CheckIn; !day.After(b.LastNight()); day = day.AddDate(0, 0, 1) {
			ok, err := s.avail.adjustCapacityTx(ctx, tx, b.Entity, day, +1, actor, domain.SourceBooking)
			if err != nil {
				return err
			}
			if !ok {
				return domain.Conflictf("occupy", "no capacity left on %s", day.Format(domain.DateLayout))
			}
		}
		return nil
	}
	p, err := s.avail.replaceRange(ctx, tx, mutation{
		ref: b.Entity, start: b.CheckIn, end: b.LastNight(), status: domain.StatusBooked,
		reason: "booking " + b.ID, bookingID: b.ID, change: domain.ChangeBooked, actor: actor, source: domain.SourceBooking,
	})
	if err != nil {
		return err
	}
	b.AvailabilityPeriodID = p.ID
	return nil
}

func (s *BookingService) release(ctx context.Context, tx domain.Repos, b domain.Booking, actor domain.Actor) error {
	if !b.UsesCapacity {
		return s.avail.releaseBooking(ctx, tx, b, actor)
	}
	for day := b.CheckIn; !day.After(b.LastNight()); day = day.AddDate(0, 0, 1) {
		ok, err := s.avail.adjustCapacityTx(ctx, tx, b.Entity, day, -1, actor, domain.SourceBooking)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warn().Str("booking_id", b.ID).Str("date", day.Format(domain.DateLayout)).Msg("capacity counter already at zero")
		}
	}
	return nil
}

// fail wraps storage errors and logs server-side faults. Caller mistakes are
// returned as they are.
func (s *BookingService) fail(op string, err error) error {
	err = domain.Persistence(op, err)
	if !domain.IsClientError(err) {
		s.log.Error().Err(err).Str("op", op).Msg("booking operation failed")
	}
	return err
}

// notify publishes after commit on its own goroutine. Failures are logged only.
func (s *BookingService) notify(ctx context.Context, event domain.BookingEvent, b domain.Booking) {
	if s.notifier == nil {
		return
	}
	notice := domain.NoticeFor(b, s.now())
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, event, notice); err != nil {
			s.log.Warn().Err(err).Str("event", string(event)).Str("booking_id", b.ID).Msg("notification failed")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *BookingService) Wait() { s.inflight.Wait() }
