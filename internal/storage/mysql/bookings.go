package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"acomody/internal/domain"
)

func scanBooking(s scanner) (domain.Booking, error) {
	const op = "scan booking"
	var (
		b                     domain.Booking
		ages, fees, breakdown []byte
		paid, confirmed       sql.NullTime
		declined, cancelled   sql.NullTime
		done, deleted         sql.NullTime
	)
	err := s.Scan(
		&b.ID, &b.Entity.Kind, &b.Entity.ID, &b.GuestID, &b.HostID, &b.CheckIn, &b.CheckOut, &b.Nights, &b.Guests,
		&ages, &fees, &b.Status, &b.BookingType, &b.CancellationPolicy, &b.Subtotal, &b.FeesTotal, &b.TaxesTotal,
		&b.Total, &b.Currency, &breakdown, &b.PaymentStatus, &paid, &b.AvailabilityPeriodID, &b.UsesCapacity, &confirmed,
		&declined, &b.DeclineReason, &cancelled, &b.CancelledBy, &b.CancellationReason, &b.RefundAmount, &done,
		&b.CreatedAt, &b.UpdatedAt, &deleted,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.GuestAges, err = decodeJSON[int](op, ages); err != nil {
		return domain.Booking{}, err
	}
	if b.SelectedFees, err = decodeJSON[string](op, fees); err != nil {
		return domain.Booking{}, err
	}
	if err := json.Unmarshal(breakdown, &b.Breakdown); err != nil {
		return domain.Booking{}, domain.Persistence(op, err)
	}
	b.PaidAt, b.ConfirmedAt, b.DeclinedAt = ptrTime(paid), ptrTime(confirmed), ptrTime(declined)
	b.CancelledAt, b.CompletedAt, b.DeletedAt = ptrTime(cancelled), ptrTime(done), ptrTime(deleted)
	return b, nil
}

func (r *Repo) CreateBooking(ctx context.Context, b domain.Booking) error {
	const op = "create booking"
	ages, err := valJSON(b.GuestAges)
	if err != nil {
		return domain.Persistence(op, err)
	}
	fees, err := valJSON(b.SelectedFees)
	if err != nil {
		return domain.Persistence(op, err)
	}
	breakdown, err := json.Marshal(b.Breakdown)
	if err != nil {
		return domain.Persistence(op, err)
	}
	_, err = r.q.ExecContext(ctx, insertBookingSQL,
		b.ID, b.Entity.Kind, b.Entity.ID, b.GuestID, b.HostID, domain.DateOf(b.CheckIn), domain.DateOf(b.CheckOut),
		b.Nights, b.Guests, ages, fees, b.Status, b.BookingType, b.CancellationPolicy, b.Subtotal, b.FeesTotal,
		b.TaxesTotal, b.Total, b.Currency, string(breakdown), b.PaymentStatus, valTime(b.PaidAt), b.AvailabilityPeriodID,
		b.UsesCapacity, valTime(b.ConfirmedAt), valTime(b.DeclinedAt), b.DeclineReason, valTime(b.CancelledAt),
		b.CancelledBy, b.CancellationReason, b.RefundAmount, valTime(b.CompletedAt), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
		valTime(b.DeletedAt),
	)
	return dbErr(op, err)
}

func (r *Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx, getBookingSQL, id))
	if err != nil {
		return domain.Booking{}, rowErr("get booking", "booking", id, err)
	}
	return b, nil
}

func (r *Repo) GetBookingForUpdate(ctx context.Context, id string) (domain.Booking, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx, getBookingSQL+" FOR UPDATE", id))
	if err != nil {
		return domain.Booking{}, rowErr("get booking for update", "booking", id, err)
	}
	return b, nil
}

func (r *Repo) UpdateBooking(ctx context.Context, b domain.Booking) error {
	const op = "update booking"
	res, err := r.q.ExecContext(ctx, updateBookingSQL,
		b.Status, b.PaymentStatus, valTime(b.PaidAt), b.AvailabilityPeriodID, valTime(b.ConfirmedAt),
		valTime(b.DeclinedAt), b.DeclineReason, valTime(b.CancelledAt), b.CancelledBy, b.CancellationReason,
		b.RefundAmount, valTime(b.CompletedAt), b.UpdatedAt.UTC(), valTime(b.DeletedAt),
		b.ID,
	)
	if err != nil {
		return dbErr(op, err)
	}
	return r.mustAffect(ctx, op, "bookings", "booking", b.ID, res)
}

func (r *Repo) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	const op = "list bookings"
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(listBookingsSQL)
	if f.Entity != nil {
		q.WriteString(" AND entity_kind = ? AND entity_id = ?")
		args = append(args, f.Entity.Kind, f.Entity.ID)
	}
	if f.GuestID != "" {
		q.WriteString(" AND guest_id = ?")
		args = append(args, f.GuestID)
	}
	if f.HostID != "" {
		q.WriteString(" AND host_id = ?")
		args = append(args, f.HostID)
	}
	if len(f.Statuses) > 0 {
		q.WriteString(" AND status IN (" + placeholders(len(f.Statuses)) + ")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.CheckOutBefore != nil {
		q.WriteString(" AND check_out < ?")
		args = append(args, f.CheckOutBefore.UTC())
	}
	q.WriteString(" ORDER BY created_at, id")
	if f.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, b)
	}
	return out, dbErr(op, rows.Err())
}
