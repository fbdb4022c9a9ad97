package mysql

import (
	"context"
	"database/sql"
	"time"

	"acomody/internal/domain"
)

func scanAvailability(s scanner) (domain.AvailabilityPeriod, error) {
	var (
		p         domain.AvailabilityPeriod
		days      []byte
		capacity  sql.NullInt64
		bookingID sql.NullString
	)
	err := s.Scan(
		&p.ID, &p.Entity.Kind, &p.Entity.ID, &p.StartDate, &p.EndDate, &p.StartTime, &p.EndTime, &days,
		&p.Status, &p.Reason, &capacity, &p.CurrentBookings, &bookingID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.AvailabilityPeriod{}, err
	}
	p.MaxCapacity, p.BookingID = ptrInt(capacity), bookingID.String
	p.DaysOfWeek, err = decodeJSON[time.Weekday]("scan availability period", days)
	return p, err
}

func (r *Repo) ListPeriods(ctx context.Context, ref domain.EntityRef, start, end time.Time) ([]domain.AvailabilityPeriod, error) {
	const op = "list availability periods"
	rows, err := r.q.QueryContext(ctx, listPeriodsSQL, ref.Kind, ref.ID, domain.DateOf(end), domain.DateOf(start))
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.AvailabilityPeriod
	for rows.Next() {
		p, err := scanAvailability(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, p)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) GetPeriod(ctx context.Context, id string) (domain.AvailabilityPeriod, error) {
	p, err := scanAvailability(r.q.QueryRowContext(ctx, getPeriodSQL, id))
	if err != nil {
		return domain.AvailabilityPeriod{}, rowErr("get availability period", "availability period", id, err)
	}
	return p, nil
}

func (r *Repo) InsertPeriod(ctx context.Context, p domain.AvailabilityPeriod) error {
	const op = "insert availability period"
	days, err := valJSON(p.DaysOfWeek)
	if err != nil {
		return domain.Persistence(op, err)
	}
	_, err = r.q.ExecContext(ctx, insertPeriodSQL,
		p.ID, p.Entity.Kind, p.Entity.ID, domain.DateOf(p.StartDate), domain.DateOf(p.EndDate), p.StartTime, p.EndTime, days,
		p.Status, p.Reason, valInt(p.MaxCapacity), p.CurrentBookings, valStr(p.BookingID), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return dbErr(op, err)
}

func (r *Repo) UpdatePeriod(ctx context.Context, p domain.AvailabilityPeriod) error {
	const op = "update availability period"
	days, err := valJSON(p.DaysOfWeek)
	if err != nil {
		return domain.Persistence(op, err)
	}
	res, err := r.q.ExecContext(ctx, updatePeriodSQL,
		domain.DateOf(p.StartDate), domain.DateOf(p.EndDate), p.StartTime, p.EndTime, days, p.Status, p.Reason,
		valInt(p.MaxCapacity), p.CurrentBookings, valStr(p.BookingID), p.UpdatedAt.UTC(),
		p.ID,
	)
	if err != nil {
		return dbErr(op, err)
	}
	return r.mustAffect(ctx, op, "availability_periods", "availability period", p.ID, res)
}

func (r *Repo) DeletePeriods(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx, deletePeriodsPrefix+placeholders(len(ids))+")", args...)
	return dbErr("delete availability periods", err)
}
