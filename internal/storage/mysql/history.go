package mysql

import (
	"context"
	"database/sql"
	"time"

	"acomody/internal/domain"
)

func scanHistory(s scanner) (domain.HistoryEntry, error) {
	var (
		e            domain.HistoryEntry
		oldV, newV   []byte
		rolledBackAt sql.NullTime
	)
	err := s.Scan(
		&e.ID, &e.Entity.Kind, &e.Entity.ID, &e.RecordType, &e.RecordID, &e.ChangeType, &oldV, &newV,
		&e.Actor.UserID, &e.Actor.IP, &e.Source, &e.CanRollback, &rolledBackAt, &e.RolledBackBy, &e.CreatedAt,
	)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if len(oldV) > 0 {
		e.OldValues = oldV
	}
	if len(newV) > 0 {
		e.NewValues = newV
	}
	e.RolledBackAt = ptrTime(rolledBackAt)
	return e, nil
}

func (r *Repo) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	_, err := r.q.ExecContext(ctx, insertHistorySQL,
		e.ID, e.Entity.Kind, e.Entity.ID, e.RecordType, e.RecordID, e.ChangeType, valRaw(e.OldValues), valRaw(e.NewValues),
		e.Actor.UserID, e.Actor.IP, e.Source, e.CanRollback, valTime(e.RolledBackAt), e.RolledBackBy, e.CreatedAt.UTC(),
	)
	return dbErr("append history", err)
}

func (r *Repo) GetHistory(ctx context.Context, id string) (domain.HistoryEntry, error) {
	e, err := scanHistory(r.q.QueryRowContext(ctx, getHistorySQL, id))
	if err != nil {
		return domain.HistoryEntry{}, rowErr("get history", "history entry", id, err)
	}
	return e, nil
}

func (r *Repo) GetHistoryForUpdate(ctx context.Context, id string) (domain.HistoryEntry, error) {
	e, err := scanHistory(r.q.QueryRowContext(ctx, getHistorySQL+" FOR UPDATE", id))
	if err != nil {
		return domain.HistoryEntry{}, rowErr("get history for update", "history entry", id, err)
	}
	return e, nil
}

func (r *Repo) ListHistory(ctx context.Context, ref domain.EntityRef, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	const op = "list history"
	q, args := listHistorySQL, []any{ref.Kind, ref.ID, f.RecordType, f.RecordType, f.RecordID, f.RecordID}
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, e)
	}
	return out, dbErr(op, rows.Err())
}

func (r *Repo) MarkRolledBack(ctx context.Context, id string, at time.Time, by string) error {
	const op = "mark rolled back"
	res, err := r.q.ExecContext(ctx, markRolledBackSQL, at.UTC(), by, id)
	if err != nil {
		return dbErr(op, err)
	}
	return r.mustAffect(ctx, op, "pricing_history", "history entry", id, res)
}
