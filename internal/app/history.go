package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"acomody/internal/adapters/observability"
	"acomody/internal/domain"
)

type historyRecord struct {
	ref         domain.EntityRef
	recordType  domain.RecordType
	recordID    string
	change      domain.ChangeType
	old, new    any // nil means absent
	actor       domain.Actor
	source      domain.Source
	canRollback bool
}

// appendHistory writes one audit row on the caller's transaction so a failed
// mutation leaves no orphaned entry.
func appendHistory(ctx context.Context, repo domain.HistoryRepository, now time.Time, r historyRecord) error {
	oldJSON, err := snapshot(r.old)
	if err != nil {
		return err
	}
	newJSON, err := snapshot(r.new)
	if err != nil {
		return err
	}
	return repo.AppendHistory(ctx, domain.HistoryEntry{
		ID:          domain.NewID(),
		Entity:      r.ref,
		RecordType:  r.recordType,
		RecordID:    r.recordID,
		ChangeType:  r.change,
		OldValues:   oldJSON,
		NewValues:   newJSON,
		Actor:       r.actor,
		Source:      r.source,
		CanRollback: r.canRollback,
		CreatedAt:   now,
	})
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, domain.Persistence("snapshot history values", err)
	}
	return b, nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// HistoryService reads the audit log and rolls entries back.
type HistoryService struct {
	store domain.Store
	avail *AvailabilityService
	now   func() time.Time
	log   zerolog.Logger
}

func NewHistoryService(store domain.Store, avail *AvailabilityService) *HistoryService {
	return &HistoryService{
		store: store,
		avail: avail,
		now:   utcNow,
		log:   log.With().Str("component", "history").Logger(),
	}
}

func (s *HistoryService) WithClock(now func() time.Time) *HistoryService {
	s.now = now
	return s
}

// Record appends a standalone entry. Mutations inside the engine write their
// own entries on their transaction.
func (s *HistoryService) Record(ctx context.Context, ref domain.EntityRef, rt domain.RecordType, recordID string,
	change domain.ChangeType, oldValues, newValues any, actor domain.Actor, src domain.Source) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		return appendHistory(ctx, tx, s.now(), historyRecord{
			ref: ref, recordType: rt, recordID: recordID, change: change,
			old: oldValues, new: newValues, actor: actor, source: src, canRollback: rt != domain.RecordAvailability,
		})
	})
	return domain.Persistence("record history", err)
}

func (s *HistoryService) EntityHistory(ctx context.Context, ref domain.EntityRef, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	out, err := s.store.ListHistory(ctx, ref, f)
	if err != nil {
		return nil, domain.Persistence("entity history", err)
	}
	return out, nil
}

func (s *HistoryService) Get(ctx context.Context, id string) (domain.HistoryEntry, error) {
	e, err := s.store.GetHistory(ctx, id)
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("get history", err)
	}
	return e, nil
}

// Rollback restores the state an entry describes. A missing old snapshot
// deletes the record; a missing new snapshot recreates it from old; otherwise
// old overwrites the current row. The entry is stamped in place and no new
// entry is written.
func (s *HistoryService) Rollback(ctx context.Context, id string, actor domain.Actor) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repos) error {
		var err error
		e, err = tx.GetHistoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !e.CanRollback {
			return domain.Conflictf("rollback", "history entry %s cannot be rolled back", id)
		}
		if e.RolledBackAt != nil {
			return domain.Conflictf("rollback", "history entry %s was already rolled back", id)
		}
		if err := s.apply(ctx, tx, e); err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkRolledBack(ctx, e.ID, now, actor.UserID); err != nil {
			return err
		}
		e.RolledBackAt, e.RolledBackBy = &now, actor.UserID
		return nil
	})
	observability.ObserveRollback(err)
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("rollback", err)
	}
	if e.RecordType == domain.RecordAvailability && s.avail != nil {
		s.invalidateSnapshot(ctx, e)
	}
	s.log.Info().Str("history_id", e.ID).Str("record_type", string(e.RecordType)).
		Str("actor", actor.UserID).Msg("history entry rolled back")
	return e, nil
}

func (s *HistoryService) apply(ctx context.Context, tx domain.Repos, e domain.HistoryEntry) error {
	switch e.RecordType {
	case domain.RecordPriceableItem:
		return restore(ctx, e, func(ctx context.Context, it domain.PriceableItem) error {
			if err := ensureSingleActive(ctx, tx, it); err != nil {
				return err
			}
			return tx.SavePriceableItem(ctx, it)
		}, tx.DeletePriceableItem)
	case domain.RecordPricingPeriod:
		return restore(ctx, e, tx.SavePricingPeriod, tx.DeletePricingPeriod)
	case domain.RecordFee:
		return restore(ctx, e, tx.SaveFee, tx.DeleteFee)
	case domain.RecordEntityTax:
		return restore(ctx, e, tx.SaveEntityTax, tx.DeleteEntityTax)
	case domain.RecordAvailability:
		if err := tx.LockEntity(ctx, e.Entity); err != nil {
			return err
		}
		return s.restoreAvailability(ctx, tx, e)
	}
	return domain.Configurationf("rollback", "unsupported record type %q", e.RecordType)
}

func restore[T any](ctx context.Context, e domain.HistoryEntry,
	save func(context.Context, T) error, del func(context.Context, string) error) error {
	switch {
	case absent(e.OldValues) && absent(e.NewValues):
		return domain.Configurationf("rollback", "history entry %s has no snapshots", e.ID)
	case absent(e.OldValues):
		return del(ctx, e.RecordID)
	}
	var old T
	if err := json.Unmarshal(e.OldValues, &old); err != nil {
		return domain.Persistence("decode history snapshot", err)
	}
	return save(ctx, old)
}

// restoreAvailability removes the periods the entry inserted and puts back
// the ones it superseded. Later changes to the same dates make it a conflict.
func (s *HistoryService) restoreAvailability(ctx context.Context, tx domain.Repos, e domain.HistoryEntry) error {
	var oldC, newC domain.AvailabilityChange
	if !absent(e.NewValues) {
		if err := json.Unmarshal(e.NewValues, &newC); err != nil {
			return domain.Persistence("decode history snapshot", err)
		}
	}
	if !absent(e.OldValues) {
		if err := json.Unmarshal(e.OldValues, &oldC); err != nil {
			return domain.Persistence("decode history snapshot", err)
		}
	}

	ids := make([]string, 0, len(newC.Periods))
	for _, p := range newC.Periods {
		cur, err := tx.GetPeriod(ctx, p.ID)
		if isNotFound(err) {
			return domain.Conflictf("rollback", "availability period %s was changed after this entry", p.ID)
		}
		if err != nil {
			return err
		}
		if !cur.UpdatedAt.Equal(p.UpdatedAt) {
			return domain.Conflictf("rollback", "availability period %s was changed after this entry", p.ID)
		}
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		if err := tx.DeletePeriods(ctx, ids...); err != nil {
			return err
		}
	}

	for _, p := range oldC.Periods {
		current, err := tx.ListPeriods(ctx, p.Entity, p.StartDate, p.EndDate)
		if err != nil {
			return err
		}
		if len(current) > 0 {
			return domain.Conflictf("rollback", "dates %s to %s are now covered by period %s",
				p.StartDate.Format(domain.DateLayout), p.EndDate.Format(domain.DateLayout), current[0].ID)
		}
		if err := tx.InsertPeriod(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *HistoryService) invalidateSnapshot(ctx context.Context, e domain.HistoryEntry) {
	for _, raw := range []json.RawMessage{e.OldValues, e.NewValues} {
		if absent(raw) {
			continue
		}
		var c domain.AvailabilityChange
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		for _, p := range c.Periods {
			s.avail.invalidate(ctx, p.Entity, p.StartDate, p.EndDate)
		}
	}
}
