// Package mysql implements domain.Store on MySQL 8 through database/sql.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"acomody/internal/domain"
)

const (
	errDuplicateKey    = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Repo runs every repository method against one connection or transaction.
type Repo struct{ q querier }

type Store struct {
	*Repo
	db *sql.DB
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Repos = (*Repo)(nil)
)

func New(db *sql.DB) *Store { return &Store{Repo: &Repo{q: db}, db: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repos) error) error {
	// reads after LockEntity must see what the previous lock holder committed
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.Persistence("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &Repo{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Persistence("commit", err)
	}
	return nil
}

// LockEntity takes an exclusive lock on the entity's entity_locks row, creating
// it on first use. The lock is held until the transaction ends.
func (r *Repo) LockEntity(ctx context.Context, ref domain.EntityRef) error {
	_, err := r.q.ExecContext(ctx, lockEntitySQL, ref.Kind, ref.ID)
	return dbErr("lock entity", err)
}

func (r *Repo) GetListing(ctx context.Context, ref domain.EntityRef) (domain.Listing, error) {
	var l domain.Listing
	err := r.q.QueryRowContext(ctx, getListingSQL, ref.Kind, ref.ID).Scan(
		&l.Ref.Kind, &l.Ref.ID, &l.HostID, &l.MaxGuests, &l.BookingType, &l.CancellationPolicy,
		&l.UsesCapacity, &l.Country, &l.Region, &l.City,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, domain.NotFoundf("get listing", "listing %s not found", ref)
	}
	if err != nil {
		return domain.Listing{}, dbErr("get listing", err)
	}
	return l, nil
}

// UpsertListing mirrors listing metadata owned by the catalog service.
func (r *Repo) UpsertListing(ctx context.Context, l domain.Listing) error {
	_, err := r.q.ExecContext(ctx, upsertListingSQL,
		l.Ref.Kind, l.Ref.ID, l.HostID, l.MaxGuests, l.BookingType, l.CancellationPolicy,
		l.UsesCapacity, l.Country, l.Region, l.City,
	)
	return dbErr("upsert listing", err)
}

// dbErr maps driver errors onto domain kinds.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDuplicateKey:
			return domain.Conflictf(op, "duplicate key: %s", me.Message)
		case errDeadlock, errLockWaitTimeout:
			return domain.Conflictf(op, "concurrent update, retry: %s", me.Message)
		}
	}
	return domain.Persistence(op, err)
}

func notFound(op, what, id string) error {
	return domain.NotFoundf(op, "%s %s not found", what, id)
}

// rowErr turns sql.ErrNoRows into a not-found error.
func rowErr(op, what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(op, what, id)
	}
	return dbErr(op, err)
}

// mustAffect reports not-found when an UPDATE matched nothing. MySQL counts
// changed rows only, so a zero count is confirmed with a lookup.
func (r *Repo) mustAffect(ctx context.Context, op, table, what, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(op, err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	return rowErr(op, what, id, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ---------- argument helpers ----------

func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func valBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// valJSON encodes v, storing NULL for empty slices.
func valJSON[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func valRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// ---------- scan helpers ----------

func ptrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func ptrInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func ptrBool(n sql.NullBool) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Bool
	return &v
}

func decodeJSON[T any](op string, b []byte) ([]T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, domain.Persistence(op, err)
	}
	return out, nil
}
