// Package store implements the scheduling repositories on PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/database"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

var dialect = goqu.Dialect("postgres")

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// repos binds the repositories to one querier
type repos struct {
	q querier
}

func (r repos) Availability() interfaces.AvailabilityRepository {
	return &availabilityRepo{q: r.q}
}

func (r repos) Appointments() interfaces.AppointmentRepository {
	return &appointmentRepo{q: r.q}
}

func (r repos) Queues() interfaces.QueueRepository {
	return &queueRepo{q: r.q}
}

// Store is the PostgreSQL unit of work. Repositories obtained directly from
// Store run in autocommit mode; those handed to Atomic share one transaction.
type Store struct {
	repos
	db      *database.DB
	metrics *monitoring.MetricsCollector
}

// New creates a Store over an open connection pool
func New(db *database.DB, metrics *monitoring.MetricsCollector) *Store {
	return &Store{
		repos:   repos{q: db.DB},
		db:      db,
		metrics: metrics,
	}
}

// Atomic implements interfaces.UnitOfWork
func (s *Store) Atomic(ctx context.Context, keys []types.LockKey, fn func(interfaces.Repositories) error) error {
	locks := make([]string, len(keys))
	for i, k := range keys {
		locks[i] = string(k)
	}

	ctx, span := monitoring.StartSpan(ctx, "store", "atomic", attribute.StringSlice("lock.keys", locks))
	start := time.Now()

	err := s.db.InTx(ctx, locks, func(tx *sql.Tx) error {
		return fn(repos{q: tx})
	})

	s.metrics.RecordUnitOfWork(err == nil, time.Since(start))
	monitoring.EndSpan(span, err)
	return err
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func exec(ctx context.Context, q querier, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func queryRow(ctx context.Context, q querier, b sqlBuilder) (*sql.Row, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

func query(ctx context.Context, q querier, b sqlBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

func dateParam(t time.Time) string {
	return t.Format(types.DateLayout)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
