// Package sqlstore implements crud.Client on top of database/sql for
// PostgreSQL (lib/pq or pgx) and SQLite (go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/conduit-lang/restful/internal/orm/transaction"
	"go.uber.org/zap"
)

// Querier is the subset of *sql.DB and *sql.Tx used by the store
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store reads and writes models in a SQL database
type Store struct {
	db      *sql.DB
	meta    *schema.Meta
	dialect Dialect
	txm     *transaction.Manager
	policy  crud.Policy
	logger  *zap.Logger
	now     func() time.Time
	retry   *transaction.RetryConfig
}

// Option configures a Store
type Option func(*Store)

// WithPolicy replaces the default deny-rule policy
func WithPolicy(p crud.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source used for "now" defaults
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetry sets how writes are retried on conflicts
func WithRetry(cfg *transaction.RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// New creates a store over db
func New(db *sql.DB, dialect Dialect, meta *schema.Meta, opts ...Option) *Store {
	s := &Store{
		db:      db,
		meta:    meta,
		dialect: dialect,
		policy:  crud.DenyRules,
		logger:  zap.NewNop(),
		now:     time.Now,
		retry:   transaction.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.txm = transaction.NewManager(db,
		transaction.WithRetryPolicy(s.retry),
		transaction.WithLogger(s.logger),
	)
	return s
}

var _ crud.Client = (*Store)(nil)

// Dialect returns the SQL dialect of the store
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) resolve(ctx context.Context, name string, op crud.Operation) (*schema.Model, *schema.Field, error) {
	m, ok := s.meta.Model(name)
	if !ok {
		return nil, nil, crud.Validation("unknown model %q", name)
	}
	pk, err := m.PrimaryKey()
	if err != nil {
		return nil, nil, crud.Validation("%v", err)
	}
	if err := s.policy.Authorize(ctx, m, op); err != nil {
		return nil, nil, err
	}
	return m, pk, nil
}

func (s *Store) loader(q Querier) *loader {
	return &loader{meta: s.meta, dialect: s.dialect, logger: s.logger, q: q}
}

// FindMany returns the records matching args
func (s *Store) FindMany(ctx context.Context, model string, args query.FindArgs) ([]crud.Record, error) {
	m, _, err := s.resolve(ctx, model, crud.OperationRead)
	if err != nil {
		return nil, err
	}
	recs, err := s.loader(s.db).find(ctx, m, args)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return recs, nil
}

// FindUnique returns the first record matching args or nil
func (s *Store) FindUnique(ctx context.Context, model string, args query.FindArgs) (crud.Record, error) {
	args.Skip = 0
	args.Take = 1
	recs, err := s.FindMany(ctx, model, args)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Count returns the number of records matching where
func (s *Store) Count(ctx context.Context, model string, where query.Filter) (int64, error) {
	m, _, err := s.resolve(ctx, model, crud.OperationRead)
	if err != nil {
		return 0, err
	}
	n, err := s.loader(s.db).count(ctx, m, where)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	return n, nil
}

// Create inserts a record
func (s *Store) Create(ctx context.Context, model string, args crud.WriteArgs) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationCreate)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, func(w *writer) (crud.Record, error) {
		id, err := w.create(ctx, m, pk, args.Data, args.Relations)
		if err != nil {
			return nil, err
		}
		return w.reload(ctx, m, pk, id, args.Include)
	})
}

// Update changes the first record matching args.Where
func (s *Store) Update(ctx context.Context, model string, args crud.WriteArgs) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationUpdate)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, func(w *writer) (crud.Record, error) {
		id, err := w.update(ctx, m, pk, args.Where, args.Data, args.Relations)
		if err != nil {
			return nil, err
		}
		return w.reload(ctx, m, pk, id, args.Include)
	})
}

// Delete removes the first record matching where
func (s *Store) Delete(ctx context.Context, model string, where query.Filter) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationDelete)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, func(w *writer) (crud.Record, error) {
		return w.delete(ctx, m, pk, where)
	})
}

// write runs fn in a transaction, retrying conflicts
func (s *Store) write(ctx context.Context, fn func(w *writer) (crud.Record, error)) (crud.Record, error) {
	var rec crud.Record
	err := s.txm.WithRetry(ctx, func(tx *sql.Tx) error {
		w := &writer{loader: s.loader(tx), now: s.now}
		var err error
		rec, err = fn(w)
		return err
	})
	if err != nil {
		s.logger.Debug("write rolled back", zap.Error(err))
		return nil, ConvertDBError(err)
	}
	return rec, nil
}
