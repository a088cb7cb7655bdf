// Package memstore is an in-memory implementation of crud.Client. Writes run
// against a copy of the store state which replaces the live state only when
// the whole operation succeeds.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"go.uber.org/zap"
)

// Store keeps every table in memory
type Store struct {
	meta   *schema.Meta
	policy crud.Policy
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state *state
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

// New creates an empty store for the models in meta
func New(meta *schema.Meta, opts ...Option) *Store {
	s := &Store{
		meta:   meta,
		policy: crud.DenyRules,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ crud.Client = (*Store)(nil)

type state struct {
	tables map[string][]crud.Record
	seq    map[string]int64
}

func newState() *state {
	return &state{
		tables: make(map[string][]crud.Record),
		seq:    make(map[string]int64),
	}
}

// clone copies the table index and row slices. Rows themselves are shared
// and must be replaced, never edited, by writers.
func (st *state) clone() *state {
	out := &state{
		tables: make(map[string][]crud.Record, len(st.tables)),
		seq:    make(map[string]int64, len(st.seq)),
	}
	for name, rows := range st.tables {
		cp := make([]crud.Record, len(rows))
		copy(cp, rows)
		out.tables[name] = cp
	}
	for name, n := range st.seq {
		out.seq[name] = n
	}
	return out
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

// FindMany returns the records matching args
func (s *Store) FindMany(ctx context.Context, model string, args query.FindArgs) ([]crud.Record, error) {
	m, _, err := s.resolve(ctx, model, crud.OperationRead)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &reader{meta: s.meta, st: s.state}
	rows, err := r.selectRows(m, r.rows(m), args)
	if err != nil {
		return nil, err
	}

	out := make([]crud.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := r.project(m, row, args.Include, args.Count)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &reader{meta: s.meta, st: s.state}
	var n int64
	for _, row := range r.rows(m) {
		ok, err := r.match(m, row, where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Create inserts a record
func (s *Store) Create(ctx context.Context, model string, args crud.WriteArgs) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationCreate)
	if err != nil {
		return nil, err
	}

	return s.write(func(w *writer) (crud.Record, error) {
		row, err := w.create(m, pk, args.Data, args.Relations)
		if err != nil {
			return nil, err
		}
		return w.project(m, row, args.Include, nil)
	})
}

// Update changes the first record matching args.Where
func (s *Store) Update(ctx context.Context, model string, args crud.WriteArgs) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationUpdate)
	if err != nil {
		return nil, err
	}

	return s.write(func(w *writer) (crud.Record, error) {
		row, err := w.update(m, pk, args.Where, args.Data, args.Relations)
		if err != nil {
			return nil, err
		}
		return w.project(m, row, args.Include, nil)
	})
}

// Delete removes the first record matching where
func (s *Store) Delete(ctx context.Context, model string, where query.Filter) (crud.Record, error) {
	m, pk, err := s.resolve(ctx, model, crud.OperationDelete)
	if err != nil {
		return nil, err
	}

	return s.write(func(w *writer) (crud.Record, error) {
		row, err := w.delete(m, pk, where)
		if err != nil {
			return nil, err
		}
		return w.project(m, row, nil, nil)
	})
}

// write runs fn against a copy of the state and publishes the copy when fn
// succeeds
func (s *Store) write(fn func(w *writer) (crud.Record, error)) (crud.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	w := &writer{reader: reader{meta: s.meta, st: tx}, now: s.now}

	rec, err := fn(w)
	if err != nil {
		s.logger.Debug("write rolled back", zap.Error(err))
		return nil, err
	}

	s.state = tx
	return rec, nil
}
