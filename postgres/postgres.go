package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/metrics"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

var _ canvas.Store = (*PGStore)(nil)

// PGStore implements canvas.Store using PostgreSQL via pgx.
type PGStore struct {
	db      DB
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures a PGStore.
type Option func(*PGStore)

// WithLogger sets the logger for failed store operations.
func WithLogger(l *zap.Logger) Option {
	return func(s *PGStore) { s.logger = l }
}

// WithMetrics records every store operation in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *PGStore) { s.metrics = m }
}

// New creates a new PGStore backed by the given pgx connection pool.
func New(db DB, opts ...Option) *PGStore {
	s := &PGStore{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for url and checks it is reachable.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *PGStore) observe(op string, err error) {
	s.metrics.RecordStoreOperation(op, err)
	if err != nil && !isClientError(err) {
		s.logger.Error("store operation failed", zap.String("operation", op), zap.Error(err))
	}
}

// isClientError reports whether err is caused by the request rather than
// the database.
func isClientError(err error) bool {
	return errors.Is(err, canvas.ErrWorkflowNotFound) ||
		errors.Is(err, canvas.ErrInvalidPayload) ||
		errors.Is(err, canvas.ErrTriggerNotFound) ||
		errors.Is(err, canvas.ErrActionNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
