package txn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/contextkeys"
	"github.com/platinummonkey/setlist/pkg/observability"
)

// Scope is one request's connection and transaction. It finalizes at most
// once: the first Finish wins and every later call is a no-op.
type Scope struct {
	conn    Conn
	tx      Tx
	started time.Time
	span    trace.Span

	finalized atomic.Bool

	mu          sync.Mutex
	failure     error
	afterCommit []func()
}

// Tx returns the open transaction
func (s *Scope) Tx() Tx {
	return s.tx
}

// MarkFailed records a failure; the scope will roll back
func (s *Scope) MarkFailed(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
}

// Failure returns the first recorded failure
func (s *Scope) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// OnCommit queues fn to run after a successful COMMIT. Queued functions are
// dropped on rollback. Once the scope is finalized fn runs immediately.
func (s *Scope) OnCommit(fn func()) {
	s.mu.Lock()
	if !s.finalized.Load() {
		s.afterCommit = append(s.afterCommit, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Scope) runAfterCommit(logger *observability.Logger) {
	s.mu.Lock()
	hooks := s.afterCommit
	s.afterCommit = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		func() {
			defer observability.RecoverPanic(logger, "after commit hook")
			fn()
		}()
	}
}

func (s *Scope) dropAfterCommit() {
	s.mu.Lock()
	s.afterCommit = nil
	s.mu.Unlock()
}

// Finalized reports whether COMMIT or ROLLBACK has been issued
func (s *Scope) Finalized() bool {
	return s.finalized.Load()
}

// Manager owns the per-request transaction lifecycle
type Manager struct {
	pool    Pool
	txOpts  *sql.TxOptions
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Manager
type Option func(*Manager)

// WithTxOptions sets the isolation level and read-only flag for BEGIN
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(m *Manager) { m.txOpts = opts }
}

// WithMetrics records transaction outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger used for finalization failures
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a transaction lifecycle manager over pool
func NewManager(pool Pool, opts ...Option) *Manager {
	m := &Manager{
		pool:   pool,
		logger: observability.NopLogger(),
		tracer: observability.Tracer("github.com/platinummonkey/setlist/pkg/txn"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin acquires a connection and opens a transaction on it. If BEGIN fails
// the connection is released before the error is returned.
//
// The transaction is begun on a context detached from ctx's cancellation:
// database/sql would otherwise roll back behind our back when the client
// disconnects, and Finish must stay the only place that ends it.
func (m *Manager) Begin(ctx context.Context) (*Scope, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		m.metrics.RecordTxBeginFailed()
		return nil, apperrors.Internal("txn.Begin", fmt.Errorf("failed to acquire connection: %w", err))
	}

	_, span := m.tracer.Start(ctx, "txn.request")

	tx, err := conn.BeginTx(context.WithoutCancel(ctx), m.txOpts)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			m.logger.WithError(closeErr).Error("failed to release connection after BEGIN failure")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		span.End()
		m.metrics.RecordTxBeginFailed()
		return nil, apperrors.Internal("txn.Begin", fmt.Errorf("failed to begin transaction: %w", err))
	}

	m.metrics.RecordTxStarted()
	return &Scope{conn: conn, tx: tx, started: time.Now(), span: span}, nil
}

// Bind attaches the scope to ctx so stores and QuerierFrom can find it
func Bind(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextkeys.TxKey, s)
}

// Finish ends the scope: COMMIT when cause is nil and nothing marked the
// scope failed, ROLLBACK otherwise, then releases the connection. Only the
// first call does anything. Commit, rollback and release failures are
// returned as internal errors; a failed COMMIT is never retried.
func (m *Manager) Finish(s *Scope, cause error) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	first := s.finalized.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !first {
		return nil
	}

	if cause == nil {
		cause = s.Failure()
	}

	var (
		outcome string
		err     error
	)
	if cause == nil {
		outcome = observability.TxOutcomeCommit
		if commitErr := s.tx.Commit(); commitErr != nil {
			outcome = observability.TxOutcomeCommitFailed
			err = apperrors.Internal("txn.Finish", fmt.Errorf("failed to commit transaction: %w", commitErr))
		}
	} else {
		outcome = observability.TxOutcomeRollback
		if rbErr := s.tx.Rollback(); rbErr != nil {
			outcome = observability.TxOutcomeRollbackFailed
			err = apperrors.Internal("txn.Finish", fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
	}

	if closeErr := s.conn.Close(); closeErr != nil && err == nil {
		err = apperrors.Internal("txn.Finish", fmt.Errorf("failed to release connection: %w", closeErr))
	}

	if outcome == observability.TxOutcomeCommit {
		s.runAfterCommit(m.logger)
	} else {
		s.dropAfterCommit()
	}

	m.metrics.RecordTxFinished(outcome, time.Since(s.started))

	if s.span != nil {
		s.span.SetAttributes(attribute.String("txn.outcome", outcome))
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, outcome)
		}
		s.span.End()
	}

	if err != nil {
		logger := m.logger.WithError(err).WithField("outcome", outcome)
		if cause != nil {
			logger = logger.WithField("cause", cause.Error())
		}
		logger.Error("request transaction finalization failed")
	}

	return err
}
