// Package postgres stores the engine's state in PostgreSQL through sqlx and
// lib/pq. Mutations run in one database transaction each; a circuit breaker
// turns a failing database into fast StorageUnavailable errors.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ membership.Repository = (*MemberRepo)(nil)
	_ membership.Tx         = (*tx)(nil)
	_ attendance.Repository = (*LedgerRepo)(nil)
	_ attendance.Tx         = (*tx)(nil)
	_ plans.Repository      = (*Store)(nil)
	_ payments.Repository   = (*Store)(nil)
)

// Constraint names the store translates into domain errors.
const (
	constraintMemberCode  = "members_member_code_key"
	constraintOneOpenSess = "attendance_one_open_per_member"
)

// codeLockKey is the advisory lock serializing member code allocation.
const codeLockKey int64 = 0x67796d_636f6465

// Config tunes the connection pool and circuit breaker.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// Store is the PostgreSQL implementation of every repository.
type Store struct {
	db      *sqlx.DB
	events  *eventstore.EventStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Open connects to cfg.DSN, verifies the connection and applies migrations
// when cfg.Migrate is set.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.Migrate {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}
	return New(db, cfg, logger), nil
}

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// New wraps an open database.
func New(db *sqlx.DB, cfg Config, logger *zap.Logger) *Store {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "postgres",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about the database.
			if errors.Is(err, context.Canceled) {
				return true
			}
			return !apperr.Is(err, apperr.KindStorageUnavailable)
		},
	})
	return &Store{
		db:      db,
		events:  eventstore.NewEventStore(db),
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("gymdesk/store/postgres"),
	}
}

// Members returns the member registry view of the store.
func (s *Store) Members() *MemberRepo { return &MemberRepo{s: s} }

// Attendance returns the session ledger view of the store.
func (s *Store) Attendance() *LedgerRepo { return &LedgerRepo{s: s} }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.run("postgres.Ping", apperr.KindUnknown, func() error {
		return s.db.PingContext(ctx)
	})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// run executes fn through the circuit breaker and translates its error.
// fkKind is the kind reported for a foreign key violation.
func (s *Store) run(op string, fkKind apperr.Kind, fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, translate(op, fkKind, fn())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.KindStorageUnavailable, op, err)
	}
	return err
}

func (s *Store) withinTx(ctx context.Context, fn func(t *tx) error) error {
	ctx, span := s.tracer.Start(ctx, "postgres.tx")
	defer span.End()

	err := s.run("postgres.WithinTx", apperr.KindNotFound, func() error {
		sqlTx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(&tx{tx: sqlTx, store: s}); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		return sqlTx.Commit()
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// translate maps driver errors onto error kinds. Errors that already carry a
// kind pass through.
func translate(op string, fkKind apperr.Kind, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindStorageUnavailable, op, err)
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return apperr.Wrap(apperr.KindAllocationConflict, op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505" && pqErr.Constraint == constraintOneOpenSess:
			return apperr.E(apperr.KindAlreadyCheckedIn, op, "member already has an open session")
		case pqErr.Code == "23505" && pqErr.Constraint == constraintMemberCode:
			return apperr.E(apperr.KindAllocationConflict, op, "member code already issued")
		case pqErr.Code == "23505":
			return apperr.Wrap(apperr.KindAllocationConflict, op, err)
		case pqErr.Code == "23503" && fkKind == apperr.KindReferenced:
			return apperr.E(apperr.KindReferenced, op, "record is still referenced (%s)", pqErr.Constraint)
		case pqErr.Code == "23503":
			return apperr.E(apperr.KindNotFound, op, "referenced record does not exist (%s)", pqErr.Constraint)
		case pqErr.Code == "23514":
			return apperr.E(apperr.KindInvalid, op, "value rejected by %s", pqErr.Constraint)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code.Class() == "53":
			return apperr.Wrap(apperr.KindStorageUnavailable, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return apperr.Wrap(apperr.KindStorageUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Recent returns the newest audit events across aggregates.
func (s *Store) Recent(ctx context.Context, limit int) ([]eventstore.Event, error) {
	var events []eventstore.Event
	err := s.run("postgres.Recent", apperr.KindUnknown, func() error {
		var err error
		events, err = s.events.Recent(ctx, limit)
		return err
	})
	return events, err
}

// tx implements both membership.Tx and attendance.Tx.
type tx struct {
	tx    *sqlx.Tx
	store *Store
}

func (t *tx) AppendEvent(ctx context.Context, e eventstore.Event) error {
	if err := t.store.events.Append(ctx, t.tx, e); err != nil {
		if errors.Is(err, eventstore.ErrInvalidEvent) {
			return apperr.Wrap(apperr.KindInvalid, "postgres.AppendEvent", err)
		}
		return translate("postgres.AppendEvent", apperr.KindUnknown, err)
	}
	return nil
}
