// Package postgres is the PostgreSQL store. Every service transaction runs
// at READ COMMITTED and takes row locks on what it reads before writing;
// serialization failures, deadlocks and unique or check violations surface
// as store.ErrConflict so callers can replay the transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/eventstore"
	"librarium/internal/fines"
	"librarium/internal/membership"
	"librarium/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// dateLayout is how calendar days are sent to DATE columns.
const dateLayout = "2006-01-02"

// Store is backed by a PostgreSQL connection pool.
type Store struct {
	db     *sqlx.DB
	events *eventstore.EventStore
	tracer trace.Tracer
}

// Open connects to dsn and sizes the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// New wraps an open database.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		events: eventstore.NewEventStore(),
		tracer: otel.Tracer("librarium/store/postgres"),
	}
}

func (s *Store) inTx(ctx context.Context, name string, fn func(*tx) error) (err error) {
	ctx, span := s.tracer.Start(ctx, "postgres.tx",
		trace.WithAttributes(attribute.String("tx.name", name)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Bool("conflict.detected", errors.Is(err, store.ErrConflict)))
		}
		span.End()
	}()

	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx, events: s.events}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

// Circulation returns the borrowing ledger view of the store.
func (s *Store) Circulation() circulation.Repository { return circulationRepo{s} }

// Fines returns the fine ledger view of the store.
func (s *Store) Fines() fines.Repository { return finesRepo{s} }

// Catalog returns the catalog view of the store.
func (s *Store) Catalog() catalog.Repository { return catalogRepo{s} }

// Membership returns the directory view of the store.
func (s *Store) Membership() membership.Repository { return membershipRepo{s} }

// Settings returns every row of the settings table.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name  string `db:"setting_name"`
		Value string `db:"setting_value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT setting_name, setting_value FROM settings`); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

// PutSetting inserts or replaces one setting.
func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (setting_name, setting_value) VALUES ($1, $2)
		ON CONFLICT (setting_name) DO UPDATE SET setting_value = EXCLUDED.setting_value, updated_at = NOW()
	`, name, value)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", name, err)
	}
	return nil
}

// AuditLog returns the recorded events of one aggregate, oldest first.
func (s *Store) AuditLog(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	return s.events.Load(ctx, s.db, aggregateID, 1)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"23505", // unique_violation
			"23514": // check_violation
			return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Message)
		}
	}
	return err
}

// isUniqueViolation reports a 23505 from the driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
