package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is an audit record of a state change, appended in the same
// transaction as the change itself.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewEvent marshals data into an Event for the given aggregate version.
func NewEvent(aggregateID uuid.UUID, aggregateType, eventType string, version int, data interface{}) (Event, error) {
	if version < 1 {
		return Event{}, ErrInvalidVersion
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Schema creates the events table. (aggregate_id, version) is unique so two
// writers racing on the same aggregate cannot both commit.
const Schema = `
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		version INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (aggregate_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_id, version);
`

// EventStore writes and reads audit events through whatever transaction or
// connection the caller hands it.
type EventStore struct {
	tracer trace.Tracer
}

// NewEventStore creates an event store.
func NewEventStore() *EventStore {
	return &EventStore{
		tracer: otel.Tracer("librarium/eventstore"),
	}
}

// Append inserts events using ext, normally the caller's *sqlx.Tx.
func (es *EventStore) Append(ctx context.Context, ext sqlx.ExtContext, events ...Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	query := ext.Rebind(`
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	for i, event := range events {
		if event.Version < 1 {
			return ErrInvalidVersion
		}

		var eventID int64
		err := ext.QueryRowxContext(ctx, query,
			event.AggregateID,
			event.AggregateType,
			event.EventType,
			[]byte(event.EventData),
			event.Version,
			event.CreatedAt,
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.String("aggregate.id", event.AggregateID.String()),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}

	return nil
}

// Load returns the events of one aggregate from fromVersion on, oldest first.
func (es *EventStore) Load(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID, fromVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
		),
	)
	defer span.End()

	var events []Event
	err := sqlx.SelectContext(ctx, q, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE aggregate_id = $1 AND version >= $2
		ORDER BY version ASC
	`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Stream returns up to batchSize events with id greater than fromID.
func (es *EventStore) Stream(ctx context.Context, q sqlx.QueryerContext, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var events []Event
	err := sqlx.SelectContext(ctx, q, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}
