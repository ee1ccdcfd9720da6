package eventstore

import (
	"context"
	"database/sql"
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
	ErrInvalidEvent        = errors.New("invalid event")
)

// Aggregate types recorded by the engine.
const (
	AggregateMember  = "member"
	AggregateSession = "session"
)

// Event is one audit record of a state change.
type Event struct {
	ID            int64                  `json:"id" db:"id"`
	EventID       uuid.UUID              `json:"event_id" db:"event_id"`
	AggregateType string                 `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   int64                  `json:"aggregate_id" db:"aggregate_id"`
	EventType     string                 `json:"event_type" db:"event_type"`
	EventData     json.RawMessage        `json:"event_data" db:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"-"`
	Version       int                    `json:"version" db:"version"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// New builds an unversioned event with a JSON payload.
func New(aggregateType string, aggregateID int64, eventType string, payload interface{}, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventID:       uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		EventData:     data,
		CreatedAt:     at.UTC(),
	}, nil
}

// WithActor records who caused the event.
func (e Event) WithActor(actor string) Event {
	if actor == "" {
		return e
	}
	md := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md["actor"] = actor
	e.Metadata = md
	return e
}

// Validate checks the fields every stored event needs.
func (e Event) Validate() error {
	if e.AggregateType == "" || e.EventType == "" || e.AggregateID <= 0 {
		return ErrInvalidEvent
	}
	return nil
}

// EventStore persists events in postgres.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewEventStore creates an event store over db.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("gymdesk/eventstore"),
	}
}

// Append writes events inside the caller's transaction. Each event gets the
// next version of its aggregate; a concurrent writer that claims the same
// version fails with ErrConcurrencyConflict.
func (es *EventStore) Append(ctx context.Context, tx *sqlx.Tx, events ...Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	for i := range events {
		event := &events[i]
		if err := event.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}

		var currentVersion int
		err := tx.QueryRowxContext(ctx, `
			SELECT COALESCE(MAX(version), 0)
			FROM events
			WHERE aggregate_type = $1 AND aggregate_id = $2
		`, event.AggregateType, event.AggregateID).Scan(&currentVersion)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("query current version: %w", err)
		}
		event.Version = currentVersion + 1

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO events (event_id, aggregate_type, aggregate_id, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, event.EventID, event.AggregateType, event.AggregateID, event.EventType,
			[]byte(event.EventData), metadataJSON, event.Version, event.CreatedAt).Scan(&event.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", event.ID),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}
	return nil
}

type eventRow struct {
	Event
	MetadataJSON []byte `db:"metadata"`
}

func (r eventRow) toEvent() Event {
	e := r.Event
	if len(r.MetadataJSON) > 0 {
		_ = json.Unmarshal(r.MetadataJSON, &e.Metadata)
	}
	return e
}

// Load returns the events of one aggregate in version order.
func (es *EventStore) Load(ctx context.Context, aggregateType string, aggregateID int64) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.Int64("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY version ASC
	`, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Recent returns the newest events across all aggregates.
func (es *EventStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.recent",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, event_data, metadata, version, created_at
		FROM events
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}
