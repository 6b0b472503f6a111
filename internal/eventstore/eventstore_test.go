package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to PostgreSQL using the PG* variables and skips the
// test when no server is reachable.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"),
		getenv("PGPORT", "5432"),
		getenv("PGUSER", "user"),
		getenv("PGPASSWORD", "password"),
		getenv("PGDATABASE", "testdb"),
	)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type testPayload struct {
	Message string `json:"message"`
}

func TestNewEvent(t *testing.T) {
	id := uuid.New()
	ev, err := NewEvent(id, "borrowing", "BookBorrowed", 1, testPayload{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, id, ev.AggregateID)
	assert.Equal(t, "borrowing", ev.AggregateType)
	assert.Equal(t, 1, ev.Version)

	var decoded testPayload
	require.NoError(t, json.Unmarshal(ev.EventData, &decoded))
	assert.Equal(t, "hello", decoded.Message)
}

func TestNewEventRejectsZeroVersion(t *testing.T) {
	_, err := NewEvent(uuid.New(), "borrowing", "BookBorrowed", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestAppendAndLoad(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	es := NewEventStore()
	id := uuid.New()

	first, err := NewEvent(id, "borrowing", "BookBorrowed", 1, testPayload{Message: "one"})
	require.NoError(t, err)
	second, err := NewEvent(id, "borrowing", "BookReturned", 2, testPayload{Message: "two"})
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, es.Append(ctx, tx, first, second))
	require.NoError(t, tx.Commit())

	events, err := es.Load(ctx, db, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "BookBorrowed", events[0].EventType)
	assert.Equal(t, "BookReturned", events[1].EventType)
}

func TestAppendDuplicateVersionConflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	es := NewEventStore()
	id := uuid.New()

	ev, err := NewEvent(id, "fine", "FineAssessed", 1, testPayload{})
	require.NoError(t, err)
	require.NoError(t, es.Append(ctx, db, ev))

	err = es.Append(ctx, db, ev)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	es := NewEventStore()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		ev, err := NewEvent(uuid.New(), "bench", "BenchEvent", 1, testPayload{Message: fmt.Sprintf("event %d", i)})
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		if err := es.Append(context.Background(), db, ev); err != nil {
			b.Fatalf("Append failed: %v", err)
		}
	}
}
