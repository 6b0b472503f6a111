// Package memory is an in-process store. Transactions are serialised by a
// mutex and work on a copy of the state that replaces it on commit, so a
// failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/eventstore"
	"librarium/internal/fines"
	"librarium/internal/membership"
	"librarium/internal/store"

	"github.com/google/uuid"
)

type eventKey struct {
	aggregate uuid.UUID
	version   int
}

type state struct {
	users       map[uuid.UUID]membership.User
	credentials map[uuid.UUID]membership.Credential
	books       map[uuid.UUID]catalog.Book
	borrowings  map[uuid.UUID]circulation.Borrowing
	fines       map[uuid.UUID]fines.Fine
	settings    map[string]string
	events      []eventstore.Event
	eventKeys   map[eventKey]struct{}
}

func newState() *state {
	return &state{
		users:       map[uuid.UUID]membership.User{},
		credentials: map[uuid.UUID]membership.Credential{},
		books:       map[uuid.UUID]catalog.Book{},
		borrowings:  map[uuid.UUID]circulation.Borrowing{},
		fines:       map[uuid.UUID]fines.Fine{},
		settings:    map[string]string{},
		eventKeys:   map[eventKey]struct{}{},
	}
}

func (s *state) clone() *state {
	return &state{
		users:       maps.Clone(s.users),
		credentials: maps.Clone(s.credentials),
		books:       maps.Clone(s.books),
		borrowings:  maps.Clone(s.borrowings),
		fines:       maps.Clone(s.fines),
		settings:    maps.Clone(s.settings),
		events:      append([]eventstore.Event(nil), s.events...),
		eventKeys:   maps.Clone(s.eventKeys),
	}
}

// Store keeps every table in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) inTx(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.st.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

func (s *Store) read(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Circulation returns the borrowing ledger view of the store.
func (s *Store) Circulation() circulation.Repository { return circulationRepo{s} }

// Fines returns the fine ledger view of the store.
func (s *Store) Fines() fines.Repository { return finesRepo{s} }

// Catalog returns the catalog view of the store.
func (s *Store) Catalog() catalog.Repository { return catalogRepo{s} }

// Membership returns the directory view of the store.
func (s *Store) Membership() membership.Repository { return membershipRepo{s} }

// Events returns a copy of the audit log in append order.
func (s *Store) Events() []eventstore.Event {
	var out []eventstore.Event
	s.read(func(st *state) { out = append(out, st.events...) })
	return out
}

// Settings returns the stored policy overrides.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	s.read(func(st *state) { out = maps.Clone(st.settings) })
	return out, nil
}

// PutSetting stores one policy override.
func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	return s.inTx(ctx, func(t *tx) error {
		t.st.settings[name] = value
		return nil
	})
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// tx implements the Tx interfaces of every domain package.
type tx struct {
	st *state
}

func (t *tx) AppendEvents(ctx context.Context, events ...eventstore.Event) error {
	for _, ev := range events {
		if ev.Version < 1 {
			return eventstore.ErrInvalidVersion
		}
		k := eventKey{ev.AggregateID, ev.Version}
		if _, dup := t.st.eventKeys[k]; dup {
			return fmt.Errorf("append %s v%d: %w", ev.EventType, ev.Version, store.ErrConflict)
		}
		t.st.eventKeys[k] = struct{}{}
		ev.ID = int64(len(t.st.events) + 1)
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		t.st.events = append(t.st.events, ev)
	}
	return nil
}
