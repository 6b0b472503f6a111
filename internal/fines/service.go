// internal/fines/service.go
package fines

import (
	"context"

	"librarium/internal/eventstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the fine ledger.
type Service interface {
	// AssessFine upserts the fine of a borrowing. A zero amount removes it.
	AssessFine(ctx context.Context, borrowingID uuid.UUID, amount decimal.Decimal) (*Assessment, error)
	// RecordPayment adds a payment towards a fine.
	RecordPayment(ctx context.Context, fineID uuid.UUID, amount decimal.Decimal) (*Fine, error)
	GetFine(ctx context.Context, id uuid.UUID) (*Fine, error)
	UserFines(ctx context.Context, userID uuid.UUID) ([]Fine, error)
}

// Tx is the transactional view of the fine ledger. Methods returning a
// fine hold a row lock on it until the transaction ends. Missing rows are
// reported as store.ErrNotFound.
type Tx interface {
	BorrowingOwner(ctx context.Context, borrowingID uuid.UUID) (uuid.UUID, error)
	FineByBorrowing(ctx context.Context, borrowingID uuid.UUID) (*Fine, error)
	LockFine(ctx context.Context, id uuid.UUID) (*Fine, error)
	SaveFine(ctx context.Context, f *Fine) error
	DeleteFine(ctx context.Context, id uuid.UUID) error
	AppendEvents(ctx context.Context, events ...eventstore.Event) error
}

// Repository persists fines.
type Repository interface {
	// InTx runs fn in one transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	GetFine(ctx context.Context, id uuid.UUID) (*Fine, error)
	FinesByUser(ctx context.Context, userID uuid.UUID) ([]Fine, error)
}

// Publisher delivers domain events to the event bus after commit.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// NopPublisher discards every event.
var NopPublisher Publisher = nopPublisher{}
