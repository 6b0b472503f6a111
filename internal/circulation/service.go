// internal/circulation/service.go
package circulation

import (
	"context"
	"iter"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/fines"
	"librarium/internal/membership"

	"github.com/google/uuid"
)

// Service is the only component that moves copies in and out.
type Service interface {
	Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error)
	Return(ctx context.Context, borrowingID uuid.UUID) (*ReturnResult, error)
	Renew(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error)
	// Overdue yields open overdue borrowings, most overdue first. Every
	// range over the sequence queries the store afresh.
	Overdue(ctx context.Context) iter.Seq2[OverdueBorrowing, error]
	Stats(ctx context.Context) (*Stats, error)
	History(ctx context.Context, userID uuid.UUID) ([]Borrowing, error)
	GetBorrowing(ctx context.Context, id uuid.UUID) (*Borrowing, error)
}

// Tx is the transactional view the service works through. Lock* methods
// hold row locks until the transaction ends and report missing rows as
// store.ErrNotFound. Conflicting writes surface as store.ErrConflict.
type Tx interface {
	fines.Tx

	LockUser(ctx context.Context, id uuid.UUID) (*membership.User, error)
	LockBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	SetAvailable(ctx context.Context, bookID uuid.UUID, available int) error
	CountOpenBorrowings(ctx context.Context, userID uuid.UUID) (int, error)
	HasOpenBorrowing(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	InsertBorrowing(ctx context.Context, b *Borrowing) error
	LockBorrowing(ctx context.Context, id uuid.UUID) (*Borrowing, error)
	UpdateBorrowing(ctx context.Context, b *Borrowing) error
}

// Repository persists borrowings.
type Repository interface {
	// InTx runs fn in one transaction, committing only if fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	// Overdue streams open borrowings due before asOf ordered by due date,
	// then borrow date, with book title and borrower name filled in.
	Overdue(ctx context.Context, asOf time.Time) iter.Seq2[OverdueBorrowing, error]
	Stats(ctx context.Context, asOf time.Time) (*Stats, error)
	// UserBorrowings lists a user's borrowings, newest first.
	UserBorrowings(ctx context.Context, userID uuid.UUID) ([]Borrowing, error)
	GetBorrowing(ctx context.Context, id uuid.UUID) (*Borrowing, error)
}
