// internal/catalog/service.go
package catalog

import (
	"context"

	"librarium/internal/eventstore"

	"github.com/google/uuid"
)

// Service defines the interface for catalog management.
type Service interface {
	AddBook(ctx context.Context, isbn, title, author string, quantity int) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, limit, offset int) ([]Book, error)
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

// Tx is the transactional view of the catalog. LockBook holds a row lock
// until the transaction ends.
type Tx interface {
	InsertBook(ctx context.Context, b *Book) error
	LockBook(ctx context.Context, id uuid.UUID) (*Book, error)
	CountBookLoans(ctx context.Context, bookID uuid.UUID) (int, error)
	UpdateBook(ctx context.Context, b *Book) error
	// DeleteBook removes the book with its closed borrowings and their fines.
	DeleteBook(ctx context.Context, id uuid.UUID) error
	AppendEvents(ctx context.Context, events ...eventstore.Event) error
}

// Repository persists books.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	// ListBooks returns one page of books ordered by title, then id.
	ListBooks(ctx context.Context, limit, offset int) ([]Book, error)
}
