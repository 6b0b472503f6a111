// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrInvalidBook       = errors.New("title and author are required")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1 and cover copies on loan")
	ErrHasOpenBorrowings = errors.New("book has open borrowings")
	ErrDuplicateISBN     = errors.New("isbn already in catalog")
	ErrInvalidPage       = errors.New("limit and offset must not be negative")
)

// Listing page sizes. A zero limit selects DefaultPageSize; larger limits
// are capped at MaxPageSize.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Book is a catalog title with its copy counters. Available only changes
// through the circulation service or a quantity change that keeps
// Available + open borrowings == Quantity.
type Book struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ISBN      string    `json:"isbn,omitempty" db:"isbn"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Available int       `json:"available_quantity" db:"available_quantity"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	AggregateType = "book"

	EventBookAdded       = "BookAdded"
	EventQuantityChanged = "BookQuantityChanged"
	EventBookDeleted     = "BookDeleted"
)

// BookAddedEvent is recorded when a title enters the catalog.
type BookAddedEvent struct {
	ID       uuid.UUID `json:"id"`
	ISBN     string    `json:"isbn,omitempty"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Quantity int       `json:"quantity"`
}

// QuantityChangedEvent is recorded when copies are added or withdrawn.
type QuantityChangedEvent struct {
	ID           uuid.UUID `json:"id"`
	OldQuantity  int       `json:"old_quantity"`
	NewQuantity  int       `json:"new_quantity"`
	NewAvailable int       `json:"new_available"`
}

// BookDeletedEvent is recorded when a title is removed.
type BookDeletedEvent struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}
