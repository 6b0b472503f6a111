// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"librarium/internal/eventstore"
	"librarium/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	repo     Repository
	logger   *zap.Logger
	now      func() time.Time
	maxTries uint
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, logger *zap.Logger) Service {
	return &service{
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		maxTries: store.DefaultMaxTries,
	}
}

// AddBook creates a new book with every copy available.
func (s *service) AddBook(ctx context.Context, isbn, title, author string, quantity int) (*Book, error) {
	title, author, isbn = strings.TrimSpace(title), strings.TrimSpace(author), strings.TrimSpace(isbn)
	if title == "" || author == "" {
		return nil, ErrInvalidBook
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	now := s.now().UTC()
	book := &Book{
		ID:        uuid.New(),
		ISBN:      isbn,
		Title:     title,
		Author:    author,
		Quantity:  quantity,
		Available: quantity,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	event, err := eventstore.NewEvent(book.ID, AggregateType, EventBookAdded, book.Version, BookAddedEvent{
		ID:       book.ID,
		ISBN:     book.ISBN,
		Title:    book.Title,
		Author:   book.Author,
		Quantity: book.Quantity,
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertBook(ctx, book); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateISBN
			}
			return fmt.Errorf("failed to insert book: %w", err)
		}
		return tx.AppendEvents(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("book added", zap.String("book_id", book.ID.String()), zap.Int("quantity", quantity))
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.repo.GetBook(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// ListBooks returns one page of the catalog ordered by title.
func (s *service) ListBooks(ctx context.Context, limit, offset int) ([]Book, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidPage
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	books, err := s.repo.ListBooks(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// SetQuantity changes the number of owned copies. The new quantity must
// still cover every copy on loan; availability is recomputed from it.
func (s *service) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) (*Book, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	return store.Retry(ctx, s.maxTries, func() (*Book, error) {
		var out *Book
		err := s.repo.InTx(ctx, func(tx Tx) error {
			book, err := tx.LockBook(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return ErrBookNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to lock book: %w", err)
			}

			onLoan, err := tx.CountBookLoans(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to count borrowings: %w", err)
			}
			if quantity < onLoan {
				return ErrInvalidQuantity
			}

			old := book.Quantity
			book.Quantity = quantity
			book.Available = quantity - onLoan
			book.Version++
			book.UpdatedAt = s.now().UTC()

			event, err := eventstore.NewEvent(book.ID, AggregateType, EventQuantityChanged, book.Version, QuantityChangedEvent{
				ID:           book.ID,
				OldQuantity:  old,
				NewQuantity:  quantity,
				NewAvailable: book.Available,
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateBook(ctx, book); err != nil {
				return fmt.Errorf("failed to update book: %w", err)
			}
			if err := tx.AppendEvents(ctx, event); err != nil {
				return err
			}
			out = book
			return nil
		})
		return out, err
	})
}

// DeleteBook removes a book that has no copies on loan.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	_, err := store.Retry(ctx, s.maxTries, func() (struct{}, error) {
		return struct{}{}, s.repo.InTx(ctx, func(tx Tx) error {
			book, err := tx.LockBook(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return ErrBookNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to lock book: %w", err)
			}

			onLoan, err := tx.CountBookLoans(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to count borrowings: %w", err)
			}
			if onLoan > 0 {
				return ErrHasOpenBorrowings
			}

			event, err := eventstore.NewEvent(book.ID, AggregateType, EventBookDeleted, book.Version+1, BookDeletedEvent{
				ID:    book.ID,
				Title: book.Title,
			})
			if err != nil {
				return err
			}
			if err := tx.DeleteBook(ctx, id); err != nil {
				return fmt.Errorf("failed to delete book: %w", err)
			}
			return tx.AppendEvents(ctx, event)
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("book deleted", zap.String("book_id", id.String()))
	return nil
}
