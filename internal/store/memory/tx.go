package memory

import (
	"context"
	"strings"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/fines"
	"librarium/internal/membership"
	"librarium/internal/store"

	"github.com/google/uuid"
)

// Users.

func (t *tx) InsertUser(ctx context.Context, u *membership.User, c *membership.Credential) error {
	for _, existing := range t.st.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return store.ErrDuplicate
		}
	}
	t.st.users[u.ID] = *u
	t.st.credentials[u.ID] = *c
	return nil
}

func (t *tx) FindLogin(ctx context.Context, login string) (*membership.User, *membership.Credential, error) {
	for _, u := range t.st.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			c, ok := t.st.credentials[u.ID]
			if !ok {
				return nil, nil, store.ErrNotFound
			}
			return &u, &c, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (t *tx) SaveCredential(ctx context.Context, c *membership.Credential) error {
	if _, ok := t.st.credentials[c.UserID]; !ok {
		return store.ErrNotFound
	}
	t.st.credentials[c.UserID] = *c
	return nil
}

func (t *tx) LockUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) UpdateUser(ctx context.Context, u *membership.User) error {
	if _, ok := t.st.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.users[u.ID] = *u
	return nil
}

// Books.

func (t *tx) InsertBook(ctx context.Context, b *catalog.Book) error {
	if b.ISBN != "" {
		for _, existing := range t.st.books {
			if existing.ISBN == b.ISBN {
				return store.ErrDuplicate
			}
		}
	}
	t.st.books[b.ID] = *b
	return nil
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	b, ok := t.st.books[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) UpdateBook(ctx context.Context, b *catalog.Book) error {
	if _, ok := t.st.books[b.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.books[b.ID] = *b
	return nil
}

func (t *tx) SetAvailable(ctx context.Context, bookID uuid.UUID, available int) error {
	b, ok := t.st.books[bookID]
	if !ok {
		return store.ErrNotFound
	}
	if available < 0 || available > b.Quantity {
		return store.ErrConflict
	}
	b.Available = available
	t.st.books[bookID] = b
	return nil
}

func (t *tx) CountBookLoans(ctx context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	for _, b := range t.st.borrowings {
		if b.BookID == bookID && b.Open() {
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.st.books[id]; !ok {
		return store.ErrNotFound
	}
	for bid, b := range t.st.borrowings {
		if b.BookID != id {
			continue
		}
		for fid, f := range t.st.fines {
			if f.BorrowingID == bid {
				delete(t.st.fines, fid)
			}
		}
		delete(t.st.borrowings, bid)
	}
	delete(t.st.books, id)
	return nil
}

// Borrowings.

func (t *tx) CountOpenBorrowings(ctx context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, b := range t.st.borrowings {
		if b.UserID == userID && b.Open() {
			n++
		}
	}
	return n, nil
}

func (t *tx) HasOpenBorrowing(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	for _, b := range t.st.borrowings {
		if b.UserID == userID && b.BookID == bookID && b.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertBorrowing(ctx context.Context, b *circulation.Borrowing) error {
	if open, _ := t.HasOpenBorrowing(ctx, b.UserID, b.BookID); open && b.Open() {
		return store.ErrConflict
	}
	t.st.borrowings[b.ID] = *b
	return nil
}

func (t *tx) LockBorrowing(ctx context.Context, id uuid.UUID) (*circulation.Borrowing, error) {
	b, ok := t.st.borrowings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) UpdateBorrowing(ctx context.Context, b *circulation.Borrowing) error {
	if _, ok := t.st.borrowings[b.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.borrowings[b.ID] = *b
	return nil
}

// Fines.

func (t *tx) BorrowingOwner(ctx context.Context, borrowingID uuid.UUID) (uuid.UUID, error) {
	b, ok := t.st.borrowings[borrowingID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return b.UserID, nil
}

func (t *tx) FineByBorrowing(ctx context.Context, borrowingID uuid.UUID) (*fines.Fine, error) {
	for _, f := range t.st.fines {
		if f.BorrowingID == borrowingID {
			return &f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) LockFine(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	f, ok := t.st.fines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (t *tx) SaveFine(ctx context.Context, f *fines.Fine) error {
	for id, existing := range t.st.fines {
		if existing.BorrowingID == f.BorrowingID && id != f.ID {
			return store.ErrConflict
		}
	}
	if f.PaidAmount.IsNegative() || f.PaidAmount.GreaterThan(f.Amount) {
		return store.ErrConflict
	}
	t.st.fines[f.ID] = *f
	return nil
}

func (t *tx) DeleteFine(ctx context.Context, id uuid.UUID) error {
	delete(t.st.fines, id)
	return nil
}
