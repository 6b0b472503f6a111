package postgres

import (
	"context"
	"fmt"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/eventstore"
	"librarium/internal/fines"
	"librarium/internal/membership"
	"librarium/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	userColumns = `id, username, email, full_name, role, status, version, created_at, updated_at`

	bookColumns = `id, COALESCE(isbn, '') AS isbn, title, author, quantity, available_quantity,
		version, created_at, updated_at`

	borrowingColumns = `id, book_id, user_id, borrow_date, due_date, return_date, status,
		renewal_count, version`

	fineColumns = `id, borrowing_id, user_id, amount, paid_amount, status, version, created_at, updated_at`
)

// tx implements the Tx interfaces of every domain package over one
// database transaction.
type tx struct {
	tx     *sqlx.Tx
	events *eventstore.EventStore
}

// exec runs a write that must hit exactly one row.
func (t *tx) exec(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) AppendEvents(ctx context.Context, events ...eventstore.Event) error {
	if err := t.events.Append(ctx, t.tx, events...); err != nil {
		return fmt.Errorf("append events: %w", translate(err))
	}
	return nil
}

// Users.

func (t *tx) InsertUser(ctx context.Context, u *membership.User, c *membership.Credential) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, role, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Username, u.Email, u.FullName, u.Role, u.Status, u.Version, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, salt, failed_attempts, locked_until)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, c.PasswordHash, c.Salt, c.FailedAttempts, c.LockedUntil)
	if err != nil {
		return fmt.Errorf("insert credential: %w", translate(err))
	}
	return nil
}

func (t *tx) FindLogin(ctx context.Context, login string) (*membership.User, *membership.Credential, error) {
	var row struct {
		membership.User
		membership.Credential
	}
	err := t.tx.GetContext(ctx, &row, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.status, u.version, u.created_at, u.updated_at,
			c.user_id, c.password_hash, c.salt, c.failed_attempts, c.locked_until
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE LOWER(u.username) = LOWER($1) OR LOWER(u.email) = LOWER($1)
		LIMIT 1
		FOR UPDATE OF c
	`, login)
	if err != nil {
		return nil, nil, translate(err)
	}
	return &row.User, &row.Credential, nil
}

func (t *tx) SaveCredential(ctx context.Context, c *membership.Credential) error {
	return t.exec(ctx, "save credential", `
		UPDATE credentials
		SET password_hash = $2, salt = $3, failed_attempts = $4, locked_until = $5
		WHERE user_id = $1
	`, c.UserID, c.PasswordHash, c.Salt, c.FailedAttempts, c.LockedUntil)
}

func (t *tx) LockUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	var u membership.User
	err := t.tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *tx) UpdateUser(ctx context.Context, u *membership.User) error {
	return t.exec(ctx, "update user", `
		UPDATE users
		SET email = $2, full_name = $3, role = $4, status = $5, version = $6, updated_at = $7
		WHERE id = $1
	`, u.ID, u.Email, u.FullName, u.Role, u.Status, u.Version, u.UpdatedAt)
}

// Books.

func (t *tx) InsertBook(ctx context.Context, b *catalog.Book) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, author, quantity, available_quantity, version, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.ISBN, b.Title, b.Author, b.Quantity, b.Available, b.Version, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", translate(err))
	}
	return nil
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var b catalog.Book
	err := t.tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *tx) UpdateBook(ctx context.Context, b *catalog.Book) error {
	return t.exec(ctx, "update book", `
		UPDATE books
		SET isbn = NULLIF($2, ''), title = $3, author = $4, quantity = $5, available_quantity = $6,
			version = $7, updated_at = $8
		WHERE id = $1
	`, b.ID, b.ISBN, b.Title, b.Author, b.Quantity, b.Available, b.Version, b.UpdatedAt)
}

// SetAvailable relies on books_available_bounds; a value outside
// [0, quantity] fails the check and comes back as store.ErrConflict.
func (t *tx) SetAvailable(ctx context.Context, bookID uuid.UUID, available int) error {
	return t.exec(ctx, "set availability", `
		UPDATE books SET available_quantity = $2, updated_at = NOW() WHERE id = $1
	`, bookID, available)
}

func (t *tx) CountBookLoans(ctx context.Context, bookID uuid.UUID) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM borrowings WHERE book_id = $1 AND status = 'borrowed'
	`, bookID)
	if err != nil {
		return 0, fmt.Errorf("count book loans: %w", translate(err))
	}
	return n, nil
}

// DeleteBook relies on ON DELETE CASCADE for borrowings and fines.
func (t *tx) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return t.exec(ctx, "delete book", `DELETE FROM books WHERE id = $1`, id)
}

// Borrowings.

func (t *tx) CountOpenBorrowings(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM borrowings WHERE user_id = $1 AND status = 'borrowed'
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("count open borrowings: %w", translate(err))
	}
	return n, nil
}

func (t *tx) HasOpenBorrowing(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var open bool
	err := t.tx.GetContext(ctx, &open, `
		SELECT EXISTS (
			SELECT 1 FROM borrowings WHERE user_id = $1 AND book_id = $2 AND status = 'borrowed'
		)
	`, userID, bookID)
	if err != nil {
		return false, fmt.Errorf("check open borrowing: %w", translate(err))
	}
	return open, nil
}

// InsertBorrowing relies on idx_borrowings_one_open to refuse a second open
// loan of the same book by the same user.
func (t *tx) InsertBorrowing(ctx context.Context, b *circulation.Borrowing) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO borrowings (id, book_id, user_id, borrow_date, due_date, return_date, status, renewal_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.BookID, b.UserID, day(b.BorrowDate), day(b.DueDate), nullableDay(b), b.Status, b.RenewalCount, b.Version)
	if err != nil {
		return fmt.Errorf("insert borrowing: %w", translate(err))
	}
	return nil
}

func (t *tx) LockBorrowing(ctx context.Context, id uuid.UUID) (*circulation.Borrowing, error) {
	var b circulation.Borrowing
	err := t.tx.GetContext(ctx, &b, `SELECT `+borrowingColumns+` FROM borrowings WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translate(err)
	}
	normalizeBorrowing(&b)
	return &b, nil
}

func (t *tx) UpdateBorrowing(ctx context.Context, b *circulation.Borrowing) error {
	return t.exec(ctx, "update borrowing", `
		UPDATE borrowings
		SET due_date = $2, return_date = $3, status = $4, renewal_count = $5, version = $6
		WHERE id = $1
	`, b.ID, day(b.DueDate), nullableDay(b), b.Status, b.RenewalCount, b.Version)
}

// Fines.

func (t *tx) BorrowingOwner(ctx context.Context, borrowingID uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := t.tx.GetContext(ctx, &owner, `SELECT user_id FROM borrowings WHERE id = $1`, borrowingID)
	if err != nil {
		return uuid.Nil, translate(err)
	}
	return owner, nil
}

func (t *tx) FineByBorrowing(ctx context.Context, borrowingID uuid.UUID) (*fines.Fine, error) {
	var f fines.Fine
	err := t.tx.GetContext(ctx, &f, `SELECT `+fineColumns+` FROM fines WHERE borrowing_id = $1 FOR UPDATE`, borrowingID)
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (t *tx) LockFine(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	var f fines.Fine
	err := t.tx.GetContext(ctx, &f, `SELECT `+fineColumns+` FROM fines WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

// SaveFine upserts by id. A second fine for the same borrowing hits the
// unique borrowing_id and comes back as store.ErrConflict.
func (t *tx) SaveFine(ctx context.Context, f *fines.Fine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fines (id, borrowing_id, user_id, amount, paid_amount, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET amount = EXCLUDED.amount,
			paid_amount = EXCLUDED.paid_amount,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, f.ID, f.BorrowingID, f.UserID, f.Amount, f.PaidAmount, f.Status, f.Version, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save fine: %w", translate(err))
	}
	return nil
}

func (t *tx) DeleteFine(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM fines WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete fine: %w", translate(err))
	}
	return nil
}
