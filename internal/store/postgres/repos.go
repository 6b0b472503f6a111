package postgres

import (
	"context"
	"fmt"
	"iter"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/fines"
	"librarium/internal/membership"

	"github.com/google/uuid"
)

func day(t time.Time) string {
	return t.Format(dateLayout)
}

func nullableDay(b *circulation.Borrowing) interface{} {
	if b.ReturnDate == nil {
		return nil
	}
	return day(*b.ReturnDate)
}

// normalizeBorrowing puts scanned DATE values at midnight UTC, the form the
// domain uses for calendar days.
func normalizeBorrowing(b *circulation.Borrowing) {
	b.BorrowDate = fines.Day(b.BorrowDate)
	b.DueDate = fines.Day(b.DueDate)
	if b.ReturnDate != nil {
		rd := fines.Day(*b.ReturnDate)
		b.ReturnDate = &rd
	}
}

type circulationRepo struct{ s *Store }

func (r circulationRepo) InTx(ctx context.Context, fn func(circulation.Tx) error) error {
	return r.s.inTx(ctx, "circulation", func(t *tx) error { return fn(t) })
}

// Overdue streams rows straight off the cursor. The query runs when
// iteration starts, and breaking out of the loop closes it.
func (r circulationRepo) Overdue(ctx context.Context, asOf time.Time) iter.Seq2[circulation.OverdueBorrowing, error] {
	return func(yield func(circulation.OverdueBorrowing, error) bool) {
		rows, err := r.s.db.QueryxContext(ctx, `
			SELECT b.id, b.book_id, b.user_id, b.borrow_date, b.due_date, b.return_date, b.status,
				b.renewal_count, b.version, bk.title AS book_title, u.full_name AS borrower
			FROM borrowings b
			JOIN books bk ON bk.id = b.book_id
			JOIN users u ON u.id = b.user_id
			WHERE b.status = 'borrowed' AND b.due_date < $1::date
			ORDER BY b.due_date ASC, b.borrow_date ASC, b.id ASC
		`, day(asOf))
		if err != nil {
			yield(circulation.OverdueBorrowing{}, fmt.Errorf("query overdue borrowings: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row circulation.OverdueBorrowing
			if err := rows.StructScan(&row); err != nil {
				yield(circulation.OverdueBorrowing{}, fmt.Errorf("scan overdue borrowing: %w", err))
				return
			}
			normalizeBorrowing(&row.Borrowing)
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(circulation.OverdueBorrowing{}, fmt.Errorf("iterate overdue borrowings: %w", err))
		}
	}
}

func (r circulationRepo) Stats(ctx context.Context, asOf time.Time) (*circulation.Stats, error) {
	var st circulation.Stats
	err := r.s.db.GetContext(ctx, &st, `
		SELECT
			(SELECT COUNT(*) FROM borrowings WHERE status = 'borrowed') AS active_borrowings,
			(SELECT COUNT(*) FROM borrowings WHERE status = 'borrowed' AND due_date < $1::date) AS overdue_borrowings,
			(SELECT COALESCE(SUM(amount - paid_amount), 0) FROM fines WHERE status <> 'paid') AS outstanding_fines
	`, day(asOf))
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return &st, nil
}

func (r circulationRepo) UserBorrowings(ctx context.Context, userID uuid.UUID) ([]circulation.Borrowing, error) {
	var out []circulation.Borrowing
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT `+borrowingColumns+` FROM borrowings
		WHERE user_id = $1
		ORDER BY borrow_date DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list borrowings: %w", err)
	}
	for i := range out {
		normalizeBorrowing(&out[i])
	}
	return out, nil
}

func (r circulationRepo) GetBorrowing(ctx context.Context, id uuid.UUID) (*circulation.Borrowing, error) {
	var b circulation.Borrowing
	err := r.s.db.GetContext(ctx, &b, `SELECT `+borrowingColumns+` FROM borrowings WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	normalizeBorrowing(&b)
	return &b, nil
}

type finesRepo struct{ s *Store }

func (r finesRepo) InTx(ctx context.Context, fn func(fines.Tx) error) error {
	return r.s.inTx(ctx, "fines", func(t *tx) error { return fn(t) })
}

func (r finesRepo) GetFine(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	var f fines.Fine
	if err := r.s.db.GetContext(ctx, &f, `SELECT `+fineColumns+` FROM fines WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r finesRepo) FinesByUser(ctx context.Context, userID uuid.UUID) ([]fines.Fine, error) {
	var out []fines.Fine
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT `+fineColumns+` FROM fines WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list fines: %w", err)
	}
	return out, nil
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	return r.s.inTx(ctx, "catalog", func(t *tx) error { return fn(t) })
}

func (r catalogRepo) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var b catalog.Book
	if err := r.s.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r catalogRepo) ListBooks(ctx context.Context, limit, offset int) ([]catalog.Book, error) {
	var out []catalog.Book
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT `+bookColumns+` FROM books ORDER BY title, id LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return out, nil
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) InTx(ctx context.Context, fn func(membership.Tx) error) error {
	return r.s.inTx(ctx, "membership", func(t *tx) error { return fn(t) })
}

func (r membershipRepo) GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	var u membership.User
	if err := r.s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}
