package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/fines"
	"librarium/internal/membership"
	"librarium/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type circulationRepo struct{ s *Store }

func (r circulationRepo) InTx(ctx context.Context, fn func(circulation.Tx) error) error {
	return r.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

// Overdue snapshots the matching rows when iteration starts and yields
// them in order. Each range takes a fresh snapshot.
func (r circulationRepo) Overdue(ctx context.Context, asOf time.Time) iter.Seq2[circulation.OverdueBorrowing, error] {
	return func(yield func(circulation.OverdueBorrowing, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(circulation.OverdueBorrowing{}, err)
			return
		}

		var rows []circulation.OverdueBorrowing
		r.s.read(func(st *state) {
			for _, b := range st.borrowings {
				if !b.Open() || !b.DueDate.Before(asOf) {
					continue
				}
				rows = append(rows, circulation.OverdueBorrowing{
					Borrowing: b,
					BookTitle: st.books[b.BookID].Title,
					Borrower:  st.users[b.UserID].FullName,
				})
			}
		})
		slices.SortFunc(rows, func(a, b circulation.OverdueBorrowing) int {
			if c := a.DueDate.Compare(b.DueDate); c != 0 {
				return c
			}
			if c := a.BorrowDate.Compare(b.BorrowDate); c != 0 {
				return c
			}
			return cmp.Compare(a.ID.String(), b.ID.String())
		})

		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (r circulationRepo) Stats(ctx context.Context, asOf time.Time) (*circulation.Stats, error) {
	st := &circulation.Stats{OutstandingFines: decimal.Zero}
	r.s.read(func(s *state) {
		for _, b := range s.borrowings {
			if !b.Open() {
				continue
			}
			st.ActiveBorrowings++
			if b.DueDate.Before(asOf) {
				st.OverdueBorrowings++
			}
		}
		for _, f := range s.fines {
			if f.Status != fines.StatusPaid {
				st.OutstandingFines = st.OutstandingFines.Add(f.Outstanding())
			}
		}
	})
	return st, nil
}

func (r circulationRepo) UserBorrowings(ctx context.Context, userID uuid.UUID) ([]circulation.Borrowing, error) {
	var out []circulation.Borrowing
	r.s.read(func(st *state) {
		for _, b := range st.borrowings {
			if b.UserID == userID {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b circulation.Borrowing) int {
		if c := b.BorrowDate.Compare(a.BorrowDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return out, nil
}

func (r circulationRepo) GetBorrowing(ctx context.Context, id uuid.UUID) (*circulation.Borrowing, error) {
	var (
		b  circulation.Borrowing
		ok bool
	)
	r.s.read(func(st *state) { b, ok = st.borrowings[id] })
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

type finesRepo struct{ s *Store }

func (r finesRepo) InTx(ctx context.Context, fn func(fines.Tx) error) error {
	return r.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (r finesRepo) GetFine(ctx context.Context, id uuid.UUID) (*fines.Fine, error) {
	var (
		f  fines.Fine
		ok bool
	)
	r.s.read(func(st *state) { f, ok = st.fines[id] })
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (r finesRepo) FinesByUser(ctx context.Context, userID uuid.UUID) ([]fines.Fine, error) {
	var out []fines.Fine
	r.s.read(func(st *state) {
		for _, f := range st.fines {
			if f.UserID == userID {
				out = append(out, f)
			}
		}
	})
	slices.SortFunc(out, func(a, b fines.Fine) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	return r.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (r catalogRepo) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var (
		b  catalog.Book
		ok bool
	)
	r.s.read(func(st *state) { b, ok = st.books[id] })
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r catalogRepo) ListBooks(ctx context.Context, limit, offset int) ([]catalog.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var all []catalog.Book
	r.s.read(func(st *state) {
		for _, b := range st.books {
			all = append(all, b)
		}
	})
	slices.SortFunc(all, func(a, b catalog.Book) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	return all[:min(limit, len(all))], nil
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) InTx(ctx context.Context, fn func(membership.Tx) error) error {
	return r.s.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (r membershipRepo) GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	var (
		u  membership.User
		ok bool
	)
	r.s.read(func(st *state) { u, ok = st.users[id] })
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}
