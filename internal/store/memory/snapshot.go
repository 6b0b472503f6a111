package memory

import (
	"context"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/integrity"
	"librarium/internal/membership"

	"github.com/google/uuid"
)

// Snapshot implements integrity.Source.
func (s *Store) Snapshot(ctx context.Context) (*integrity.Snapshot, error) {
	snap := &integrity.Snapshot{}
	s.read(func(st *state) {
		bookLoans := map[uuid.UUID]int{}
		userLoans := map[uuid.UUID]int{}
		pairs := map[[2]uuid.UUID]int{}
		for _, b := range st.borrowings {
			if !b.Open() {
				continue
			}
			bookLoans[b.BookID]++
			userLoans[b.UserID]++
			pairs[[2]uuid.UUID{b.UserID, b.BookID}]++
		}

		for _, b := range st.books {
			snap.Books = append(snap.Books, integrity.BookCounters{
				ID:        b.ID,
				Quantity:  b.Quantity,
				Available: b.Available,
				OpenLoans: bookLoans[b.ID],
			})
		}
		for id, n := range userLoans {
			snap.UserLoans = append(snap.UserLoans, integrity.UserLoans{UserID: id, Open: n})
		}
		for k, n := range pairs {
			snap.Pairs = append(snap.Pairs, integrity.LoanPair{UserID: k[0], BookID: k[1], Open: n})
		}
		for _, f := range st.fines {
			snap.Fines = append(snap.Fines, f)
		}
	})
	return snap, nil
}

var (
	_ integrity.Source = (*Store)(nil)
	_ circulation.Tx   = (*tx)(nil)
	_ catalog.Tx       = (*tx)(nil)
	_ membership.Tx    = (*tx)(nil)
)
