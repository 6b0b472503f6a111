package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/integrity"
	"librarium/internal/membership"
)

// Snapshot implements integrity.Source. The reads share one REPEATABLE READ
// transaction so they see the same state.
func (s *Store) Snapshot(ctx context.Context) (*integrity.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.snapshot")
	defer span.End()

	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer sqlTx.Rollback()

	snap := &integrity.Snapshot{}
	if err := sqlTx.SelectContext(ctx, &snap.Books, `
		SELECT bk.id, bk.quantity, bk.available_quantity,
			COUNT(b.id) FILTER (WHERE b.status = 'borrowed') AS open_loans
		FROM books bk
		LEFT JOIN borrowings b ON b.book_id = bk.id
		GROUP BY bk.id
	`); err != nil {
		return nil, fmt.Errorf("snapshot books: %w", err)
	}
	if err := sqlTx.SelectContext(ctx, &snap.UserLoans, `
		SELECT user_id, COUNT(*) AS "open"
		FROM borrowings WHERE status = 'borrowed'
		GROUP BY user_id
	`); err != nil {
		return nil, fmt.Errorf("snapshot user loans: %w", err)
	}
	if err := sqlTx.SelectContext(ctx, &snap.Pairs, `
		SELECT user_id, book_id, COUNT(*) AS "open"
		FROM borrowings WHERE status = 'borrowed'
		GROUP BY user_id, book_id
	`); err != nil {
		return nil, fmt.Errorf("snapshot loan pairs: %w", err)
	}
	if err := sqlTx.SelectContext(ctx, &snap.Fines, `SELECT `+fineColumns+` FROM fines`); err != nil {
		return nil, fmt.Errorf("snapshot fines: %w", err)
	}
	return snap, nil
}

var (
	_ integrity.Source = (*Store)(nil)
	_ circulation.Tx   = (*tx)(nil)
	_ catalog.Tx       = (*tx)(nil)
	_ membership.Tx    = (*tx)(nil)
)
