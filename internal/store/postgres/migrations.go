package postgres

import (
	"context"
	"fmt"

	"librarium/internal/eventstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'librarian', 'staff', 'student')),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'suspended')),
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users (LOWER(username));
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (LOWER(email));

	CREATE TABLE IF NOT EXISTS credentials (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		failed_attempts INT NOT NULL DEFAULT 0,
		locked_until TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS books (
		id UUID PRIMARY KEY,
		isbn TEXT UNIQUE,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 1),
		available_quantity INT NOT NULL,
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT books_available_bounds CHECK (available_quantity >= 0 AND available_quantity <= quantity)
	);

	CREATE TABLE IF NOT EXISTS borrowings (
		id UUID PRIMARY KEY,
		book_id UUID NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id),
		borrow_date DATE NOT NULL,
		due_date DATE NOT NULL,
		return_date DATE,
		status TEXT NOT NULL CHECK (status IN ('borrowed', 'returned')),
		renewal_count INT NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 1,
		CHECK (due_date >= borrow_date),
		CHECK ((status = 'returned') = (return_date IS NOT NULL))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowings_one_open
		ON borrowings (user_id, book_id) WHERE status = 'borrowed';
	CREATE INDEX IF NOT EXISTS idx_borrowings_user ON borrowings (user_id, borrow_date DESC);
	CREATE INDEX IF NOT EXISTS idx_borrowings_open_due
		ON borrowings (due_date, borrow_date) WHERE status = 'borrowed';

	CREATE TABLE IF NOT EXISTS fines (
		id UUID PRIMARY KEY,
		borrowing_id UUID NOT NULL UNIQUE REFERENCES borrowings(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id),
		amount NUMERIC(10,2) NOT NULL CHECK (amount >= 0),
		paid_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('unpaid', 'partial', 'paid')),
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT fines_paid_bounds CHECK (paid_amount >= 0 AND paid_amount <= amount)
	);
	CREATE INDEX IF NOT EXISTS idx_fines_user ON fines (user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		setting_name TEXT PRIMARY KEY,
		setting_value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, eventstore.Schema); err != nil {
		return fmt.Errorf("create events schema: %w", err)
	}
	return nil
}
