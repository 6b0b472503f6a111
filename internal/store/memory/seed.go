package memory

import (
	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/fines"
	"librarium/internal/membership"
)

// SeedUser stores a user directly, bypassing registration.
func (s *Store) SeedUser(u membership.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// SeedBook stores a book directly.
func (s *Store) SeedBook(b catalog.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.books[b.ID] = b
}

// SeedBorrowing stores a borrowing directly. Counters are not adjusted.
func (s *Store) SeedBorrowing(b circulation.Borrowing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.borrowings[b.ID] = b
}

// SeedFine stores a fine directly.
func (s *Store) SeedFine(f fines.Fine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.fines[f.ID] = f
}
