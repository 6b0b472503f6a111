// internal/circulation/domain.go
package circulation

import (
	"time"

	"librarium/internal/fines"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the stored state of a borrowing. Overdue is never stored; see
// IsOverdue.
type Status string

const (
	StatusBorrowed Status = "borrowed"
	StatusReturned Status = "returned"
)

// Borrowing is one loan of one copy of a book. Dates are calendar days
// held as midnight UTC.
type Borrowing struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	BookID       uuid.UUID  `json:"book_id" db:"book_id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	BorrowDate   time.Time  `json:"borrow_date" db:"borrow_date"`
	DueDate      time.Time  `json:"due_date" db:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status       Status     `json:"status" db:"status"`
	RenewalCount int        `json:"renewal_count" db:"renewal_count"`
	Version      int        `json:"version" db:"version"`
}

// Open reports whether the borrowing is still out.
func (b *Borrowing) Open() bool {
	return b.Status == StatusBorrowed
}

// IsOverdue reports whether b is open and its due date lies before asOf.
// It is the only place the due-date comparison is made.
func IsOverdue(b *Borrowing, asOf time.Time) bool {
	return b.Open() && fines.Day(b.DueDate).Before(fines.Day(asOf))
}

// OverdueBorrowing is an open, overdue borrowing decorated for reporting.
type OverdueBorrowing struct {
	Borrowing
	BookTitle    string          `json:"book_title" db:"book_title"`
	Borrower     string          `json:"borrower" db:"borrower"`
	DaysOverdue  int             `json:"days_overdue" db:"-"`
	AccruingFine decimal.Decimal `json:"accruing_fine" db:"-"`
}

// ReturnResult is the closed borrowing with the fine it produced, if any.
type ReturnResult struct {
	Borrowing *Borrowing  `json:"borrowing"`
	Fine      *fines.Fine `json:"fine,omitempty"`
	// FineCleared is set when a previously assessed fine was removed
	// because the item came back without a charge.
	FineCleared bool `json:"fine_cleared,omitempty"`
}

// Stats summarises circulation for the dashboard.
type Stats struct {
	ActiveBorrowings  int             `json:"active_borrowings" db:"active_borrowings"`
	OverdueBorrowings int             `json:"overdue_borrowings" db:"overdue_borrowings"`
	OutstandingFines  decimal.Decimal `json:"outstanding_fines" db:"outstanding_fines"`
}

const (
	AggregateType = "borrowing"

	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
	EventLoanRenewed  = "LoanRenewed"
)

// Routing keys on the event bus.
const (
	RouteBorrowingCreated  = "borrowing.created"
	RouteBorrowingReturned = "borrowing.returned"
	RouteBorrowingRenewed  = "borrowing.renewed"
)

// BookBorrowedEvent is recorded when a copy goes out.
type BookBorrowedEvent struct {
	BorrowingID uuid.UUID `json:"borrowing_id"`
	UserID      uuid.UUID `json:"user_id"`
	BookID      uuid.UUID `json:"book_id"`
	BorrowDate  time.Time `json:"borrow_date"`
	DueDate     time.Time `json:"due_date"`
}

// BookReturnedEvent is recorded when a copy comes back.
type BookReturnedEvent struct {
	BorrowingID uuid.UUID       `json:"borrowing_id"`
	UserID      uuid.UUID       `json:"user_id"`
	BookID      uuid.UUID       `json:"book_id"`
	ReturnDate  time.Time       `json:"return_date"`
	DaysLate    int             `json:"days_late"`
	Fine        decimal.Decimal `json:"fine"`
}

// LoanRenewedEvent is recorded when a due date is pushed back.
type LoanRenewedEvent struct {
	BorrowingID  uuid.UUID `json:"borrowing_id"`
	OldDueDate   time.Time `json:"old_due_date"`
	NewDueDate   time.Time `json:"new_due_date"`
	RenewalCount int       `json:"renewal_count"`
}
