// internal/fines/domain.go
package fines

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status of a fine, always derived from its amounts.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// DeriveStatus maps amount and paid to a Status.
func DeriveStatus(amount, paid decimal.Decimal) Status {
	switch {
	case paid.Sign() <= 0:
		return StatusUnpaid
	case paid.GreaterThanOrEqual(amount):
		return StatusPaid
	default:
		return StatusPartial
	}
}

// Fine is the amount owed for one late borrowing.
type Fine struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	BorrowingID uuid.UUID       `json:"borrowing_id" db:"borrowing_id"`
	UserID      uuid.UUID       `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	Status      Status          `json:"status" db:"status"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Outstanding is what is still owed.
func (f *Fine) Outstanding() decimal.Decimal {
	return f.Amount.Sub(f.PaidAmount)
}

// Reassess sets a new amount. If the amount drops below what was already
// paid, paid is clamped down to it and Reassess reports true.
func (f *Fine) Reassess(amount decimal.Decimal) (clamped bool) {
	f.Amount = amount
	if f.PaidAmount.GreaterThan(amount) {
		f.PaidAmount = amount
		clamped = true
	}
	f.Status = DeriveStatus(f.Amount, f.PaidAmount)
	return clamped
}

// ApplyPayment adds amount to the paid total.
func (f *Fine) ApplyPayment(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return newError(InvalidPayment)
	}
	if f.PaidAmount.Add(amount).GreaterThan(f.Amount) {
		return newError(PaymentExceedsDue)
	}
	f.PaidAmount = f.PaidAmount.Add(amount)
	f.Status = DeriveStatus(f.Amount, f.PaidAmount)
	return nil
}

// Assessment is the result of assessing a fine for a borrowing.
type Assessment struct {
	// Fine is nil when the amount was zero.
	Fine *Fine `json:"fine,omitempty"`
	// Clamped is set when paid_amount had to be lowered to the new amount.
	Clamped bool `json:"clamped"`
	// Cleared is set when a zero amount removed an existing fine.
	Cleared bool `json:"cleared"`
}

// Aggregate type and event types written to the audit log.
const (
	AggregateType = "fine"

	EventFineAssessed       = "FineAssessed"
	EventFinePaymentClamped = "FinePaymentClamped"
	EventFineCleared        = "FineCleared"
	EventFinePaid           = "FinePaid"
)

// Routing keys on the event bus.
const (
	RouteFineAssessed = "fine.assessed"
	RouteFinePaid     = "fine.paid"
)

type FineAssessedEvent struct {
	FineID      uuid.UUID       `json:"fine_id"`
	BorrowingID uuid.UUID       `json:"borrowing_id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      Status          `json:"status"`
}

type FinePaymentClampedEvent struct {
	FineID       uuid.UUID       `json:"fine_id"`
	PreviousPaid decimal.Decimal `json:"previous_paid"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
}

type FineClearedEvent struct {
	FineID      uuid.UUID       `json:"fine_id"`
	BorrowingID uuid.UUID       `json:"borrowing_id"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
}

type FinePaidEvent struct {
	FineID     uuid.UUID       `json:"fine_id"`
	UserID     uuid.UUID       `json:"user_id"`
	Payment    decimal.Decimal `json:"payment"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     Status          `json:"status"`
}
