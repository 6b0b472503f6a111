// Package integrity audits the stored circulation state against the
// invariants the services are meant to keep.
package integrity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"librarium/internal/fines"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BookCounters is a book's counters next to its open loan count.
type BookCounters struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Available int       `json:"available" db:"available_quantity"`
	OpenLoans int       `json:"open_loans" db:"open_loans"`
}

// UserLoans is the number of open borrowings a user holds.
type UserLoans struct {
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	Open   int       `json:"open" db:"open"`
}

// LoanPair counts open borrowings of one book by one user.
type LoanPair struct {
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	BookID uuid.UUID `json:"book_id" db:"book_id"`
	Open   int       `json:"open" db:"open"`
}

// Snapshot is a consistent read of everything the checks look at.
type Snapshot struct {
	Books     []BookCounters
	UserLoans []UserLoans
	Pairs     []LoanPair
	Fines     []fines.Fine
}

// Source produces snapshots. Both stores implement it.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Violation is one broken invariant.
type Violation struct {
	Check    string    `json:"check"`
	Subject  uuid.UUID `json:"subject"`
	Expected string    `json:"expected"`
	Actual   string    `json:"actual"`
}

// Check is a named invariant over a snapshot.
type Check struct {
	Name     string
	Evaluate func(*Snapshot) []Violation
}

// Report is the outcome of one audit run.
type Report struct {
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Checks     int           `json:"checks"`
	Violations []Violation   `json:"violations"`
	Healthy    bool          `json:"healthy"`
}

// Auditor runs registered checks against a Source.
type Auditor struct {
	tracer trace.Tracer
	source Source
	mu     sync.Mutex
	checks []Check
}

// NewAuditor creates an auditor with the default checks for a per-user
// limit of maxPerUser open borrowings.
func NewAuditor(source Source, maxPerUser int) *Auditor {
	a := &Auditor{
		tracer: otel.Tracer("librarium/integrity"),
		source: source,
	}
	for _, c := range DefaultChecks(maxPerUser) {
		a.Register(c)
	}
	return a
}

// Register adds a check.
func (a *Auditor) Register(c Check) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, c)
}

// Run takes a snapshot and evaluates every check against it.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "integrity.run")
	defer span.End()

	report := &Report{StartTime: time.Now()}
	snap, err := a.source.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("take snapshot: %w", err)
	}

	a.mu.Lock()
	checks := append([]Check(nil), a.checks...)
	a.mu.Unlock()

	for _, c := range checks {
		span.AddEvent("check", trace.WithAttributes(attribute.String("check.name", c.Name)))
		report.Violations = append(report.Violations, c.Evaluate(snap)...)
	}
	report.Checks = len(checks)
	report.Healthy = len(report.Violations) == 0
	report.Duration = time.Since(report.StartTime)

	span.SetAttributes(
		attribute.Bool("healthy", report.Healthy),
		attribute.Int("violations", len(report.Violations)),
	)
	return report, nil
}

// DefaultChecks are the circulation invariants.
func DefaultChecks(maxPerUser int) []Check {
	return []Check{
		{Name: "availability-balance", Evaluate: availabilityBalance},
		{Name: "availability-bounds", Evaluate: availabilityBounds},
		{Name: "borrow-limit", Evaluate: borrowLimit(maxPerUser)},
		{Name: "single-open-loan", Evaluate: singleOpenLoan},
		{Name: "fine-status", Evaluate: fineStatus},
	}
}

func availabilityBalance(s *Snapshot) []Violation {
	var out []Violation
	for _, b := range s.Books {
		if b.Available+b.OpenLoans != b.Quantity {
			out = append(out, Violation{
				Check:    "availability-balance",
				Subject:  b.ID,
				Expected: fmt.Sprintf("available+open=%d", b.Quantity),
				Actual:   fmt.Sprintf("%d+%d", b.Available, b.OpenLoans),
			})
		}
	}
	return out
}

func availabilityBounds(s *Snapshot) []Violation {
	var out []Violation
	for _, b := range s.Books {
		if b.Available < 0 || b.Available > b.Quantity || b.Quantity < 1 {
			out = append(out, Violation{
				Check:    "availability-bounds",
				Subject:  b.ID,
				Expected: "0<=available<=quantity, quantity>=1",
				Actual:   fmt.Sprintf("available=%d quantity=%d", b.Available, b.Quantity),
			})
		}
	}
	return out
}

func borrowLimit(limit int) func(*Snapshot) []Violation {
	return func(s *Snapshot) []Violation {
		var out []Violation
		for _, u := range s.UserLoans {
			if u.Open > limit {
				out = append(out, Violation{
					Check:    "borrow-limit",
					Subject:  u.UserID,
					Expected: fmt.Sprintf("<=%d", limit),
					Actual:   fmt.Sprintf("%d", u.Open),
				})
			}
		}
		return out
	}
}

func singleOpenLoan(s *Snapshot) []Violation {
	var out []Violation
	for _, p := range s.Pairs {
		if p.Open > 1 {
			out = append(out, Violation{
				Check:    "single-open-loan",
				Subject:  p.BookID,
				Expected: "1",
				Actual:   fmt.Sprintf("%d for user %s", p.Open, p.UserID),
			})
		}
	}
	return out
}

func fineStatus(s *Snapshot) []Violation {
	var out []Violation
	for _, f := range s.Fines {
		want := fines.DeriveStatus(f.Amount, f.PaidAmount)
		switch {
		case f.PaidAmount.IsNegative() || f.PaidAmount.GreaterThan(f.Amount):
			out = append(out, Violation{
				Check:    "fine-status",
				Subject:  f.ID,
				Expected: "0<=paid<=amount",
				Actual:   fmt.Sprintf("paid=%s amount=%s", f.PaidAmount, f.Amount),
			})
		case f.Status != want:
			out = append(out, Violation{
				Check:    "fine-status",
				Subject:  f.ID,
				Expected: string(want),
				Actual:   string(f.Status),
			})
		}
	}
	return out
}
