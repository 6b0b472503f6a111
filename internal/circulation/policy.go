package circulation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"librarium/internal/access"
	"librarium/internal/fines"
	"librarium/internal/membership"

	"github.com/shopspring/decimal"
)

// DefaultTimeZone is the library's calendar when none is configured.
const DefaultTimeZone = "Asia/Kuala_Lumpur"

// Policy is the immutable set of circulation parameters.
type Policy struct {
	LoanPeriodDays       int
	MaxBorrowingsPerUser int
	DailyFineRate        decimal.Decimal
	GraceDays            int
	// MaxRenewals caps renewals per borrowing; 0 means unlimited.
	MaxRenewals   int
	BorrowerRoles []access.Role
	// Location decides which calendar day "today" is.
	Location *time.Location
}

// DefaultPolicy returns the compiled-in defaults.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:       14,
		MaxBorrowingsPerUser: 5,
		DailyFineRate:        decimal.RequireFromString("2.00"),
		GraceDays:            1,
		MaxRenewals:          0,
		BorrowerRoles:        []access.Role{access.RoleStudent, access.RoleStaff},
		Location:             defaultLocation(),
	}
}

// LoadLocation resolves a zone name. The default zone falls back to a
// fixed UTC+8 offset when the zone database is unavailable; any other
// unknown name is an error.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimeZone {
		return time.FixedZone("MYT", 8*60*60), nil
	}
	return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
}

func defaultLocation() *time.Location {
	loc, _ := LoadLocation(DefaultTimeZone)
	return loc
}

// Validate rejects policies the service cannot run with.
func (p Policy) Validate() error {
	var errs []error
	if p.LoanPeriodDays < 1 {
		errs = append(errs, fmt.Errorf("loan period must be at least 1 day, got %d", p.LoanPeriodDays))
	}
	if p.MaxBorrowingsPerUser < 1 {
		errs = append(errs, fmt.Errorf("max borrowings per user must be at least 1, got %d", p.MaxBorrowingsPerUser))
	}
	if p.DailyFineRate.IsNegative() {
		errs = append(errs, fmt.Errorf("daily fine rate must not be negative, got %s", p.DailyFineRate))
	}
	if p.GraceDays < 0 {
		errs = append(errs, fmt.Errorf("grace days must not be negative, got %d", p.GraceDays))
	}
	if p.MaxRenewals < 0 {
		errs = append(errs, fmt.Errorf("max renewals must not be negative, got %d", p.MaxRenewals))
	}
	if len(p.BorrowerRoles) == 0 {
		errs = append(errs, errors.New("at least one borrower role is required"))
	}
	return errors.Join(errs...)
}

// CanBorrow reports whether u may hold open borrowings.
func (p Policy) CanBorrow(u *membership.User) bool {
	return u.Status == membership.StatusActive && slices.Contains(p.BorrowerRoles, u.Role)
}

// Today is the library calendar day containing now.
func (p Policy) Today(now time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return fines.Day(now.In(loc))
}

func (p Policy) clone() Policy {
	p.BorrowerRoles = slices.Clone(p.BorrowerRoles)
	return p
}
