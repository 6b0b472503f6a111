package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"librarium/internal/access"
	"librarium/internal/circulation"

	"github.com/shopspring/decimal"
)

// Names of the rows in the settings table that feed the policy.
const (
	SettingLoanPeriodDays  = "loan_period_days"
	SettingMaxBooksPerUser = "max_books_per_user"
	SettingFinePerDay      = "fine_per_day"
	SettingGracePeriodDays = "grace_period_days"
	SettingMaxRenewals     = "max_renewals"
	SettingBorrowerRoles   = "borrower_roles"
	SettingLibraryTimeZone = "library_timezone"
)

// ResolvePolicy layers stored settings and then explicit overrides on top
// of defaults and validates the result.
func ResolvePolicy(defaults circulation.Policy, stored map[string]string, o PolicyOverrides) (circulation.Policy, error) {
	p := defaults
	p.BorrowerRoles = append([]access.Role(nil), defaults.BorrowerRoles...)

	var errs []error
	storedInt := func(name string, dst *int) {
		v, ok := stored[name]
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", name, err))
			return
		}
		*dst = n
	}

	storedInt(SettingLoanPeriodDays, &p.LoanPeriodDays)
	storedInt(SettingMaxBooksPerUser, &p.MaxBorrowingsPerUser)
	storedInt(SettingGracePeriodDays, &p.GraceDays)
	storedInt(SettingMaxRenewals, &p.MaxRenewals)
	if v := strings.TrimSpace(stored[SettingFinePerDay]); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", SettingFinePerDay, err))
		} else {
			p.DailyFineRate = rate
		}
	}
	if v := strings.TrimSpace(stored[SettingBorrowerRoles]); v != "" {
		roles, err := parseRoles(splitList(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", SettingBorrowerRoles, err))
		} else {
			p.BorrowerRoles = roles
		}
	}
	if v := strings.TrimSpace(stored[SettingLibraryTimeZone]); v != "" {
		loc, err := circulation.LoadLocation(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", SettingLibraryTimeZone, err))
		} else {
			p.Location = loc
		}
	}

	if o.LoanPeriodDays != nil {
		p.LoanPeriodDays = *o.LoanPeriodDays
	}
	if o.MaxBorrowingsPerUser != nil {
		p.MaxBorrowingsPerUser = *o.MaxBorrowingsPerUser
	}
	if o.DailyFineRate != nil {
		p.DailyFineRate = *o.DailyFineRate
	}
	if o.GraceDays != nil {
		p.GraceDays = *o.GraceDays
	}
	if o.MaxRenewals != nil {
		p.MaxRenewals = *o.MaxRenewals
	}
	if len(o.BorrowerRoles) > 0 {
		roles, err := parseRoles(o.BorrowerRoles)
		if err != nil {
			errs = append(errs, fmt.Errorf("BORROWER_ROLES: %w", err))
		} else {
			p.BorrowerRoles = roles
		}
	}
	if o.TimeZone != "" {
		loc, err := circulation.LoadLocation(o.TimeZone)
		if err != nil {
			errs = append(errs, fmt.Errorf("LIBRARY_TIMEZONE: %w", err))
		} else {
			p.Location = loc
		}
	}

	if err := errors.Join(errs...); err != nil {
		return circulation.Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return circulation.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func parseRoles(names []string) ([]access.Role, error) {
	roles := make([]access.Role, 0, len(names))
	for _, n := range names {
		r, err := access.ParseRole(n)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
