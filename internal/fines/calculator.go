// internal/fines/calculator.go
package fines

import (
	"time"

	"github.com/shopspring/decimal"
)

// Day truncates t to midnight UTC of its calendar date. t should already be
// expressed in the library's time zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// OverdueDays is the number of whole calendar days asOf lies after due, or 0.
func OverdueDays(due, asOf time.Time) int {
	days := int(Day(asOf).Sub(Day(due)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Calculate returns the fine owed for an item due on due and returned on
// returned. The first graceDays overdue days are free.
func Calculate(due, returned time.Time, dailyRate decimal.Decimal, graceDays int) decimal.Decimal {
	overdue := OverdueDays(due, returned)
	if graceDays < 0 {
		graceDays = 0
	}
	effective := overdue - graceDays
	if effective <= 0 || dailyRate.Sign() <= 0 {
		return decimal.Zero
	}
	return dailyRate.Mul(decimal.NewFromInt(int64(effective))).Round(2)
}
