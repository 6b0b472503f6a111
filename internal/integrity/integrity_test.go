package integrity

import (
	"context"
	"errors"
	"testing"

	"librarium/internal/fines"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap *Snapshot
	err  error
}

func (f fakeSource) Snapshot(context.Context) (*Snapshot, error) { return f.snap, f.err }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func healthySnapshot() *Snapshot {
	book, user := uuid.New(), uuid.New()
	return &Snapshot{
		Books:     []BookCounters{{ID: book, Quantity: 3, Available: 2, OpenLoans: 1}},
		UserLoans: []UserLoans{{UserID: user, Open: 1}},
		Pairs:     []LoanPair{{UserID: user, BookID: book, Open: 1}},
		Fines: []fines.Fine{{
			ID: uuid.New(), Amount: money("6.00"), PaidAmount: money("2.00"), Status: fines.StatusPartial,
		}},
	}
}

func TestHealthySnapshot(t *testing.T) {
	a := NewAuditor(fakeSource{snap: healthySnapshot()}, 5)
	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Violations)
	assert.Equal(t, len(DefaultChecks(5)), report.Checks)
}

func TestChecksDetectViolations(t *testing.T) {
	tests := []struct {
		name   string
		break_ func(*Snapshot)
		check  string
	}{
		{"lost copy", func(s *Snapshot) { s.Books[0].Available = 1 }, "availability-balance"},
		{"negative availability", func(s *Snapshot) {
			s.Books[0].Available, s.Books[0].OpenLoans = -1, 4
		}, "availability-bounds"},
		{"over limit", func(s *Snapshot) { s.UserLoans[0].Open = 6 }, "borrow-limit"},
		{"two open loans", func(s *Snapshot) { s.Pairs[0].Open = 2 }, "single-open-loan"},
		{"stale status", func(s *Snapshot) { s.Fines[0].Status = fines.StatusUnpaid }, "fine-status"},
		{"overpaid", func(s *Snapshot) {
			s.Fines[0].PaidAmount = money("7.00")
			s.Fines[0].Status = fines.StatusPaid
		}, "fine-status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := healthySnapshot()
			tt.break_(snap)

			report, err := NewAuditor(fakeSource{snap: snap}, 5).Run(context.Background())
			require.NoError(t, err)
			assert.False(t, report.Healthy)
			require.Len(t, report.Violations, 1)
			assert.Equal(t, tt.check, report.Violations[0].Check)
		})
	}
}

func TestRegisterCustomCheck(t *testing.T) {
	a := NewAuditor(fakeSource{snap: healthySnapshot()}, 5)
	a.Register(Check{
		Name: "no-fines",
		Evaluate: func(s *Snapshot) []Violation {
			var out []Violation
			for _, f := range s.Fines {
				out = append(out, Violation{Check: "no-fines", Subject: f.ID})
			}
			return out
		},
	})

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultChecks(5))+1, report.Checks)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "no-fines", report.Violations[0].Check)
}

func TestSnapshotFailure(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewAuditor(fakeSource{err: boom}, 5).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
