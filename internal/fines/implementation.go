// internal/fines/implementation.go
package fines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"librarium/internal/eventstore"
	"librarium/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	repo      Repository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	maxTries  uint
}

// Option configures the fine ledger.
type Option func(*service)

// WithPublisher sets where committed fine events are announced.
func WithPublisher(p Publisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithClock overrides the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithMaxTries bounds conflict retries.
func WithMaxTries(n uint) Option {
	return func(s *service) { s.maxTries = n }
}

// NewService creates a new fine ledger.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		repo:      repo,
		publisher: NopPublisher,
		logger:    logger,
		now:       time.Now,
		maxTries:  store.DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) AssessFine(ctx context.Context, borrowingID uuid.UUID, amount decimal.Decimal) (*Assessment, error) {
	res, err := store.Retry(ctx, s.maxTries, func() (*Assessment, error) {
		var out *Assessment
		err := s.repo.InTx(ctx, func(tx Tx) error {
			userID, err := tx.BorrowingOwner(ctx, borrowingID)
			if errors.Is(err, store.ErrNotFound) {
				return newError(BorrowingNotFound)
			}
			if err != nil {
				return fmt.Errorf("load borrowing: %w", err)
			}

			out, err = Assess(ctx, tx, borrowingID, userID, amount, s.now().UTC())
			return err
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}

	s.report(ctx, borrowingID, res)
	return res, nil
}

func (s *service) report(ctx context.Context, borrowingID uuid.UUID, a *Assessment) {
	if a.Clamped {
		s.logger.Warn("fine payment clamped to reassessed amount",
			zap.String("borrowing_id", borrowingID.String()),
			zap.Bool("cleared", a.Cleared),
		)
	}
	if a.Fine == nil {
		return
	}
	s.logger.Info("fine assessed",
		zap.String("fine_id", a.Fine.ID.String()),
		zap.String("amount", a.Fine.Amount.StringFixed(2)),
	)
	PublishAssessed(ctx, s.publisher, s.logger, a.Fine)
}

// PublishAssessed announces a committed fine. Publish failures are logged.
func PublishAssessed(ctx context.Context, p Publisher, logger *zap.Logger, f *Fine) {
	ev := FineAssessedEvent{
		FineID:      f.ID,
		BorrowingID: f.BorrowingID,
		UserID:      f.UserID,
		Amount:      f.Amount,
		PaidAmount:  f.PaidAmount,
		Status:      f.Status,
	}
	if err := p.Publish(ctx, RouteFineAssessed, ev); err != nil {
		logger.Error("failed to publish fine event", zap.Error(err), zap.String("fine_id", f.ID.String()))
	}
}

// Assess upserts the fine of a borrowing inside an open transaction. It is
// shared by the ledger and by the return flow so both write fines the same
// way. A zero amount deletes any existing fine; Clamped is then set when
// that fine had payments against it.
func Assess(ctx context.Context, tx Tx, borrowingID, userID uuid.UUID, amount decimal.Decimal, now time.Time) (*Assessment, error) {
	if amount.IsNegative() {
		return nil, newError(InvalidAmount)
	}
	amount = amount.Round(2)

	existing, err := tx.FineByBorrowing(ctx, borrowingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load fine: %w", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	}

	if amount.IsZero() {
		if existing == nil {
			return &Assessment{}, nil
		}
		ev, err := eventstore.NewEvent(existing.ID, AggregateType, EventFineCleared, existing.Version+1, FineClearedEvent{
			FineID:      existing.ID,
			BorrowingID: borrowingID,
			PaidAmount:  existing.PaidAmount,
		})
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteFine(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete fine: %w", err)
		}
		if err := tx.AppendEvents(ctx, ev); err != nil {
			return nil, fmt.Errorf("append events: %w", err)
		}
		return &Assessment{Cleared: true, Clamped: existing.PaidAmount.IsPositive()}, nil
	}

	f := existing
	if f == nil {
		f = &Fine{
			ID:          uuid.New(),
			BorrowingID: borrowingID,
			UserID:      userID,
			PaidAmount:  decimal.Zero,
			CreatedAt:   now,
		}
	}
	previousPaid := f.PaidAmount
	clamped := f.Reassess(amount)
	f.UpdatedAt = now

	f.Version++
	assessed, err := eventstore.NewEvent(f.ID, AggregateType, EventFineAssessed, f.Version, FineAssessedEvent{
		FineID:      f.ID,
		BorrowingID: f.BorrowingID,
		UserID:      f.UserID,
		Amount:      f.Amount,
		PaidAmount:  f.PaidAmount,
		Status:      f.Status,
	})
	if err != nil {
		return nil, err
	}
	events := []eventstore.Event{assessed}

	if clamped {
		f.Version++
		ev, err := eventstore.NewEvent(f.ID, AggregateType, EventFinePaymentClamped, f.Version, FinePaymentClampedEvent{
			FineID:       f.ID,
			PreviousPaid: previousPaid,
			PaidAmount:   f.PaidAmount,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := tx.SaveFine(ctx, f); err != nil {
		return nil, fmt.Errorf("save fine: %w", err)
	}
	if err := tx.AppendEvents(ctx, events...); err != nil {
		return nil, fmt.Errorf("append events: %w", err)
	}

	return &Assessment{Fine: f, Clamped: clamped}, nil
}

func (s *service) RecordPayment(ctx context.Context, fineID uuid.UUID, amount decimal.Decimal) (*Fine, error) {
	if amount.Sign() <= 0 {
		return nil, newError(InvalidPayment)
	}

	f, err := store.Retry(ctx, s.maxTries, func() (*Fine, error) {
		var out *Fine
		err := s.repo.InTx(ctx, func(tx Tx) error {
			f, err := tx.LockFine(ctx, fineID)
			if errors.Is(err, store.ErrNotFound) {
				return newError(FineNotFound)
			}
			if err != nil {
				return fmt.Errorf("load fine: %w", err)
			}

			if err := f.ApplyPayment(amount); err != nil {
				return err
			}
			f.UpdatedAt = s.now().UTC()
			f.Version++

			ev, err := eventstore.NewEvent(f.ID, AggregateType, EventFinePaid, f.Version, FinePaidEvent{
				FineID:     f.ID,
				UserID:     f.UserID,
				Payment:    amount,
				PaidAmount: f.PaidAmount,
				Status:     f.Status,
			})
			if err != nil {
				return err
			}
			if err := tx.SaveFine(ctx, f); err != nil {
				return fmt.Errorf("save fine: %w", err)
			}
			if err := tx.AppendEvents(ctx, ev); err != nil {
				return fmt.Errorf("append events: %w", err)
			}
			out = f
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fine payment recorded",
		zap.String("fine_id", f.ID.String()),
		zap.String("payment", amount.StringFixed(2)),
		zap.String("status", string(f.Status)),
	)
	ev := FinePaidEvent{FineID: f.ID, UserID: f.UserID, Payment: amount, PaidAmount: f.PaidAmount, Status: f.Status}
	if err := s.publisher.Publish(ctx, RouteFinePaid, ev); err != nil {
		s.logger.Error("failed to publish fine event", zap.Error(err), zap.String("fine_id", f.ID.String()))
	}
	return f, nil
}

func (s *service) GetFine(ctx context.Context, id uuid.UUID) (*Fine, error) {
	f, err := s.repo.GetFine(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(FineNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fine: %w", err)
	}
	return f, nil
}

func (s *service) UserFines(ctx context.Context, userID uuid.UUID) ([]Fine, error) {
	list, err := s.repo.FinesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list fines: %w", err)
	}
	return list, nil
}
