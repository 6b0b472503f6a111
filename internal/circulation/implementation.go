// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"librarium/internal/eventstore"
	"librarium/internal/fines"
	"librarium/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	repo      Repository
	policy    Policy
	logger    *zap.Logger
	publisher fines.Publisher
	now       func() time.Time
	maxTries  uint

	borrows  metric.Int64Counter
	returns  metric.Int64Counter
	renewals metric.Int64Counter
	rejects  metric.Int64Counter
}

// Option configures the service.
type Option func(*service)

// WithClock overrides the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithPublisher sets where committed events are announced.
func WithPublisher(p fines.Publisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithMaxTries bounds how often a conflicting transaction is replayed.
func WithMaxTries(n uint) Option {
	return func(s *service) { s.maxTries = n }
}

// NewService creates a new circulation service instance.
func NewService(repo Repository, policy Policy, logger *zap.Logger, opts ...Option) (Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circulation policy: %w", err)
	}

	s := &service{
		repo:      repo,
		policy:    policy.clone(),
		logger:    logger,
		publisher: fines.NopPublisher,
		now:       time.Now,
		maxTries:  store.DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("librarium/circulation")
	s.borrows = counter(meter, "circulation.borrows", "Books lent out.")
	s.returns = counter(meter, "circulation.returns", "Books returned.")
	s.renewals = counter(meter, "circulation.renewals", "Loans renewed.")
	s.rejects = counter(meter, "circulation.rejections", "Operations refused by a precondition.")
	return s, nil
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (s *service) today() time.Time {
	return s.policy.Today(s.now())
}

// run executes fn in a transaction, replaying it on conflicts.
func run[T any](ctx context.Context, s *service, fn func(tx Tx) (T, error)) (T, error) {
	return store.Retry(ctx, s.maxTries, func() (T, error) {
		var out T
		err := s.repo.InTx(ctx, func(tx Tx) error {
			v, err := fn(tx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		return out, err
	})
}

func (s *service) reject(ctx context.Context, op string, err error) {
	if code := CodeOf(err); code != "" {
		s.rejects.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("code", string(code)),
		))
	}
}

// Borrow lends a copy of bookID to userID. Preconditions are checked in a
// fixed order and the first failure is returned.
func (s *service) Borrow(ctx context.Context, userID, bookID uuid.UUID) (*Borrowing, error) {
	b, err := run(ctx, s, func(tx Tx) (*Borrowing, error) {
		user, err := tx.LockUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(UserIneligible)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock user: %w", err)
		}
		if !s.policy.CanBorrow(user) {
			return nil, newError(UserIneligible)
		}

		book, err := tx.LockBook(ctx, bookID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(BookNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock book: %w", err)
		}
		if book.Available <= 0 {
			return nil, newError(BookUnavailable)
		}

		open, err := tx.CountOpenBorrowings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count borrowings: %w", err)
		}
		if open >= s.policy.MaxBorrowingsPerUser {
			return nil, newError(BorrowLimitReached)
		}

		dup, err := tx.HasOpenBorrowing(ctx, userID, bookID)
		if err != nil {
			return nil, fmt.Errorf("failed to check open borrowing: %w", err)
		}
		if dup {
			return nil, newError(AlreadyBorrowed)
		}

		today := s.today()
		b := &Borrowing{
			ID:         uuid.New(),
			BookID:     bookID,
			UserID:     userID,
			BorrowDate: today,
			DueDate:    today.AddDate(0, 0, s.policy.LoanPeriodDays),
			Status:     StatusBorrowed,
			Version:    1,
		}
		event, err := eventstore.NewEvent(b.ID, AggregateType, EventBookBorrowed, b.Version, BookBorrowedEvent{
			BorrowingID: b.ID,
			UserID:      userID,
			BookID:      bookID,
			BorrowDate:  b.BorrowDate,
			DueDate:     b.DueDate,
		})
		if err != nil {
			return nil, err
		}

		if err := tx.SetAvailable(ctx, bookID, book.Available-1); err != nil {
			return nil, fmt.Errorf("failed to update availability: %w", err)
		}
		if err := tx.InsertBorrowing(ctx, b); err != nil {
			return nil, fmt.Errorf("failed to insert borrowing: %w", err)
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to append event: %w", err)
		}
		return b, nil
	})
	if err != nil {
		s.reject(ctx, "borrow", err)
		return nil, err
	}

	s.borrows.Add(ctx, 1)
	s.logger.Info("book borrowed",
		zap.String("borrowing_id", b.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("book_id", bookID.String()),
		zap.Time("due_date", b.DueDate),
	)
	s.publish(ctx, RouteBorrowingCreated, BookBorrowedEvent{
		BorrowingID: b.ID,
		UserID:      b.UserID,
		BookID:      b.BookID,
		BorrowDate:  b.BorrowDate,
		DueDate:     b.DueDate,
	})
	return b, nil
}

type returnOutcome struct {
	result     *ReturnResult
	event      BookReturnedEvent
	capped     bool
	fineEdited *fines.Assessment
}

// Return closes an open borrowing, puts the copy back and settles the fine.
func (s *service) Return(ctx context.Context, borrowingID uuid.UUID) (*ReturnResult, error) {
	out, err := run(ctx, s, func(tx Tx) (*returnOutcome, error) {
		b, err := tx.LockBorrowing(ctx, borrowingID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(NotCurrentlyBorrowed)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock borrowing: %w", err)
		}
		if !b.Open() {
			return nil, newError(NotCurrentlyBorrowed)
		}

		book, err := tx.LockBook(ctx, b.BookID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock book: %w", err)
		}

		now := s.now()
		today := s.policy.Today(now)
		b.ReturnDate = &today
		b.Status = StatusReturned
		b.Version++

		available, capped := book.Available+1, false
		if available > book.Quantity {
			available, capped = book.Quantity, true
		}

		amount := fines.Calculate(b.DueDate, today, s.policy.DailyFineRate, s.policy.GraceDays)
		assessment, err := fines.Assess(ctx, tx, b.ID, b.UserID, amount, now.UTC())
		if err != nil {
			return nil, err
		}

		ev := BookReturnedEvent{
			BorrowingID: b.ID,
			UserID:      b.UserID,
			BookID:      b.BookID,
			ReturnDate:  today,
			DaysLate:    fines.OverdueDays(b.DueDate, today),
			Fine:        amount,
		}
		event, err := eventstore.NewEvent(b.ID, AggregateType, EventBookReturned, b.Version, ev)
		if err != nil {
			return nil, err
		}

		if err := tx.UpdateBorrowing(ctx, b); err != nil {
			return nil, fmt.Errorf("failed to update borrowing: %w", err)
		}
		if err := tx.SetAvailable(ctx, b.BookID, available); err != nil {
			return nil, fmt.Errorf("failed to update availability: %w", err)
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to append event: %w", err)
		}

		return &returnOutcome{
			result: &ReturnResult{
				Borrowing:   b,
				Fine:        assessment.Fine,
				FineCleared: assessment.Cleared,
			},
			event:      ev,
			capped:     capped,
			fineEdited: assessment,
		}, nil
	})
	if err != nil {
		s.reject(ctx, "return", err)
		return nil, err
	}

	b := out.result.Borrowing
	if out.capped {
		s.logger.Warn("availability already at quantity on return",
			zap.String("borrowing_id", b.ID.String()),
			zap.String("book_id", b.BookID.String()),
		)
	}
	if out.fineEdited.Clamped {
		s.logger.Warn("fine payment clamped on return",
			zap.String("borrowing_id", b.ID.String()),
			zap.Bool("cleared", out.fineEdited.Cleared),
		)
	}

	s.returns.Add(ctx, 1)
	s.logger.Info("book returned",
		zap.String("borrowing_id", b.ID.String()),
		zap.Int("days_late", out.event.DaysLate),
		zap.String("fine", out.event.Fine.StringFixed(2)),
	)
	s.publish(ctx, RouteBorrowingReturned, out.event)
	if f := out.result.Fine; f != nil {
		fines.PublishAssessed(ctx, s.publisher, s.logger, f)
	}
	return out.result, nil
}

// Renew pushes the due date back one loan period from the current due
// date. Overdue loans cannot be renewed.
func (s *service) Renew(ctx context.Context, borrowingID uuid.UUID) (*Borrowing, error) {
	var ev LoanRenewedEvent
	b, err := run(ctx, s, func(tx Tx) (*Borrowing, error) {
		b, err := tx.LockBorrowing(ctx, borrowingID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(NotCurrentlyBorrowed)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock borrowing: %w", err)
		}
		if !b.Open() {
			return nil, newError(NotCurrentlyBorrowed)
		}
		if IsOverdue(b, s.today()) {
			return nil, newError(CannotRenewOverdue)
		}
		if s.policy.MaxRenewals > 0 && b.RenewalCount >= s.policy.MaxRenewals {
			return nil, newError(RenewLimitReached)
		}

		old := b.DueDate
		b.DueDate = b.DueDate.AddDate(0, 0, s.policy.LoanPeriodDays)
		b.RenewalCount++
		b.Version++

		ev = LoanRenewedEvent{
			BorrowingID:  b.ID,
			OldDueDate:   old,
			NewDueDate:   b.DueDate,
			RenewalCount: b.RenewalCount,
		}
		event, err := eventstore.NewEvent(b.ID, AggregateType, EventLoanRenewed, b.Version, ev)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateBorrowing(ctx, b); err != nil {
			return nil, fmt.Errorf("failed to update borrowing: %w", err)
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to append event: %w", err)
		}
		return b, nil
	})
	if err != nil {
		s.reject(ctx, "renew", err)
		return nil, err
	}

	s.renewals.Add(ctx, 1)
	s.logger.Info("loan renewed",
		zap.String("borrowing_id", b.ID.String()),
		zap.Time("due_date", b.DueDate),
		zap.Int("renewal_count", b.RenewalCount),
	)
	s.publish(ctx, RouteBorrowingRenewed, ev)
	return b, nil
}

func (s *service) Overdue(ctx context.Context) iter.Seq2[OverdueBorrowing, error] {
	return func(yield func(OverdueBorrowing, error) bool) {
		today := s.today()
		for ob, err := range s.repo.Overdue(ctx, today) {
			if err != nil {
				yield(OverdueBorrowing{}, fmt.Errorf("failed to list overdue borrowings: %w", err))
				return
			}
			if !IsOverdue(&ob.Borrowing, today) {
				continue
			}
			ob.DaysOverdue = fines.OverdueDays(ob.DueDate, today)
			ob.AccruingFine = fines.Calculate(ob.DueDate, today, s.policy.DailyFineRate, s.policy.GraceDays)
			if !yield(ob, nil) {
				return
			}
		}
	}
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.Stats(ctx, s.today())
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID) ([]Borrowing, error) {
	list, err := s.repo.UserBorrowings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowings: %w", err)
	}
	return list, nil
}

func (s *service) GetBorrowing(ctx context.Context, id uuid.UUID) (*Borrowing, error) {
	b, err := s.repo.GetBorrowing(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(BorrowingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get borrowing: %w", err)
	}
	return b, nil
}

func (s *service) publish(ctx context.Context, routingKey string, payload interface{}) {
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		s.logger.Error("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
