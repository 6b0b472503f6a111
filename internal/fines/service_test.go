package fines

import (
	"context"
	"sync"
	"testing"
	"time"

	"librarium/internal/eventstore"
	"librarium/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo is a single-lock in-memory ledger.
type fakeRepo struct {
	mu         sync.Mutex
	borrowings map[uuid.UUID]uuid.UUID
	fines      map[uuid.UUID]Fine
	events     []eventstore.Event
	failSave   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		borrowings: map[uuid.UUID]uuid.UUID{},
		fines:      map[uuid.UUID]Fine{},
	}
}

type fakeTx struct {
	r      *fakeRepo
	fines  map[uuid.UUID]Fine
	events []eventstore.Event
}

func (r *fakeRepo) InTx(ctx context.Context, fn func(Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &fakeTx{r: r, fines: map[uuid.UUID]Fine{}}
	for k, v := range r.fines {
		tx.fines[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.fines = tx.fines
	r.events = append(r.events, tx.events...)
	return nil
}

func (r *fakeRepo) GetFine(ctx context.Context, id uuid.UUID) (*Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (r *fakeRepo) FinesByUser(ctx context.Context, userID uuid.UUID) ([]Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Fine
	for _, f := range r.fines {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *fakeTx) BorrowingOwner(ctx context.Context, borrowingID uuid.UUID) (uuid.UUID, error) {
	u, ok := t.r.borrowings[borrowingID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return u, nil
}

func (t *fakeTx) FineByBorrowing(ctx context.Context, borrowingID uuid.UUID) (*Fine, error) {
	for _, f := range t.fines {
		if f.BorrowingID == borrowingID {
			return &f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *fakeTx) LockFine(ctx context.Context, id uuid.UUID) (*Fine, error) {
	f, ok := t.fines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (t *fakeTx) SaveFine(ctx context.Context, f *Fine) error {
	if t.r.failSave != nil {
		return t.r.failSave
	}
	t.fines[f.ID] = *f
	return nil
}

func (t *fakeTx) DeleteFine(ctx context.Context, id uuid.UUID) error {
	delete(t.fines, id)
	return nil
}

func (t *fakeTx) AppendEvents(ctx context.Context, events ...eventstore.Event) error {
	t.events = append(t.events, events...)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	routes []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = append(p.routes, routingKey)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (Service, *fakeRepo, *recordingPublisher, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := newFakeRepo()
	pub := &recordingPublisher{}
	borrowingID, userID := uuid.New(), uuid.New()
	repo.borrowings[borrowingID] = userID

	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	svc := NewService(repo, zap.NewNop(), WithPublisher(pub), WithClock(func() time.Time { return now }))
	return svc, repo, pub, borrowingID, userID
}

func TestAssessFineCreatesAndUpdates(t *testing.T) {
	svc, repo, pub, borrowingID, userID := newTestService(t)
	ctx := context.Background()

	first, err := svc.AssessFine(ctx, borrowingID, dec("6.00"))
	require.NoError(t, err)
	require.NotNil(t, first.Fine)
	assert.Equal(t, userID, first.Fine.UserID)
	assert.Equal(t, StatusUnpaid, first.Fine.Status)
	assert.False(t, first.Clamped)

	second, err := svc.AssessFine(ctx, borrowingID, dec("8.00"))
	require.NoError(t, err)
	assert.Equal(t, first.Fine.ID, second.Fine.ID, "upsert is keyed by borrowing")
	assert.True(t, second.Fine.Amount.Equal(dec("8.00")))
	assert.Len(t, repo.fines, 1)
	assert.Equal(t, []string{RouteFineAssessed, RouteFineAssessed}, pub.routes)
}

func TestAssessFinePreservesAndClampsPaid(t *testing.T) {
	svc, repo, _, borrowingID, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.AssessFine(ctx, borrowingID, dec("10.00"))
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, a.Fine.ID, dec("6.00"))
	require.NoError(t, err)

	raised, err := svc.AssessFine(ctx, borrowingID, dec("12.00"))
	require.NoError(t, err)
	assert.False(t, raised.Clamped)
	assert.True(t, raised.Fine.PaidAmount.Equal(dec("6.00")))
	assert.Equal(t, StatusPartial, raised.Fine.Status)

	lowered, err := svc.AssessFine(ctx, borrowingID, dec("4.00"))
	require.NoError(t, err)
	assert.True(t, lowered.Clamped)
	assert.True(t, lowered.Fine.PaidAmount.Equal(dec("4.00")))
	assert.Equal(t, StatusPaid, lowered.Fine.Status)

	last := repo.events[len(repo.events)-1]
	assert.Equal(t, EventFinePaymentClamped, last.EventType)
	assert.Equal(t, lowered.Fine.Version, last.Version)
}

func TestAssessFineZeroClears(t *testing.T) {
	svc, repo, _, borrowingID, _ := newTestService(t)
	ctx := context.Background()

	none, err := svc.AssessFine(ctx, borrowingID, decimal.Zero)
	require.NoError(t, err)
	assert.Nil(t, none.Fine)
	assert.False(t, none.Cleared)

	_, err = svc.AssessFine(ctx, borrowingID, dec("2.00"))
	require.NoError(t, err)

	cleared, err := svc.AssessFine(ctx, borrowingID, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, cleared.Cleared)
	assert.False(t, cleared.Clamped)
	assert.Empty(t, repo.fines)
}

func TestAssessFineErrors(t *testing.T) {
	svc, _, _, borrowingID, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AssessFine(ctx, uuid.New(), dec("1.00"))
	assert.Equal(t, BorrowingNotFound, CodeOf(err))

	_, err = svc.AssessFine(ctx, borrowingID, dec("-1.00"))
	assert.Equal(t, InvalidAmount, CodeOf(err))
}

func TestRecordPayment(t *testing.T) {
	svc, repo, pub, borrowingID, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.AssessFine(ctx, borrowingID, dec("6.00"))
	require.NoError(t, err)
	fineID := a.Fine.ID

	testCases := []struct {
		name   string
		amount string
		code   ErrCode
		paid   string
		status Status
	}{
		{"zero", "0", InvalidPayment, "0", StatusUnpaid},
		{"negative", "-1", InvalidPayment, "0", StatusUnpaid},
		{"exceeds due", "6.01", PaymentExceedsDue, "0", StatusUnpaid},
		{"partial", "2.50", "", "2.50", StatusPartial},
		{"over remaining", "3.51", PaymentExceedsDue, "2.50", StatusPartial},
		{"settles", "3.50", "", "6.00", StatusPaid},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPayment(ctx, fineID, dec(tt.amount))
			assert.Equal(t, tt.code, CodeOf(err))

			stored := repo.fines[fineID]
			assert.True(t, stored.PaidAmount.Equal(dec(tt.paid)), "paid %s", stored.PaidAmount)
			assert.Equal(t, tt.status, stored.Status)
		})
	}

	_, err = svc.RecordPayment(ctx, uuid.New(), dec("1"))
	assert.Equal(t, FineNotFound, CodeOf(err))
	assert.Contains(t, pub.routes, RouteFinePaid)
}

func TestStorageErrorRollsBack(t *testing.T) {
	svc, repo, _, borrowingID, _ := newTestService(t)
	repo.failSave = assert.AnError

	_, err := svc.AssessFine(context.Background(), borrowingID, dec("2.00"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, repo.fines)
	assert.Empty(t, repo.events)
}

func TestGetFine(t *testing.T) {
	svc, _, _, borrowingID, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetFine(ctx, uuid.New())
	assert.Equal(t, FineNotFound, CodeOf(err))

	a, err := svc.AssessFine(ctx, borrowingID, dec("2.00"))
	require.NoError(t, err)

	got, err := svc.GetFine(ctx, a.Fine.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Fine.ID, got.ID)

	list, err := svc.UserFines(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusUnpaid, DeriveStatus(dec("5"), dec("0")))
	assert.Equal(t, StatusPartial, DeriveStatus(dec("5"), dec("0.01")))
	assert.Equal(t, StatusPaid, DeriveStatus(dec("5"), dec("5")))
}
