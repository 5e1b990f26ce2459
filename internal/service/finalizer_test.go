package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

type verifierMock struct {
	mock.Mock
}

func (m *verifierMock) Verify(ctx context.Context, ev model.PaymentEvidence) (bool, error) {
	args := m.Called(ctx, ev)
	return args.Bool(0), args.Error(1)
}

type notifierSpy struct {
	mu       sync.Mutex
	bookings []model.Booking
}

func (n *notifierSpy) BookingConfirmed(_ context.Context, b *model.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bookings = append(n.bookings, *b)
	return nil
}

func (n *notifierSpy) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.bookings)
}

func paid(amount uint32) model.PaymentEvidence {
	return model.PaymentEvidence{OrderID: "order-1", PaymentID: "pay-1", AmountCents: amount, Signature: "sig"}
}

func lockAll(t *testing.T, f *fixture, holder uint64, labels ...string) {
	t.Helper()
	for _, l := range labels {
		_, err := f.locks.Lock(context.Background(), LockRequest{ShowID: 1, Label: l, Holder: holder, ConnectionID: "conn"})
		require.NoError(t, err)
	}
}

func TestFinalizer_FinalizeBooksHeldSeats(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, paid(2000)).Return(true, nil).Once()
	spy := &notifierSpy{}
	fin := NewFinalizer(f.store, f.locks, v, spy, f.log)

	lockAll(t, f, 42, "C7", "C8")
	f.clock.Advance(time.Minute)

	b, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"C7", "C8", "C7"}, Holder: 42, Payment: paid(2000)})
	require.NoError(t, err)
	assert.Equal(t, []string{"C7", "C8"}, b.SeatLabels)
	assert.Equal(t, uint32(2000), b.AmountCents)
	assert.Equal(t, "order-1", b.PaymentOrderID)
	assert.Equal(t, model.SeatBooked, f.seat(t, "C7").Status)
	assert.Equal(t, model.SeatBooked, f.seat(t, "C8").Status)
	assert.Zero(t, f.locks.Pending())
	assert.Nil(t, f.tracker.Seats("conn"))
	assert.Equal(t, []model.SeatStatus{model.SeatLocked, model.SeatLocked, model.SeatBooked, model.SeatBooked}, f.events.Statuses())
	assert.Eventually(t, func() bool { return spy.Len() == 1 }, time.Second, 5*time.Millisecond)
	v.AssertExpectations(t)
}

func TestFinalizer_PaymentNotVerified(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(false, nil).Once()
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "C7")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"C7"}, Holder: 42, Payment: paid(1000)})
	assert.ErrorIs(t, err, ErrPaymentNotVerified)
	assert.True(t, f.seat(t, "C7").HeldBy(42))
	v.AssertExpectations(t)
}

func TestFinalizer_VerifierErrorIsNotADenial(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(false, errors.New("no secret"))
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "C7")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"C7"}, Holder: 42, Payment: paid(1000)})
	require.Error(t, err)
	assert.False(t, IsDenial(err))
}

// A1/A2: the holder's lock runs out before payment returns.  Nothing is
// booked even though the sweeper has not reclaimed the seat yet.
func TestFinalizer_RejectsAfterExpiry(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(true, nil)
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "A1", "A2")

	f.clock.Advance(5*time.Minute + time.Second)
	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"A1", "A2"}, Holder: 42, Payment: paid(2000)})
	assert.ErrorIs(t, err, repository.ErrSeatsNotHeld)
	assert.Zero(t, f.ledger.Len())
	assert.Equal(t, model.SeatLocked, f.seat(t, "A1").Status)

	// after the sweep another customer can take the seat
	_, err = NewSweeper(f.store, f.locks, f.log, time.Second, 0).Sweep(context.Background())
	require.NoError(t, err)
	_, err = f.locks.Lock(context.Background(), LockRequest{ShowID: 1, Label: "A1", Holder: 43})
	assert.NoError(t, err)
}

func TestFinalizer_PartialHoldRejectsEverything(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(true, nil)
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "B1")
	lockAll(t, f, 43, "B2")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"B1", "B2"}, Holder: 42, Payment: paid(2000)})
	assert.ErrorIs(t, err, repository.ErrSeatsNotHeld)
	assert.True(t, f.seat(t, "B1").HeldBy(42))
	assert.True(t, f.seat(t, "B2").HeldBy(43))
}

func TestFinalizer_AmountMismatch(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(true, nil)
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "B1", "B2")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"B1", "B2"}, Holder: 42, Payment: paid(1000)})
	assert.ErrorIs(t, err, repository.ErrAmountMismatch)
	assert.True(t, f.seat(t, "B1").HeldBy(42))
}

func TestFinalizer_RejectsReusedPayment(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	v.On("Verify", mock.Anything, paid(1000)).Return(true, nil)
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)
	lockAll(t, f, 42, "A1", "A2")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"A1"}, Holder: 42, Payment: paid(1000)})
	require.NoError(t, err)

	_, err = fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"A2"}, Holder: 42, Payment: paid(1000)})
	assert.ErrorIs(t, err, repository.ErrPaymentReused)
	assert.True(t, IsDenial(err))
	assert.Equal(t, 1, f.ledger.Len())
	assert.True(t, f.seat(t, "A2").HeldBy(42))
	assert.Equal(t, 1, f.locks.Pending(), "A2 keeps its timer")
}

type brokenLedger struct {
	*repository.MemoryLedger
}

func (brokenLedger) Record(context.Context, *model.Booking) error {
	return errors.New("ledger write failed")
}

func TestFinalizer_LedgerFailureLeavesSeatsHeld(t *testing.T) {
	f := newFixture(t, 5*time.Minute, brokenLedger{repository.NewMemoryLedger()})
	v := &verifierMock{}
	v.On("Verify", mock.Anything, mock.Anything).Return(true, nil)
	spy := &notifierSpy{}
	fin := NewFinalizer(f.store, f.locks, v, spy, f.log)
	lockAll(t, f, 42, "C1", "C2", "C3")

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"C1", "C2", "C3"}, Holder: 42, Payment: paid(3000)})
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.False(t, IsDenial(err))
	for _, l := range []string{"C1", "C2", "C3"} {
		assert.True(t, f.seat(t, l).HeldBy(42), l)
	}
	assert.Equal(t, 3, f.locks.Pending())
	assert.Len(t, f.events.Events(), 3, "no booked events for a failed finalize")
	assert.Zero(t, spy.Len())
}

// B3: payment fails, the client rolls back and somebody else takes the seat.
func TestFinalizer_RollbackThenRelock(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	fin := NewFinalizer(f.store, f.locks, &verifierMock{}, nil, f.log)
	lockAll(t, f, 42, "C7", "C8")
	lockAll(t, f, 43, "C9")

	released, err := fin.RollbackOnFailedPayment(context.Background(), RollbackRequest{ShowID: 1, Labels: []string{"C7", "C8", "C9", "C8"}, Holder: 42})
	require.NoError(t, err)
	require.Len(t, released, 2)
	assert.Equal(t, model.SeatAvailable, f.seat(t, "C7").Status)
	assert.True(t, f.seat(t, "C9").HeldBy(43), "other holder untouched")
	assert.Equal(t, 1, f.locks.Pending())

	seat, err := f.locks.Lock(context.Background(), LockRequest{ShowID: 1, Label: "C7", Holder: 44})
	require.NoError(t, err)
	assert.True(t, seat.HeldBy(44))
}

func TestFinalizer_EmptyRequests(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	v := &verifierMock{}
	fin := NewFinalizer(f.store, f.locks, v, nil, f.log)

	_, err := fin.Finalize(context.Background(), FinalizeRequest{ShowID: 1, Labels: []string{"", ""}, Holder: 1})
	assert.ErrorIs(t, err, ErrNoSeats)
	_, err = fin.RollbackOnFailedPayment(context.Background(), RollbackRequest{ShowID: 1, Holder: 1})
	assert.ErrorIs(t, err, ErrNoSeats)
	v.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}
