package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

func TestSweeper_ReleasesExpiredLocksWithoutTimers(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	ctx := context.Background()
	for _, l := range []string{"A1", "A2", "A3"} {
		_, err := f.locks.Lock(ctx, LockRequest{ShowID: 1, Label: l, Holder: 1, ConnectionID: "c1"})
		require.NoError(t, err)
	}
	f.clock.Advance(time.Minute)
	_, err := f.locks.Lock(ctx, LockRequest{ShowID: 1, Label: "B1", Holder: 2})
	require.NoError(t, err)

	// as after a restart: no timer will ever fire
	f.locks.Close()
	sw := NewSweeper(f.store, f.locks, f.log, time.Second, 0)

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has expired yet")
	assert.Len(t, f.events.Events(), 4)

	f.clock.Advance(4 * time.Minute)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, l := range []string{"A1", "A2", "A3"} {
		assert.Equal(t, model.SeatAvailable, f.seat(t, l).Status)
	}
	assert.True(t, f.seat(t, "B1").HeldBy(2))
	assert.Nil(t, f.tracker.Seats("c1"))

	statuses := f.events.Statuses()
	require.Len(t, statuses, 7)
	assert.Equal(t, []model.SeatStatus{model.SeatAvailable, model.SeatAvailable, model.SeatAvailable}, statuses[4:])

	// idempotent
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.events.Events(), 7)
}

func TestSweeper_DrainsInBatches(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	ctx := context.Background()
	for _, l := range []string{"A1", "A2", "A3", "A4", "A5"} {
		_, err := f.locks.Lock(ctx, LockRequest{ShowID: 1, Label: l, Holder: 1})
		require.NoError(t, err)
	}
	f.clock.Advance(2 * time.Minute)

	n, err := NewSweeper(f.store, f.locks, f.log, time.Second, 2).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, f.locks.Pending())
}

type failingSweepStore struct {
	SeatStore
}

func (failingSweepStore) SweepExpired(context.Context, time.Time, int) ([]model.Seat, error) {
	return nil, errors.New("connection refused")
}

func TestSweeper_StartKeepsRunningAfterErrors(t *testing.T) {
	f := newFixture(t, 5*time.Minute, nil)
	sw := NewSweeper(failingSweepStore{f.store}, f.locks, f.log, 5*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}

func TestSweeper_StartReleasesOnTick(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	ctx := context.Background()
	_, err := f.locks.Lock(ctx, LockRequest{ShowID: 1, Label: "C3", Holder: 5})
	require.NoError(t, err)
	f.locks.Close()
	f.clock.Advance(time.Minute)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go NewSweeper(f.store, f.locks, f.log, 5*time.Millisecond, 10).Start(runCtx)

	assert.Eventually(t, func() bool {
		return f.seat(t, "C3").Status == model.SeatAvailable
	}, time.Second, 5*time.Millisecond)
}
