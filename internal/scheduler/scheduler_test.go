package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-backend/internal/auction"
	"venue-backend/internal/room"
	"venue-backend/internal/store"
)

type journal struct {
	mu    sync.Mutex
	steps []string
	times []time.Time
}

func (j *journal) add(step string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
	j.times = append(j.times, now)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type roomsFunc func(ctx context.Context, now time.Time) ([]room.CheckoutEvent, error)

func (f roomsFunc) Sweep(ctx context.Context, now time.Time) ([]room.CheckoutEvent, error) {
	return f(ctx, now)
}

type auctionsFunc func(ctx context.Context, now time.Time) ([]auction.SettlementEvent, error)

func (f auctionsFunc) Sweep(ctx context.Context, now time.Time) ([]auction.SettlementEvent, error) {
	return f(ctx, now)
}

type triggersFunc func(ctx context.Context, now time.Time) ([]string, error)

func (f triggersFunc) Check(ctx context.Context, now time.Time) ([]string, error) {
	return f(ctx, now)
}

type fixedCounts store.Counts

func (c fixedCounts) Counts(context.Context) (store.Counts, error) { return store.Counts(c), nil }

func newService(j *journal, roomsErr error, roomsPanic bool) *Service {
	rooms := roomsFunc(func(_ context.Context, now time.Time) ([]room.CheckoutEvent, error) {
		j.add("rooms", now)
		if roomsPanic {
			panic("boom")
		}
		return nil, roomsErr
	})
	auctions := auctionsFunc(func(_ context.Context, now time.Time) ([]auction.SettlementEvent, error) {
		j.add("auctions", now)
		return []auction.SettlementEvent{{ResourceID: "-100:1"}}, nil
	})
	triggers := triggersFunc(func(_ context.Context, now time.Time) ([]string, error) {
		j.add("triggers", now)
		return nil, nil
	})
	return NewService(rooms, auctions, triggers, fixedCounts{Auctions: 1}, time.Second, time.UTC, zerolog.Nop())
}

func TestTickOnce_Order(t *testing.T) {
	j := &journal{}
	loc := time.FixedZone("venue", -4*3600)
	fixed := time.Date(2026, 3, 7, 2, 0, 0, 0, time.UTC)
	s := newService(j, nil, false)
	s.loc = loc
	s.WithClock(func() time.Time { return fixed })

	s.TickOnce(context.Background())

	assert.Equal(t, []string{"rooms", "auctions", "triggers"}, j.snapshot())
	for _, now := range j.times {
		assert.Equal(t, loc, now.Location())
		assert.True(t, now.Equal(fixed))
		assert.Equal(t, 22, now.Hour())
	}
}

func TestTickOnce_FailuresDoNotSkipLaterSweeps(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		j := &journal{}
		newService(j, errors.New("db down"), false).TickOnce(context.Background())
		assert.Equal(t, []string{"rooms", "auctions", "triggers"}, j.snapshot())
	})
	t.Run("panic", func(t *testing.T) {
		j := &journal{}
		newService(j, nil, true).TickOnce(context.Background())
		assert.Equal(t, []string{"rooms", "auctions", "triggers"}, j.snapshot())
	})
}

func TestTickOnce_NilSweepers(t *testing.T) {
	s := NewService(nil, nil, nil, nil, 0, nil, zerolog.Nop())
	assert.NotPanics(t, func() { s.TickOnce(context.Background()) })
	assert.Equal(t, time.Second, s.interval)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	j := &journal{}
	s := newService(j, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(j.snapshot()) >= 6 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	steps := j.snapshot()
	for i := 0; i+2 < len(steps); i += 3 {
		assert.Equal(t, []string{"rooms", "auctions", "triggers"}, steps[i:i+3])
	}
}
