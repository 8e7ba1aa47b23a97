// Package scheduler drives the room, auction and trigger sweeps from one
// recurring tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"venue-backend/internal/auction"
	"venue-backend/internal/logging"
	"venue-backend/internal/room"
	"venue-backend/internal/store"
)

// RoomSweeper expires due reservations.
type RoomSweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]room.CheckoutEvent, error)
}

// AuctionSweeper settles due auctions.
type AuctionSweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]auction.SettlementEvent, error)
}

// TriggerChecker fires due event triggers.
type TriggerChecker interface {
	Check(ctx context.Context, now time.Time) ([]string, error)
}

// Counter reports how much live state the store holds.
type Counter interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// Service runs the tick. The three sweeps run in order, each to completion,
// and a tick never overlaps another.
type Service struct {
	rooms    RoomSweeper
	auctions AuctionSweeper
	triggers TriggerChecker
	counter  Counter

	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a scheduler. Any sweeper may be nil.
func NewService(rooms RoomSweeper, auctions AuctionSweeper, triggers TriggerChecker, counter Counter, interval time.Duration, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if interval < time.Second {
		interval = time.Second
	}
	return &Service{
		rooms:    rooms,
		auctions: auctions,
		triggers: triggers,
		counter:  counter,
		interval: interval,
		loc:      loc,
		now:      time.Now,
		log:      logger.With().Str("component", "scheduler").Logger(),
	}
}

// WithClock replaces the clock used for ticks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run logs the restored state, ticks once and then every interval until ctx
// is done. It returns after the running tick, if any, finishes.
func (s *Service) Run(ctx context.Context) {
	s.restore(ctx)
	s.TickOnce(ctx)

	cl := logging.Cron(s.log)
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.TickOnce(ctx) }); err != nil {
		s.log.Error().Err(err).Str("spec", spec).Msg("failed to schedule tick")
		return
	}
	c.Start()
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Service) restore(ctx context.Context) {
	if s.counter == nil {
		return
	}
	counts, err := s.counter.Counts(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read restored state")
		return
	}
	s.log.Info().
		Int64("occupancies", counts.Occupancies).
		Int64("pre_reservations", counts.PreReservations).
		Int64("auctions", counts.Auctions).
		Int64("pending_settlements", counts.Pending).
		Msg("restored state")
}

// TickOnce runs one room sweep, one auction sweep and one trigger check.
// A failure or panic in one step is logged and does not skip the others.
func (s *Service) TickOnce(ctx context.Context) {
	now := s.now().In(s.loc)

	if s.rooms != nil {
		s.step("rooms", func() error {
			events, err := s.rooms.Sweep(ctx, now)
			if len(events) > 0 {
				s.log.Info().Int("checkouts", len(events)).Msg("room sweep")
			}
			return err
		})
	}
	if s.auctions != nil {
		s.step("auctions", func() error {
			events, err := s.auctions.Sweep(ctx, now)
			if len(events) > 0 {
				s.log.Info().Int("settlements", len(events)).Msg("auction sweep")
			}
			return err
		})
	}
	if s.triggers != nil {
		s.step("triggers", func() error {
			_, err := s.triggers.Check(ctx, now)
			return err
		})
	}
}

func (s *Service) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("sweep", name).Interface("panic", r).Msg("sweep panicked")
		}
	}()
	if err := fn(); err != nil {
		s.log.Error().Err(err).Str("sweep", name).Msg("sweep finished with errors")
	}
}
