// Package room runs the rentable room lifecycle: check-in, reservation,
// extension, manual clear and the expiry sweep with rollover into a
// pre-reservation.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venue-backend/internal/metrics"
	"venue-backend/internal/model"
	"venue-backend/internal/parse"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
)

// AvailabilityNotifier is told when a room becomes free.
type AvailabilityNotifier interface {
	RoomAvailable(ctx context.Context, resourceID string)
}

// Options configures a Service.
type Options struct {
	SlotUnit time.Duration
	MaxSlots int
	// ReserveSlots is the length of a pre-reservation in slot units.
	ReserveSlots int
	// OperatorChannel receives ambiguous-state reports; empty disables them.
	OperatorChannel string
	Location        *time.Location
}

// Service is the room lifecycle. User operations and sweeps are serialized.
type Service struct {
	store    store.Store
	tr       transport.Transport
	notifier AvailabilityNotifier
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewService creates a room service. notifier may be nil.
func NewService(st store.Store, tr transport.Transport, notifier AvailabilityNotifier, opts Options, logger zerolog.Logger) *Service {
	if opts.SlotUnit <= 0 {
		opts.SlotUnit = time.Hour
	}
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = 6
	}
	if opts.ReserveSlots <= 0 {
		opts.ReserveSlots = 2
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store:    st,
		tr:       tr,
		notifier: notifier,
		opts:     opts,
		log:      logger.With().Str("component", "room").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the time source. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) reserveDuration() time.Duration {
	return s.opts.SlotUnit * time.Duration(s.opts.ReserveSlots)
}

func (s *Service) slots(n int) (time.Duration, error) {
	if n < 1 || n > s.opts.MaxSlots {
		return 0, fmt.Errorf("%w: choose between 1 and %d", ErrInvalidSlots, s.opts.MaxSlots)
	}
	return s.opts.SlotUnit * time.Duration(n), nil
}

// CheckIn starts an occupancy of slots slot-units for holder. cc is an
// optional second user notified at checkout.
func (s *Service) CheckIn(ctx context.Context, resourceID, holder string, slots int, cc string) (model.Reservation, error) {
	dur, err := s.slots(slots)
	if err != nil {
		return model.Reservation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := model.Reservation{
		ResourceID:      resourceID,
		HolderUserID:    holder,
		DurationSeconds: int64(dur / time.Second),
		EndTime:         s.now().Add(dur).Unix(),
		CCUserID:        cc,
	}
	if err := s.store.InsertReservation(ctx, &r); err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			return model.Reservation{}, ErrResourceBusy
		}
		return model.Reservation{}, err
	}
	metrics.RoomTransitions.WithLabelValues("check_in").Inc()

	s.renderCountdown(ctx, &r)
	labels := []transport.Label{transport.LabelOccupied}
	if s.hasQueued(ctx, resourceID) {
		labels = append(labels, transport.LabelReserved)
	}
	if err := s.tr.ApplyLabels(ctx, resourceID, labels...); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to label room occupied")
	}

	s.log.Info().Str("resource", resourceID).Str("holder", holder).Int("slots", slots).Time("ends", r.EndsAt()).Msg("checked in")
	return r, nil
}

// ReserveNext holds the room for holder for the reserve duration. A free room
// is held immediately; an occupied one gets a queued pre-reservation that
// becomes active when the occupancy expires.
func (s *Service) ReserveNext(ctx context.Context, resourceID, holder string) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.ReservationsFor(ctx, resourceID)
	if err != nil {
		return model.Reservation{}, err
	}
	occupancy := findOccupancy(rows)

	dur := s.reserveDuration()
	r := model.Reservation{
		ResourceID:      resourceID,
		HolderUserID:    holder,
		DurationSeconds: int64(dur / time.Second),
		IsReservation:   true,
	}
	if occupancy != nil {
		r.EndTime = occupancy.EndsAt().Add(dur).Unix()
	} else {
		r.EndTime = s.now().Add(dur).Unix()
	}
	if err := s.store.InsertReservation(ctx, &r); err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			return model.Reservation{}, ErrAlreadyReserved
		}
		return model.Reservation{}, err
	}
	metrics.RoomTransitions.WithLabelValues("reserve").Inc()

	labels := []transport.Label{transport.LabelReserved}
	if occupancy != nil {
		labels = []transport.Label{transport.LabelOccupied, transport.LabelReserved}
	} else {
		s.renderCountdown(ctx, &r)
	}
	if err := s.tr.ApplyLabels(ctx, resourceID, labels...); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to label room reserved")
	}

	s.log.Info().Str("resource", resourceID).Str("holder", holder).Bool("queued", occupancy != nil).Time("ends", r.EndsAt()).Msg("reserved")
	return r, nil
}

// Extend adds slots slot-units to the single occupancy of the room. Zero or
// several occupancies abort with store.ErrAmbiguousState and are reported to
// the operator channel.
func (s *Service) Extend(ctx context.Context, resourceID string, slots int) (model.Reservation, error) {
	add, err := s.slots(slots)
	if err != nil {
		return model.Reservation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.ExtendOccupancy(ctx, resourceID, add)
	if err != nil {
		if IsAmbiguous(err) {
			s.log.Error().Err(err).Str("resource", resourceID).Msg("cannot extend room")
			s.operatorNotice(ctx, fmt.Sprintf("Could not extend %s: %v", resourceID, err))
		}
		return model.Reservation{}, err
	}
	metrics.RoomTransitions.WithLabelValues("extend").Inc()

	if r.MessageRef != "" {
		if err := s.tr.Edit(ctx, r.MessageRef, s.countdown(r)); err != nil {
			if !transport.IsNotFound(err) {
				s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to re-render countdown")
			} else {
				s.log.Warn().Err(err).Str("resource", resourceID).Msg("countdown message is gone")
			}
		}
	}
	s.log.Info().Str("resource", resourceID).Int("slots", slots).Time("ends", r.EndsAt()).Msg("extended")
	return r, nil
}

// Clear removes every hold on the room and all engine-authored messages in
// its channel.
func (s *Service) Clear(ctx context.Context, resourceID string) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.store.ClearResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	metrics.RoomTransitions.WithLabelValues("clear").Inc()

	if err := s.tr.PurgeAuthored(ctx, resourceID); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to purge room messages")
	}
	s.markAvailable(ctx, resourceID)
	s.log.Info().Str("resource", resourceID).Int("removed", len(removed)).Msg("cleared")
	return removed, nil
}

// Queue lists every hold ordered by end time.
func (s *Service) Queue(ctx context.Context) ([]model.Reservation, error) {
	return s.store.ListReservations(ctx)
}

// Stats returns the usage counters of a room; rooms never rented report zeros.
func (s *Service) Stats(ctx context.Context, resourceID string) (model.RoomStats, error) {
	stats, err := s.store.RoomStats(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return model.RoomStats{ResourceID: resourceID}, nil
	}
	return stats, err
}

func (s *Service) hasQueued(ctx context.Context, resourceID string) bool {
	rows, err := s.store.ReservationsFor(ctx, resourceID)
	if err != nil {
		s.log.Warn().Err(err).Str("resource", resourceID).Msg("failed to look up queued reservation")
		return false
	}
	for _, r := range rows {
		if r.IsReservation {
			return true
		}
	}
	return false
}

func findOccupancy(rows []model.Reservation) *model.Reservation {
	for i := range rows {
		if !rows[i].IsReservation {
			return &rows[i]
		}
	}
	return nil
}

// renderCountdown posts the countdown of r and stores its ref. Failures are
// logged; the hold stands without a message.
func (s *Service) renderCountdown(ctx context.Context, r *model.Reservation) {
	ref, err := s.tr.Render(ctx, r.ResourceID, s.countdown(*r))
	if err != nil {
		s.log.Error().Err(err).Str("resource", r.ResourceID).Msg("failed to render countdown")
		return
	}
	if err := s.store.SetReservationMessage(ctx, r.ID, ref); err != nil {
		s.log.Error().Err(err).Str("resource", r.ResourceID).Msg("failed to store countdown ref")
		return
	}
	r.MessageRef = ref
}

func (s *Service) countdown(r model.Reservation) transport.Message {
	var b strings.Builder
	who := "the next guest"
	if r.HolderUserID != "" {
		who = s.tr.Mention(r.HolderUserID)
	}
	if r.IsReservation {
		fmt.Fprintf(&b, "Reserved for %s until %s", who, s.when(r.EndTime))
	} else {
		fmt.Fprintf(&b, "Occupied by %s until %s (%s)", who, s.when(r.EndTime), parse.FormatDuration(r.EndsAt().Sub(s.now()).Round(time.Minute)))
	}
	if r.CCUserID != "" {
		fmt.Fprintf(&b, "\nCC: %s", s.tr.Mention(r.CCUserID))
	}
	return transport.Message{Text: b.String()}
}

func (s *Service) when(unix int64) string {
	return time.Unix(unix, 0).In(s.opts.Location).Format("3:04 PM MST")
}

func (s *Service) markAvailable(ctx context.Context, resourceID string) {
	if err := s.tr.ApplyLabels(ctx, resourceID, transport.LabelAvailable); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to label room available")
	}
	if s.notifier != nil {
		s.notifier.RoomAvailable(ctx, resourceID)
	}
}

func (s *Service) operatorNotice(ctx context.Context, text string) {
	if s.opts.OperatorChannel == "" {
		return
	}
	if err := s.tr.NotifyChannel(ctx, s.opts.OperatorChannel, text); err != nil {
		s.log.Warn().Err(err).Msg("failed to send operator notice")
	}
}
