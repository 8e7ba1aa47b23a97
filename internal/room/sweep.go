package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"venue-backend/internal/metrics"
	"venue-backend/internal/model"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
)

// CheckoutEvent describes one expired hold.
type CheckoutEvent struct {
	ResourceID string
	Vacated    model.Reservation
	// Rollover is the pre-reservation that took over, if any.
	Rollover *model.Reservation
	// Notify lists the users told about the transition.
	Notify []string
	CC     string
}

// Sweep checks out every hold whose end time is at or before now. An expired
// occupancy rolls over into a pre-reservation of the reserve duration when
// someone queued for the room or the room carries the reserved label. Items
// are independent: a failure is logged and the sweep moves on. The returned
// error joins the failures of the batch.
func (s *Service) Sweep(ctx context.Context, now time.Time) ([]CheckoutEvent, error) {
	defer metrics.ObserveSweep("room", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.store.DueReservations(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load due reservations: %w", err)
	}

	var (
		events []CheckoutEvent
		errs   []error
	)
	for _, r := range due {
		ev, err := s.checkout(ctx, r)
		switch {
		case errors.Is(err, store.ErrNotFound):
			metrics.SweepItems.WithLabelValues("room", "skipped").Inc()
			continue
		case ev == nil:
			metrics.SweepItems.WithLabelValues("room", "failed").Inc()
			s.log.Error().Err(err).Str("resource", r.ResourceID).Int64("reservation", r.ID).Msg("checkout failed")
			errs = append(errs, err)
			continue
		case err != nil:
			// Committed, but some effect failed.
			s.log.Error().Err(err).Str("resource", r.ResourceID).Int64("reservation", r.ID).Msg("checkout effects incomplete")
			errs = append(errs, err)
		}
		metrics.SweepItems.WithLabelValues("room", "processed").Inc()
		events = append(events, *ev)
	}
	return events, errors.Join(errs...)
}

// checkout commits the expiry of r and performs its external effects. A nil
// event means nothing was committed.
func (s *Service) checkout(ctx context.Context, r model.Reservation) (*CheckoutEvent, error) {
	var rollover time.Duration
	if !r.IsReservation {
		roll, err := s.shouldRollOver(ctx, r.ResourceID)
		if err != nil {
			return nil, err
		}
		if roll {
			rollover = s.reserveDuration()
		}
	}

	next, err := s.store.Checkout(ctx, r, rollover)
	if err != nil {
		return nil, err
	}
	kind := "checkout"
	if next != nil {
		kind = "rollover"
	}
	metrics.RoomTransitions.WithLabelValues(kind).Inc()

	ev := &CheckoutEvent{ResourceID: r.ResourceID, Vacated: r, Rollover: next, CC: r.CCUserID}
	logger := s.log.With().Str("resource", r.ResourceID).Int64("reservation", r.ID).Logger()
	var errs []error

	if r.MessageRef != "" {
		if err := s.tr.Delete(ctx, r.MessageRef); err != nil {
			if transport.IsNotFound(err) {
				logger.Warn().Err(err).Msg("countdown message already gone")
			} else {
				errs = append(errs, fmt.Errorf("delete countdown: %w", err))
			}
		}
	}

	text := fmt.Sprintf("Your time in %s is up.", r.ResourceID)
	if r.IsReservation {
		text = fmt.Sprintf("Your reservation of %s has expired.", r.ResourceID)
	}
	for _, user := range []string{r.HolderUserID, r.CCUserID} {
		if user == "" {
			continue
		}
		if s.notify(ctx, user, text) {
			ev.Notify = append(ev.Notify, user)
		}
	}

	switch {
	case next != nil:
		s.renderCountdown(ctx, next)
		if next.HolderUserID != "" {
			msg := fmt.Sprintf("Your reservation of %s is now active until %s.", r.ResourceID, s.when(next.EndTime))
			if s.notify(ctx, next.HolderUserID, msg) {
				ev.Notify = append(ev.Notify, next.HolderUserID)
			}
		}
		if err := s.tr.ApplyLabels(ctx, r.ResourceID, transport.LabelReserved); err != nil {
			errs = append(errs, fmt.Errorf("label reserved: %w", err))
		}
		logger.Info().Str("next_holder", next.HolderUserID).Time("reserved_until", next.EndsAt()).Msg("checked out with rollover")
	case r.IsReservation && s.occupied(ctx, r.ResourceID):
		if err := s.tr.ApplyLabels(ctx, r.ResourceID, transport.LabelOccupied); err != nil {
			errs = append(errs, fmt.Errorf("label occupied: %w", err))
		}
		logger.Info().Msg("pre-reservation expired")
	default:
		if err := s.tr.ApplyLabels(ctx, r.ResourceID, transport.LabelAvailable); err != nil {
			errs = append(errs, fmt.Errorf("label available: %w", err))
		}
		if s.notifier != nil {
			s.notifier.RoomAvailable(ctx, r.ResourceID)
		}
		logger.Info().Msg("checked out")
	}
	return ev, errors.Join(errs...)
}

// shouldRollOver reports whether someone queued for the room, either as a
// stored pre-reservation or through the reserved label.
func (s *Service) shouldRollOver(ctx context.Context, resourceID string) (bool, error) {
	if s.hasQueued(ctx, resourceID) {
		return true, nil
	}
	labels, err := s.tr.Labels(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to read labels of %s: %w", resourceID, err)
	}
	return transport.HasLabel(labels, transport.LabelReserved), nil
}

func (s *Service) occupied(ctx context.Context, resourceID string) bool {
	rows, err := s.store.ReservationsFor(ctx, resourceID)
	if err != nil {
		s.log.Warn().Err(err).Str("resource", resourceID).Msg("failed to look up occupancy")
		return false
	}
	return findOccupancy(rows) != nil
}

// notify messages a user, tolerating users the platform will not reach.
func (s *Service) notify(ctx context.Context, userID, text string) bool {
	err := s.tr.NotifyUser(ctx, userID, text)
	if err == nil {
		return true
	}
	if errors.Is(err, transport.ErrForbidden) || transport.IsNotFound(err) {
		s.log.Warn().Err(err).Str("user", userID).Msg("user unreachable")
	} else {
		s.log.Error().Err(err).Str("user", userID).Msg("failed to notify user")
	}
	return false
}
