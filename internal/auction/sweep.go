package auction

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

// SettlementEvent describes a delivered settlement.
type SettlementEvent struct {
	ResourceID      string
	WinnerUserID    string // model.NoBidder when nobody bid
	FinalBid        int64
	BidCount        int
	AnnouncementRef string
	// WinnerReached is false when the winner could not be messaged directly
	// and was announced in the auction's channel instead.
	WinnerReached bool
}

// HasWinner reports whether the auction closed with a winner.
func (e SettlementEvent) HasWinner() bool { return e.WinnerUserID != model.NoBidder }

// Sweep settles every auction whose end time is at or before now, then
// delivers all settlements not yet delivered. A settlement is committed
// before any external effect, so a crash between the two re-delivers it on
// the next sweep. Items are independent; the returned error joins the
// failures of the batch.
func (s *Service) Sweep(ctx context.Context, now time.Time) ([]SettlementEvent, error) {
	defer metrics.ObserveSweep("auction", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.store.DueAuctions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load due auctions: %w", err)
	}

	var errs []error
	for _, a := range due {
		if _, err := s.store.SettleAuction(ctx, a, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				metrics.SweepItems.WithLabelValues("auction", "skipped").Inc()
				continue
			}
			metrics.SweepItems.WithLabelValues("auction", "failed").Inc()
			s.log.Error().Err(err).Str("resource", a.ResourceID).Msg("failed to settle auction")
			errs = append(errs, err)
			continue
		}
		s.log.Info().Str("resource", a.ResourceID).Str("winner", a.LastBidderUserID).Int64("final_bid", a.BidCurrent).Msg("auction settled")
	}

	pending, err := s.store.PendingSettlements(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to load pending settlements: %w", err))
		return nil, errors.Join(errs...)
	}

	var events []SettlementEvent
	for _, st := range pending {
		ev, err := s.deliver(ctx, st, now)
		if err != nil {
			metrics.SweepItems.WithLabelValues("auction", "failed").Inc()
			s.log.Error().Err(err).Str("resource", st.ResourceID).Int64("settlement", st.ID).Msg("failed to deliver settlement; will retry")
			errs = append(errs, err)
			continue
		}
		if err := s.store.MarkSettlementDelivered(ctx, st.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark settlement %d delivered: %w", st.ID, err))
		}
		metrics.SweepItems.WithLabelValues("auction", "processed").Inc()
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

// deliver performs the external effects of a settlement. The public part
// (archive, disable bidding, purge, results post) runs once and is recorded
// on the settlement, so a retry only repeats the winner and operator notices.
func (s *Service) deliver(ctx context.Context, st model.Settlement, now time.Time) (SettlementEvent, error) {
	ev := SettlementEvent{
		ResourceID:      st.ResourceID,
		WinnerUserID:    st.WinnerUserID,
		FinalBid:        st.FinalBid,
		BidCount:        st.BidCount,
		AnnouncementRef: st.AnnouncementMessageRef,
	}
	resource := st.ResourceID
	logger := s.log.With().Str("resource", resource).Int64("settlement", st.ID).Logger()

	if st.AnnouncedAt == nil {
		if err := s.announceResults(ctx, st); err != nil {
			return ev, err
		}
		if err := s.store.MarkSettlementAnnounced(ctx, st.ID, now); err != nil {
			return ev, fmt.Errorf("failed to record results of %s: %w", resource, err)
		}
	}

	if st.HasWinner() {
		text := fmt.Sprintf("Congratulations! You won the auction in %s with a bid of %s.", resource, s.money(st.FinalBid))
		err := s.tr.NotifyUser(ctx, st.WinnerUserID, text)
		if err == nil {
			ev.WinnerReached = true
		} else {
			if errors.Is(err, transport.ErrForbidden) || transport.IsNotFound(err) {
				logger.Warn().Err(err).Str("winner", st.WinnerUserID).Msg("winner unreachable; announcing in channel")
			} else {
				logger.Error().Err(err).Str("winner", st.WinnerUserID).Msg("failed to notify winner; announcing in channel")
			}
			fallback := fmt.Sprintf("%s, you won this auction! Please contact staff to collect your prize.", s.tr.Mention(st.WinnerUserID))
			if err := s.tr.NotifyChannel(ctx, resource, fallback); err != nil {
				return ev, fmt.Errorf("failed to announce winner in %s: %w", resource, err)
			}
		}
	}

	if s.opts.OperatorChannel != "" {
		if err := s.tr.NotifyChannel(ctx, s.opts.OperatorChannel, s.settledAnnouncement(st).Text); err != nil {
			logger.Warn().Err(err).Msg("failed to send operator notice")
		}
	}
	return ev, nil
}

// announceResults archives the auction thread and publishes its outcome.
func (s *Service) announceResults(ctx context.Context, st model.Settlement) error {
	resource := st.ResourceID
	logger := s.log.With().Str("resource", resource).Logger()

	if err := s.tr.ApplyLabels(ctx, resource, transport.LabelArchived); err != nil {
		return fmt.Errorf("failed to archive %s: %w", resource, err)
	}

	if st.BidMessageRef != "" {
		final := model.Auction{ResourceID: resource, BidCurrent: st.FinalBid, BidCount: st.BidCount}
		if err := s.tr.Edit(ctx, st.BidMessageRef, transport.Disabled(s.bidMessage(final))); err != nil {
			if !transport.IsNotFound(err) {
				return fmt.Errorf("failed to disable bidding on %s: %w", resource, err)
			}
			logger.Warn().Err(err).Msg("bid message is gone; skipping disable")
		}
	}

	if err := s.tr.PurgeAuthored(ctx, resource); err != nil {
		return fmt.Errorf("failed to clear messages of %s: %w", resource, err)
	}

	if st.AnnouncementMessageRef != "" && s.opts.PublicChannel != "" {
		if err := s.tr.Edit(ctx, st.AnnouncementMessageRef, s.settledAnnouncement(st)); err != nil {
			if !transport.IsNotFound(err) {
				return fmt.Errorf("failed to update announcement of %s: %w", resource, err)
			}
			logger.Warn().Err(err).Msg("announcement is gone; skipping update")
		}
	}

	if err := s.tr.NotifyChannel(ctx, resource, s.settlementStats(st)); err != nil {
		return fmt.Errorf("failed to post results in %s: %w", resource, err)
	}
	return nil
}
