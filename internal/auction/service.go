// Package auction runs timed auctions hosted on resources: opening, bid
// validation, extension, cancellation and settlement.
package auction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venue-backend/internal/metrics"
	"venue-backend/internal/model"
	"venue-backend/internal/parse"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
)

// Options configures a Service.
type Options struct {
	// MaxRaiseFactor caps a custom bid at MaxRaiseFactor times the current bid.
	MaxRaiseFactor    int64
	ConfirmTimeout    time.Duration
	ParticipantsLimit int
	Currency          string
	// PingRole prefixes public announcements of non-test auctions.
	PingRole string
	// PublicChannel receives announcements; empty posts them in the
	// auction's own channel.
	PublicChannel string
	// OperatorChannel receives settlement notices; empty disables them.
	OperatorChannel string
	Location        *time.Location
}

// Service is the auction lifecycle.
type Service struct {
	store store.Store
	tr    transport.Transport
	opts  Options
	log   zerolog.Logger
	now   func() time.Time

	// mu serializes bids and sweeps so edits of the bid message land in order.
	mu sync.Mutex
}

// NewService creates an auction service.
func NewService(st store.Store, tr transport.Transport, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxRaiseFactor <= 0 {
		opts.MaxRaiseFactor = 3
	}
	if opts.ParticipantsLimit <= 0 {
		opts.ParticipantsLimit = 10
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store: st,
		tr:    tr,
		opts:  opts,
		log:   logger.With().Str("component", "auction").Logger(),
		now:   time.Now,
	}
}

// WithClock replaces the time source. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BeginRequest carries the raw user input for opening an auction.
type BeginRequest struct {
	ResourceID   string
	Duration     string // e.g. "1d3h"
	StartingBid  string // e.g. "1.5m"
	BidIncrement string // e.g. "100k"
	// Test auctions are announced without pinging PingRole.
	Test bool
}

// Begin opens an auction on a resource labeled ready.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (model.Auction, error) {
	labels, err := s.tr.Labels(ctx, req.ResourceID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("failed to read labels of %s: %w", req.ResourceID, err)
	}
	if !transport.HasLabel(labels, transport.LabelReady) {
		return model.Auction{}, ErrNotReady
	}
	if _, err := s.store.GetAuction(ctx, req.ResourceID); err == nil {
		return model.Auction{}, ErrDuplicateAuction
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Auction{}, err
	}

	start, err := parse.ParseAbbreviatedNumber(parse.StripSeparators(req.StartingBid))
	if err != nil {
		return model.Auction{}, err
	}
	increment, err := parse.ParseAbbreviatedNumber(parse.StripSeparators(req.BidIncrement))
	if err != nil {
		return model.Auction{}, err
	}
	dur, end, err := parse.ParseDuration(req.Duration, s.now())
	if err != nil {
		return model.Auction{}, err
	}
	switch {
	case start <= 0:
		return model.Auction{}, fmt.Errorf("%w: starting bid must be positive", ErrInvalidAuction)
	case increment <= 0:
		return model.Auction{}, fmt.Errorf("%w: bid increment must be positive", ErrInvalidAuction)
	case dur <= 0:
		return model.Auction{}, fmt.Errorf("%w: duration must be positive", ErrInvalidAuction)
	}

	a := model.Auction{
		ResourceID:       req.ResourceID,
		EndTime:          end,
		BidIncrement:     increment,
		BidCurrent:       start,
		LastBidderUserID: model.NoBidder,
	}

	var rendered []string
	cleanup := func() {
		for _, ref := range rendered {
			if err := s.tr.Delete(context.WithoutCancel(ctx), ref); err != nil && !transport.IsNotFound(err) {
				s.log.Warn().Err(err).Str("ref", ref).Msg("failed to remove message of aborted auction")
			}
		}
	}
	render := func(channel string, msg transport.Message) (string, error) {
		ref, err := s.tr.Render(ctx, channel, msg)
		if err == nil {
			rendered = append(rendered, ref)
		}
		return ref, err
	}

	if a.InfoMessageRef, err = render(a.ResourceID, s.infoMessage(a)); err != nil {
		return model.Auction{}, fmt.Errorf("failed to render auction info: %w", err)
	}
	ping := s.opts.PingRole
	if req.Test {
		ping = ""
	}
	if a.AnnouncementMessageRef, err = render(s.publicChannel(a.ResourceID), s.announcement(a, ping)); err != nil {
		cleanup()
		return model.Auction{}, fmt.Errorf("failed to render auction announcement: %w", err)
	}
	if a.BidMessageRef, err = render(a.ResourceID, s.bidMessage(a)); err != nil {
		cleanup()
		return model.Auction{}, fmt.Errorf("failed to render bid message: %w", err)
	}

	if err := s.store.CreateAuction(ctx, &a); err != nil {
		cleanup()
		if errors.Is(err, store.ErrAuctionExists) {
			return model.Auction{}, ErrDuplicateAuction
		}
		return model.Auction{}, err
	}

	if err := s.tr.ApplyLabels(ctx, a.ResourceID, transport.LabelInProgress); err != nil {
		s.log.Error().Err(err).Str("resource", a.ResourceID).Msg("failed to label auction in progress")
	}
	s.log.Info().
		Str("resource", a.ResourceID).
		Int64("starting_bid", a.BidCurrent).
		Int64("increment", a.BidIncrement).
		Time("ends", a.EndsAt()).
		Bool("test", req.Test).
		Msg("auction started")
	return a, nil
}

func (s *Service) publicChannel(resourceID string) string {
	if s.opts.PublicChannel != "" {
		return s.opts.PublicChannel
	}
	return resourceID
}

// BidResult is an accepted bid.
type BidResult struct {
	Auction model.Auction
	Entry   model.BidHistoryEntry
	Total   int64
	Count   int
	// MessageRef is the bid message showing the new total.
	MessageRef string
}

// PlaceBid applies a bid from bidder. An empty rawAmount raises the current
// bid by the increment (the first bid takes the starting bid as is); anything
// else is a custom amount such as "1.5m".
func (s *Service) PlaceBid(ctx context.Context, resourceID, bidder, rawAmount string) (BidResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, entry, err := s.store.ApplyBid(ctx, resourceID, func(cur model.Auction) (model.BidHistoryEntry, error) {
		return s.decide(cur, bidder, rawAmount)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrNoActiveAuction
		}
		metrics.Bids.WithLabelValues(bidOutcome(err)).Inc()
		return BidResult{}, err
	}
	metrics.Bids.WithLabelValues("accepted").Inc()

	// The bid is committed; a stale bid message is fixed by the next bid.
	if err := s.tr.Edit(ctx, a.BidMessageRef, s.bidMessage(a)); err != nil {
		if transport.IsNotFound(err) {
			s.log.Warn().Err(err).Str("resource", resourceID).Msg("bid message is gone; skipping update")
		} else {
			s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to update bid message")
		}
	}

	s.log.Info().
		Str("resource", resourceID).
		Str("bidder", bidder).
		Int64("total", a.BidCurrent).
		Int("count", a.BidCount).
		Bool("fixed", entry.IsFixedAmount).
		Msg("bid accepted")
	return BidResult{Auction: a, Entry: entry, Total: a.BidCurrent, Count: a.BidCount, MessageRef: a.BidMessageRef}, nil
}

// decide validates a bid against the current row and returns the history
// entry describing it.
func (s *Service) decide(cur model.Auction, bidder, rawAmount string) (model.BidHistoryEntry, error) {
	if cur.LastBidderUserID != model.NoBidder && cur.LastBidderUserID == bidder {
		return model.BidHistoryEntry{}, ErrSelfOutbid
	}

	raw := parse.StripSeparators(rawAmount)
	if raw == "" {
		if cur.BidCount == 0 {
			return model.BidHistoryEntry{UserID: bidder, BidDelta: cur.BidCurrent, ResultingTotal: cur.BidCurrent, IsFixedAmount: true}, nil
		}
		if cur.BidIncrement > math.MaxInt64-cur.BidCurrent {
			return model.BidHistoryEntry{}, ErrBidTooHigh
		}
		return model.BidHistoryEntry{UserID: bidder, BidDelta: cur.BidIncrement, ResultingTotal: cur.BidCurrent + cur.BidIncrement}, nil
	}

	amount, err := parse.ParseAbbreviatedNumber(raw)
	if err != nil {
		return model.BidHistoryEntry{}, err
	}
	ceiling := s.maxBid(cur.BidCurrent)
	reject := func(reason error) error {
		return &BidRejection{
			Reason:    reason,
			Amount:    amount,
			Current:   cur.BidCurrent,
			Increment: cur.BidIncrement,
			Max:       ceiling,
		}
	}
	switch {
	case amount <= cur.BidCurrent:
		return model.BidHistoryEntry{}, reject(ErrBidTooLow)
	case amount-cur.BidCurrent < cur.BidIncrement:
		return model.BidHistoryEntry{}, reject(ErrBidIncrementTooSmall)
	case amount > ceiling:
		return model.BidHistoryEntry{}, reject(ErrBidTooHigh)
	}
	return model.BidHistoryEntry{UserID: bidder, BidDelta: amount - cur.BidCurrent, ResultingTotal: amount, IsFixedAmount: true}, nil
}

// maxBid is the highest custom amount accepted over current, saturating at
// the int64 limit.
func (s *Service) maxBid(current int64) int64 {
	if current > 0 && s.opts.MaxRaiseFactor > math.MaxInt64/current {
		return math.MaxInt64
	}
	return s.opts.MaxRaiseFactor * current
}

func bidOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveAuction):
		return "no_auction"
	case errors.Is(err, ErrSelfOutbid):
		return "self_outbid"
	case errors.Is(err, ErrBidTooLow):
		return "too_low"
	case errors.Is(err, ErrBidIncrementTooSmall):
		return "increment_too_small"
	case errors.Is(err, ErrBidTooHigh):
		return "too_high"
	case errors.Is(err, parse.ErrParse):
		return "unparsable"
	case errors.Is(err, store.ErrStaleWrite):
		return "conflict"
	default:
		return "error"
	}
}

// Extend pushes the end of a running auction by rawDuration and re-renders
// the info and announcement messages.
func (s *Service) Extend(ctx context.Context, resourceID, rawDuration string) (model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetAuction(ctx, resourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Auction{}, ErrNoActiveAuction
		}
		return model.Auction{}, err
	}
	labels, err := s.tr.Labels(ctx, resourceID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("failed to read labels of %s: %w", resourceID, err)
	}
	if !transport.HasLabel(labels, transport.LabelInProgress) {
		return model.Auction{}, ErrNotInProgress
	}
	dur, _, err := parse.ParseDuration(rawDuration, s.now())
	if err != nil {
		return model.Auction{}, err
	}
	if dur <= 0 {
		return model.Auction{}, fmt.Errorf("%w: extension must be positive", ErrInvalidAuction)
	}

	a, err := s.store.ExtendAuction(ctx, resourceID, dur)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Auction{}, ErrNoActiveAuction
		}
		return model.Auction{}, err
	}

	for ref, msg := range map[string]transport.Message{
		a.InfoMessageRef:         s.infoMessage(a),
		a.AnnouncementMessageRef: s.announcement(a, ""),
	} {
		if ref == "" {
			continue
		}
		if err := s.tr.Edit(ctx, ref, msg); err != nil && !transport.IsNotFound(err) {
			s.log.Error().Err(err).Str("resource", resourceID).Str("ref", ref).Msg("failed to re-render extended auction")
		}
	}
	s.log.Info().Str("resource", resourceID).Dur("added", dur).Time("ends", a.EndsAt()).Msg("auction extended")
	return a, nil
}

// Cancel asks userID to confirm, then removes the auction, clears labels and
// messages and posts a cancellation notice. Denied and TimedOut leave
// everything untouched.
func (s *Service) Cancel(ctx context.Context, resourceID, userID, reason string, confirmer Confirmer) (Decision, error) {
	if _, err := s.store.GetAuction(ctx, resourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Denied, ErrNoActiveAuction
		}
		return Denied, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	decision, err := confirmer.Confirm(cctx, resourceID, userID, "Are you sure you want to cancel this auction?")
	cancel()
	if err != nil {
		return Denied, fmt.Errorf("confirmation failed: %w", err)
	}
	if decision != Confirmed {
		s.log.Info().Str("resource", resourceID).Stringer("decision", decision).Msg("auction cancellation not confirmed")
		return decision, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.DeleteAuction(ctx, resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Denied, ErrNoActiveAuction
		}
		return Denied, err
	}

	if reason == "" {
		reason = noReason
	}
	if err := s.tr.ApplyLabels(ctx, resourceID); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to clear labels of cancelled auction")
	}
	if err := s.tr.PurgeAuthored(ctx, resourceID); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to delete messages of cancelled auction")
	}
	if err := s.tr.NotifyChannel(ctx, resourceID, "This auction has been cancelled.\nReason: "+reason); err != nil {
		s.log.Error().Err(err).Str("resource", resourceID).Msg("failed to post cancellation notice")
	}
	if a.AnnouncementMessageRef != "" && s.opts.PublicChannel != "" {
		msg := transport.Message{Text: fmt.Sprintf("The auction in %s has been cancelled.", resourceID)}
		if err := s.tr.Edit(ctx, a.AnnouncementMessageRef, msg); err != nil && !transport.IsNotFound(err) {
			s.log.Warn().Err(err).Str("resource", resourceID).Msg("failed to update announcement of cancelled auction")
		}
	}
	s.log.Info().Str("resource", resourceID).Str("by", userID).Str("reason", reason).Msg("auction cancelled")
	return Confirmed, nil
}

// ListParticipants returns bidders ordered by their best total. limit <= 0
// uses the configured default.
func (s *Service) ListParticipants(ctx context.Context, resourceID string, limit int) ([]store.Participant, error) {
	if limit <= 0 {
		limit = s.opts.ParticipantsLimit
	}
	a, err := s.store.GetAuction(ctx, resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveAuction
		}
		return nil, err
	}
	return s.store.Participants(ctx, a.ID, limit)
}

// Get returns the running auction of resourceID.
func (s *Service) Get(ctx context.Context, resourceID string) (model.Auction, error) {
	a, err := s.store.GetAuction(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return a, ErrNoActiveAuction
	}
	return a, err
}

// Settlements lists the most recent settlements.
func (s *Service) Settlements(ctx context.Context, limit int) ([]model.Settlement, error) {
	if limit <= 0 {
		limit = s.opts.ParticipantsLimit
	}
	return s.store.ListSettlements(ctx, limit)
}
