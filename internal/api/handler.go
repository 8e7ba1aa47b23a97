package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"venue-backend/internal/auction"
	"venue-backend/internal/model"
	"venue-backend/internal/mw"
	"venue-backend/internal/room"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
	"venue-backend/internal/trigger"
)

// Rooms is the room lifecycle as seen by the front end.
type Rooms interface {
	CheckIn(ctx context.Context, resourceID, holder string, slots int, cc string) (model.Reservation, error)
	ReserveNext(ctx context.Context, resourceID, holder string) (model.Reservation, error)
	Extend(ctx context.Context, resourceID string, slots int) (model.Reservation, error)
	Clear(ctx context.Context, resourceID string) ([]model.Reservation, error)
	Queue(ctx context.Context) ([]model.Reservation, error)
	Stats(ctx context.Context, resourceID string) (model.RoomStats, error)
}

// Auctions is the auction lifecycle as seen by the front end.
type Auctions interface {
	Begin(ctx context.Context, req auction.BeginRequest) (model.Auction, error)
	PlaceBid(ctx context.Context, resourceID, bidder, rawAmount string) (auction.BidResult, error)
	Extend(ctx context.Context, resourceID, rawDuration string) (model.Auction, error)
	Cancel(ctx context.Context, resourceID, userID, reason string, confirmer auction.Confirmer) (auction.Decision, error)
	ListParticipants(ctx context.Context, resourceID string, limit int) ([]store.Participant, error)
	Settlements(ctx context.Context, limit int) ([]model.Settlement, error)
}

// Triggers is the event trigger gate as seen by the front end.
type Triggers interface {
	Status() []trigger.Status
	Fire(ctx context.Context, name string) error
}

// Labeler reads and sets resource labels on the transport.
type Labeler interface {
	ApplyLabels(ctx context.Context, resource string, labels ...transport.Label) error
	Labels(ctx context.Context, resource string) ([]transport.Label, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	rooms    Rooms
	auctions Auctions
	triggers Triggers
	labels   Labeler
	webpush  *webpush.Options
	log      zerolog.Logger
}

// WithLabels enables the label routes.
func (h *Handler) WithLabels(l Labeler) *Handler {
	h.labels = l
	return h
}

// NewHandler creates a new API handler. Any dependency may be nil; the
// routes using it answer 503.
func NewHandler(s store.Store, rooms Rooms, auctions Auctions, triggers Triggers, webpushOptions *webpush.Options, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    s,
		rooms:    rooms,
		auctions: auctions,
		triggers: triggers,
		webpush:  webpushOptions,
		log:      logger.With().Str("component", "api").Logger(),
	}
}

var errMissingCaller = errors.New("missing " + mw.UserIDHeader + " header")

// caller returns the acting user or answers 401.
func caller(c *gin.Context) (string, bool) {
	id := c.GetHeader(mw.UserIDHeader)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMissingCaller.Error()})
		return "", false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auction.ErrNoActiveAuction),
		errors.Is(err, trigger.ErrUnknownTrigger),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAmbiguousState),
		errors.Is(err, auction.ErrDuplicateAuction),
		errors.Is(err, room.ErrResourceBusy),
		errors.Is(err, room.ErrAlreadyReserved):
		return http.StatusConflict
	case auction.IsUserError(err), room.IsUserError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	ev := h.log.Debug()
	if status == http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).Str("path", c.FullPath()).Str("request_id", mw.GetRequestID(c)).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// unavailable answers 503 when dep is nil.
func unavailable(c *gin.Context, ok bool, what string) bool {
	if ok {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not enabled"})
	return true
}
