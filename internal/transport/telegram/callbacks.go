package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"venue-backend/internal/auction"
	"venue-backend/internal/parse"
	"venue-backend/internal/transport"
)

const (
	callbackNoop    = "noop"
	callbackSep     = "|"
	callbackTimeout = 10 * time.Second
)

// Bidder places bids on behalf of button presses and /bid commands.
type Bidder interface {
	PlaceBid(ctx context.Context, resourceID, bidder, rawAmount string) (auction.BidResult, error)
}

func encodeCallback(action, payload string) string {
	return action + callbackSep + payload
}

func decodeCallback(data string) (action, payload string) {
	action, payload, _ = strings.Cut(strings.TrimSpace(data), callbackSep)
	return action, payload
}

// Handle registers the bid button, the /bid command and confirmation
// buttons. Call before Start.
func (a *Adapter) Handle(bidder Bidder) {
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil {
			return nil
		}
		a.remember(cb.Sender)
		userID := strconv.FormatInt(cb.Sender.ID, 10)

		action, payload := decodeCallback(cb.Data)
		switch action {
		case transport.ActionBid:
			ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			res, err := bidder.PlaceBid(ctx, payload, userID, "")
			return c.Respond(&tele.CallbackResponse{Text: a.bidReply(payload, res, err)})
		case transport.ActionCustomBid:
			return c.Respond(&tele.CallbackResponse{
				Text:      "Send /bid <amount> in this topic to bid a custom amount, e.g. /bid 1.5m",
				ShowAlert: true,
			})
		case transport.ActionConfirm:
			token, answer, _ := strings.Cut(payload, ":")
			if !a.resolveConfirm(token, userID, answer == "yes") {
				return c.Respond(&tele.CallbackResponse{Text: "This confirmation is not yours or has expired."})
			}
			return c.Respond()
		default:
			return c.Respond()
		}
	})

	a.bot.Handle("/bid", func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.remember(m.Sender)
		resource := ChannelID(m.Chat.ID, m.ThreadID)

		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		res, err := bidder.PlaceBid(ctx, resource, strconv.FormatInt(m.Sender.ID, 10), m.Payload)
		return c.Reply(a.bidReply(resource, res, err))
	})
}

func (a *Adapter) bidReply(resource string, res auction.BidResult, err error) string {
	switch {
	case err == nil:
		return "Bid accepted: " + parse.FormatAmount(res.Total)
	case auction.IsUserError(err):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		a.log.Warn().Err(err).Str("resource", resource).Msg("bid timed out")
		return "The auction is busy, please try again."
	default:
		a.log.Error().Err(err).Str("resource", resource).Msg("bid failed")
		return "Something went wrong, please try again."
	}
}

type pendingConfirm struct {
	userID string
	result chan auction.Decision
}

var _ auction.Confirmer = (*Adapter)(nil)

// Confirm posts prompt with Yes/No buttons in the resource's topic and waits
// for userID to answer. It returns TimedOut when ctx ends first.
func (a *Adapter) Confirm(ctx context.Context, resource, userID, prompt string) (auction.Decision, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	p := &pendingConfirm{userID: userID, result: make(chan auction.Decision, 1)}

	a.confirmMu.Lock()
	a.confirms[token] = p
	a.confirmMu.Unlock()
	defer func() {
		a.confirmMu.Lock()
		delete(a.confirms, token)
		a.confirmMu.Unlock()
	}()

	ref, err := a.Render(ctx, resource, transport.Message{
		Text: prompt,
		Controls: []transport.Control{
			{Label: "Yes", Action: transport.ActionConfirm, Payload: token + ":yes"},
			{Label: "No", Action: transport.ActionConfirm, Payload: token + ":no"},
		},
	})
	if err != nil {
		return auction.Denied, err
	}
	defer func() {
		if err := a.Delete(context.Background(), ref); err != nil && !errors.Is(err, transport.ErrNotFound) {
			a.log.Warn().Err(err).Str("ref", ref).Msg("failed to remove confirmation prompt")
		}
	}()

	select {
	case d := <-p.result:
		return d, nil
	case <-ctx.Done():
		return auction.TimedOut, nil
	}
}

func (a *Adapter) resolveConfirm(token, userID string, yes bool) bool {
	a.confirmMu.Lock()
	p, ok := a.confirms[token]
	a.confirmMu.Unlock()
	if !ok || p.userID != userID {
		return false
	}
	d := auction.Denied
	if yes {
		d = auction.Confirmed
	}
	select {
	case p.result <- d:
	default:
	}
	return true
}

// Canceller cancels auctions after asking the caller to confirm.
type Canceller interface {
	Cancel(ctx context.Context, resourceID, userID, reason string, confirmer auction.Confirmer) (auction.Decision, error)
}

// HandleCancel registers /cancel [reason]. The sender confirms with the
// Yes/No buttons posted in the topic.
func (a *Adapter) HandleCancel(svc Canceller) {
	a.bot.Handle("/cancel", func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.remember(m.Sender)
		resource := ChannelID(m.Chat.ID, m.ThreadID)

		d, err := svc.Cancel(context.Background(), resource, strconv.FormatInt(m.Sender.ID, 10), m.Payload, a)
		switch {
		case err == nil && d == auction.Confirmed:
			return nil
		case err == nil && d == auction.TimedOut:
			return c.Reply("No answer, the auction keeps running.")
		case err == nil:
			return c.Reply("Okay, the auction keeps running.")
		case auction.IsUserError(err):
			return c.Reply(err.Error())
		default:
			a.log.Error().Err(err).Str("resource", resource).Msg("cancel failed")
			return c.Reply("Something went wrong, please try again.")
		}
	})
}
