package auction

import (
	"fmt"
	"strings"
	"time"

	"venue-backend/internal/model"
	"venue-backend/internal/parse"
	"venue-backend/internal/transport"
)

const (
	labelBid       = "Bid!"
	labelCustomBid = "Custom Bid Amount"
	noReason       = "No reason given"
)

func (s *Service) money(n int64) string {
	return parse.FormatAmount(n) + " " + s.opts.Currency
}

func (s *Service) when(unix int64) string {
	return time.Unix(unix, 0).In(s.opts.Location).Format("Mon Jan 2 3:04 PM MST")
}

func (s *Service) infoMessage(a model.Auction) transport.Message {
	left := a.EndsAt().Sub(s.now()).Round(time.Minute)
	return transport.Message{Text: fmt.Sprintf(
		"Auction ends %s (in %s)\nStarting bid: %s\nBid increment: %s",
		s.when(a.EndTime), parse.FormatDuration(left), s.money(a.BidCurrent), s.money(a.BidIncrement),
	)}
}

func (s *Service) announcement(a model.Auction, ping string) transport.Message {
	var b strings.Builder
	if ping != "" {
		b.WriteString(ping + " ")
	}
	fmt.Fprintf(&b, "An auction is running in %s!\nStarting bid: %s\nEnds %s",
		a.ResourceID, s.money(a.BidCurrent), s.when(a.EndTime))
	return transport.Message{Text: b.String()}
}

func (s *Service) bidMessage(a model.Auction) transport.Message {
	verb := "Current bid"
	if a.BidCount == 0 {
		verb = "Starting bid"
	}
	return transport.Message{
		Text: fmt.Sprintf("%s: %s\n%d Bid(s)", verb, s.money(a.BidCurrent), a.BidCount),
		Controls: []transport.Control{
			{Label: labelBid, Action: transport.ActionBid, Payload: a.ResourceID},
			{Label: labelCustomBid, Action: transport.ActionCustomBid, Payload: a.ResourceID},
		},
	}
}

func (s *Service) settlementStats(st model.Settlement) string {
	if !st.HasWinner() {
		return fmt.Sprintf("This auction has ended with no winner.\nTotal bids: %d", st.BidCount)
	}
	return fmt.Sprintf("This auction has ended!\nWinner: %s\nWinning bid: %s\nTotal bids: %d",
		s.tr.Mention(st.WinnerUserID), s.money(st.FinalBid), st.BidCount)
}

func (s *Service) settledAnnouncement(st model.Settlement) transport.Message {
	if !st.HasWinner() {
		return transport.Message{Text: fmt.Sprintf("The auction in %s has ended with no winner.", st.ResourceID)}
	}
	return transport.Message{Text: fmt.Sprintf("The auction in %s has ended! %s won with a bid of %s.",
		st.ResourceID, s.tr.Mention(st.WinnerUserID), s.money(st.FinalBid))}
}
