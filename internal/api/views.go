package api

import (
	"time"

	"venue-backend/internal/model"
	"venue-backend/internal/store"
)

type reservationView struct {
	ID            int64     `json:"id"`
	ResourceID    string    `json:"resource_id"`
	Holder        string    `json:"holder"`
	CC            string    `json:"cc,omitempty"`
	IsReservation bool      `json:"is_reservation"`
	Duration      string    `json:"duration"`
	EndsAt        time.Time `json:"ends_at"`
}

func toReservation(r model.Reservation) reservationView {
	return reservationView{
		ID:            r.ID,
		ResourceID:    r.ResourceID,
		Holder:        r.HolderUserID,
		CC:            r.CCUserID,
		IsReservation: r.IsReservation,
		Duration:      r.Duration().String(),
		EndsAt:        r.EndsAt().UTC(),
	}
}

func toReservations(rows []model.Reservation) []reservationView {
	out := make([]reservationView, len(rows))
	for i, r := range rows {
		out[i] = toReservation(r)
	}
	return out
}

type auctionView struct {
	ResourceID   string    `json:"resource_id"`
	EndsAt       time.Time `json:"ends_at"`
	BidCurrent   int64     `json:"bid_current"`
	BidIncrement int64     `json:"bid_increment"`
	BidCount     int       `json:"bid_count"`
	LastBidder   string    `json:"last_bidder,omitempty"`
}

func toAuction(a model.Auction) auctionView {
	return auctionView{
		ResourceID:   a.ResourceID,
		EndsAt:       a.EndsAt().UTC(),
		BidCurrent:   a.BidCurrent,
		BidIncrement: a.BidIncrement,
		BidCount:     a.BidCount,
		LastBidder:   a.LastBidderUserID,
	}
}

type participantView struct {
	UserID    string `json:"user_id"`
	BestTotal int64  `json:"best_total"`
}

func toParticipants(ps []store.Participant) []participantView {
	out := make([]participantView, len(ps))
	for i, p := range ps {
		out[i] = participantView{UserID: p.UserID, BestTotal: p.BestTotal}
	}
	return out
}

type settlementView struct {
	ResourceID string     `json:"resource_id"`
	Winner     string     `json:"winner,omitempty"`
	FinalBid   int64      `json:"final_bid"`
	BidCount   int        `json:"bid_count"`
	SettledAt  time.Time  `json:"settled_at"`
	Delivered  *time.Time `json:"delivered_at,omitempty"`
}

func toSettlements(rows []model.Settlement) []settlementView {
	out := make([]settlementView, len(rows))
	for i, s := range rows {
		out[i] = settlementView{
			ResourceID: s.ResourceID,
			Winner:     s.WinnerUserID,
			FinalBid:   s.FinalBid,
			BidCount:   s.BidCount,
			SettledAt:  s.SettledAt.UTC(),
			Delivered:  s.DeliveredAt,
		}
	}
	return out
}
