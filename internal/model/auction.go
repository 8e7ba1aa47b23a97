package model

import "time"

// NoBidder is the LastBidderUserID of an auction that has not received a bid.
const NoBidder = ""

// Auction is the live state of an auction hosted on a resource.
type Auction struct {
	ID                     int64  `gorm:"primaryKey;autoIncrement"`
	ResourceID             string `gorm:"size:64;not null;uniqueIndex"`
	InfoMessageRef         string `gorm:"size:128;not null;default:''"`
	BidMessageRef          string `gorm:"size:128;not null;default:''"`
	AnnouncementMessageRef string `gorm:"size:128;not null;default:''"`
	EndTime                int64  `gorm:"not null;index"` // unix seconds
	BidIncrement           int64  `gorm:"not null"`
	BidCurrent             int64  `gorm:"not null"`
	BidCount               int    `gorm:"not null;default:0"`
	LastBidderUserID       string `gorm:"size:64;not null;default:''"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// HasWinner reports whether anyone has bid on the auction.
func (a Auction) HasWinner() bool {
	return a.LastBidderUserID != NoBidder
}

// EndsAt returns EndTime as a time.Time.
func (a Auction) EndsAt() time.Time {
	return time.Unix(a.EndTime, 0)
}

// BidHistoryEntry is an accepted bid. Entries are scoped to one auction and
// removed together with it.
type BidHistoryEntry struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	AuctionID      int64  `gorm:"not null;index"`
	UserID         string `gorm:"size:64;not null"`
	BidDelta       int64  `gorm:"not null"`
	ResultingTotal int64  `gorm:"not null"`
	IsFixedAmount  bool   `gorm:"not null"`
	CreatedAt      time.Time
}

// Settlement is the durable outcome of an auction that ran out of time. It is
// written in the same transaction that removes the auction. AnnouncedAt is set
// once the thread is archived and the results are posted; DeliveredAt once
// every notification for it went out.
type Settlement struct {
	ID                     int64  `gorm:"primaryKey;autoIncrement"`
	AuctionID              int64  `gorm:"not null;uniqueIndex"`
	ResourceID             string `gorm:"size:64;not null;index"`
	WinnerUserID           string `gorm:"size:64;not null;default:''"`
	FinalBid               int64  `gorm:"not null"`
	BidCount               int    `gorm:"not null"`
	BidMessageRef          string `gorm:"size:128;not null;default:''"`
	AnnouncementMessageRef string `gorm:"size:128;not null;default:''"`
	EndTime                int64  `gorm:"not null"`
	SettledAt              time.Time
	AnnouncedAt            *time.Time
	DeliveredAt            *time.Time `gorm:"index"`
}

// HasWinner reports whether the auction closed with a winning bidder.
func (s Settlement) HasWinner() bool {
	return s.WinnerUserID != NoBidder
}
